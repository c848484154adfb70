// Package syncutil contains small concurrency-safe containers.
package syncutil

import (
	"maps"
	"slices"
	"sync"
)

// RWMap is a map protected by a [sync.RWMutex].
// The zero value is ready to use.
type RWMap[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

func (m *RWMap[K, V]) Get(key K) (V, bool) {
	if m == nil {
		var zero V
		return zero, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *RWMap[K, V]) Set(key K, val V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[K]V)
	}
	m.data[key] = val
}

// DelIf deletes key only when match reports true for the stored value.
func (m *RWMap[K, V]) DelIf(key K, match func(cur V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.data[key]; ok && match(cur) {
		delete(m.data, key)
		return true
	}
	return false
}

func (m *RWMap[K, V]) Len() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Values returns a snapshot of the stored values in unspecified order.
func (m *RWMap[K, V]) Values() []V {
	if m == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Collect(maps.Values(m.data))
}
