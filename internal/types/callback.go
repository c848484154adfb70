// Package types holds generic building blocks used across multisip.
package types

import (
	"container/list"
	"iter"
	"sync"
)

// Callbacks is an ordered set of callbacks.
// Callbacks are invoked in registration order; each registration returns
// a function that removes it.
type Callbacks[T any] struct {
	mu     sync.RWMutex
	byID   map[uint64]*list.Element
	order  *list.List
	nextID uint64
}

type callbackEntry[T any] struct {
	id uint64
	fn T
}

// Len returns the number of registered callbacks.
func (c *Callbacks[T]) Len() int {
	if c == nil {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Add registers fn. The returned function is idempotent.
func (c *Callbacks[T]) Add(fn T) (remove func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	if c.byID == nil {
		c.byID = make(map[uint64]*list.Element)
		c.order = list.New()
	}
	c.byID[id] = c.order.PushBack(&callbackEntry[T]{id, fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if el, ok := c.byID[id]; ok {
				c.order.Remove(el)
				delete(c.byID, id)
			}
			c.mu.Unlock()
		})
	}
}

// All iterates over a snapshot of the registered callbacks,
// so callbacks may add or remove registrations while being iterated.
func (c *Callbacks[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if c == nil {
			return
		}

		c.mu.RLock()
		if c.order == nil {
			c.mu.RUnlock()
			return
		}
		fns := make([]T, 0, c.order.Len())
		for el := c.order.Front(); el != nil; el = el.Next() {
			fns = append(fns, el.Value.(*callbackEntry[T]).fn) //nolint:forcetypeassert
		}
		c.mu.RUnlock()

		for _, fn := range fns {
			if !yield(fn) {
				return
			}
		}
	}
}
