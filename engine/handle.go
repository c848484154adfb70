package engine

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

var (
	proxySeq atomic.Uint64
	callSeq  atomic.Uint64
)

// ProxyHandle identifies a proxy config (registration) inside an engine.
// The zero value is invalid.
type ProxyHandle struct{ id uint64 }

// NewProxyHandle allocates a process-unique proxy handle.
func NewProxyHandle() ProxyHandle { return ProxyHandle{proxySeq.Add(1)} }

// IsValid reports whether h was allocated with [NewProxyHandle].
func (h ProxyHandle) IsValid() bool { return h.id != 0 }

func (h ProxyHandle) String() string {
	if !h.IsValid() {
		return "proxy(nil)"
	}
	return fmt.Sprintf("proxy(%d)", h.id)
}

func (h ProxyHandle) LogValue() slog.Value { return slog.StringValue(h.String()) }

// CallHandle identifies a call inside an engine.
// The zero value is invalid.
type CallHandle struct{ id uint64 }

// NewCallHandle allocates a process-unique call handle.
func NewCallHandle() CallHandle { return CallHandle{callSeq.Add(1)} }

// IsValid reports whether h was allocated with [NewCallHandle].
func (h CallHandle) IsValid() bool { return h.id != 0 }

func (h CallHandle) String() string {
	if !h.IsValid() {
		return "call(nil)"
	}
	return fmt.Sprintf("call(%d)", h.id)
}

func (h CallHandle) LogValue() slog.Value { return slog.StringValue(h.String()) }
