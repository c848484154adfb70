// Package enginetest provides an in-memory [engine.Engine] for tests.
package enginetest

import (
	"context"
	"sync"

	"braces.dev/errtrace"

	"github.com/ghettovoice/multisip/account"
	"github.com/ghettovoice/multisip/engine"
	"github.com/ghettovoice/multisip/internal/types"
)

// Fake is a scripted engine. Events are queued with [Fake.Emit] (or
// automatically when Auto is set) and delivered by [Fake.Poll].
// All methods are safe for concurrent use.
type Fake struct {
	// Auto makes the fake answer commands like a healthy registrar:
	// create/enable -> progress, ok; disable -> cleared;
	// invite -> outgoing progress, ringing.
	Auto bool
	// CreateErr, EnableErr, DisableErr and InviteErr are returned by the matching commands when set.
	CreateErr, EnableErr, DisableErr, InviteErr error
	// NoCallHandle makes Invite return the zero handle without an error.
	NoCallHandle bool

	mu        sync.Mutex
	proxies   map[engine.ProxyHandle]account.Identity
	calls     map[engine.CallHandle]string
	defProxy  engine.ProxyHandle
	created   []account.Identity
	enabled   []engine.ProxyHandle
	disabled  []engine.ProxyHandle
	invited   []string
	polls     int
	micOn     bool
	closed    bool
	pending   types.Queue[engine.Event]
	callbacks types.Callbacks[engine.EventHandler]
}

var _ engine.Engine = (*Fake)(nil)

// New creates a fake engine.
func New() *Fake {
	return &Fake{
		proxies: make(map[engine.ProxyHandle]account.Identity),
		calls:   make(map[engine.CallHandle]string),
		micOn:   true,
	}
}

func (f *Fake) CreateProxy(_ context.Context, id account.Identity) (engine.ProxyHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return engine.ProxyHandle{}, errtrace.Wrap(engine.ErrEngineClosed)
	}
	if f.CreateErr != nil {
		return engine.ProxyHandle{}, errtrace.Wrap(f.CreateErr)
	}

	h := engine.NewProxyHandle()
	f.proxies[h] = id
	f.created = append(f.created, id)
	f.autoRegister(h)
	return h, nil
}

func (f *Fake) EnableProxy(_ context.Context, h engine.ProxyHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkProxy(h); err != nil {
		return errtrace.Wrap(err)
	}
	if f.EnableErr != nil {
		return errtrace.Wrap(f.EnableErr)
	}
	f.enabled = append(f.enabled, h)
	f.autoRegister(h)
	return nil
}

func (f *Fake) DisableProxy(_ context.Context, h engine.ProxyHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkProxy(h); err != nil {
		return errtrace.Wrap(err)
	}
	if f.DisableErr != nil {
		return errtrace.Wrap(f.DisableErr)
	}
	f.disabled = append(f.disabled, h)
	if f.Auto {
		f.pending.Push(engine.RegistrationEvent{Proxy: h, State: engine.RegistrationCleared, Message: "Unregistration done"})
	}
	return nil
}

func (f *Fake) SetDefaultProxy(h engine.ProxyHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkProxy(h); err != nil {
		return errtrace.Wrap(err)
	}
	f.defProxy = h
	return nil
}

func (f *Fake) Invite(_ context.Context, addr string) (engine.CallHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return engine.CallHandle{}, errtrace.Wrap(engine.ErrEngineClosed)
	}
	if !f.defProxy.IsValid() {
		return engine.CallHandle{}, errtrace.Wrap(engine.ErrNoDefaultProxy)
	}
	f.invited = append(f.invited, addr)
	if f.InviteErr != nil {
		return engine.CallHandle{}, errtrace.Wrap(f.InviteErr)
	}
	if f.NoCallHandle {
		return engine.CallHandle{}, nil
	}

	h := engine.NewCallHandle()
	f.calls[h] = addr
	if f.Auto {
		f.pending.Push(engine.CallEvent{Call: h, State: engine.CallOutgoingInit, Message: "Starting outgoing call"})
		f.pending.Push(engine.CallEvent{Call: h, State: engine.CallOutgoingProgress, Message: "Outgoing call in progress"})
		f.pending.Push(engine.CallEvent{Call: h, State: engine.CallOutgoingRinging, Message: "Remote ringing"})
	}
	return h, nil
}

// Poll delivers every queued event to the registered handlers.
func (f *Fake) Poll(ctx context.Context) {
	f.mu.Lock()
	f.polls++
	f.mu.Unlock()

	for _, evt := range f.pending.Drain() {
		if ce, ok := evt.(engine.CallEvent); ok && ce.State == engine.CallReleased {
			f.mu.Lock()
			delete(f.calls, ce.Call)
			f.mu.Unlock()
		}
		for fn := range f.callbacks.All() {
			fn(ctx, evt)
		}
	}
}

func (f *Fake) OnEvent(fn engine.EventHandler) (cancel func()) {
	return f.callbacks.Add(fn)
}

func (f *Fake) CallsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *Fake) SetMicEnabled(enabled bool) {
	f.mu.Lock()
	f.micOn = enabled
	f.mu.Unlock()
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Emit queues events for delivery on the next poll.
func (f *Fake) Emit(evts ...engine.Event) {
	for _, evt := range evts {
		f.pending.Push(evt)
	}
}

// Pending returns the number of queued events.
func (f *Fake) Pending() int { return f.pending.Len() }

// Created returns identities passed to CreateProxy.
func (f *Fake) Created() []account.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]account.Identity(nil), f.created...)
}

// Enabled returns handles passed to EnableProxy.
func (f *Fake) Enabled() []engine.ProxyHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.ProxyHandle(nil), f.enabled...)
}

// Disabled returns handles passed to DisableProxy.
func (f *Fake) Disabled() []engine.ProxyHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.ProxyHandle(nil), f.disabled...)
}

// Invited returns addresses passed to Invite.
func (f *Fake) Invited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invited...)
}

// DefaultProxy returns the handle last passed to SetDefaultProxy.
func (f *Fake) DefaultProxy() engine.ProxyHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defProxy
}

// Identity returns the identity of a proxy handle.
func (f *Fake) Identity(h engine.ProxyHandle) (account.Identity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.proxies[h]
	return id, ok
}

// Polls returns how many times Poll was called.
func (f *Fake) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// MicEnabled reports the last value passed to SetMicEnabled.
func (f *Fake) MicEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.micOn
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) checkProxy(h engine.ProxyHandle) error {
	if f.closed {
		return engine.ErrEngineClosed
	}
	if _, ok := f.proxies[h]; !ok {
		return engine.ErrUnknownHandle
	}
	return nil
}

func (f *Fake) autoRegister(h engine.ProxyHandle) {
	if !f.Auto {
		return
	}
	f.pending.Push(engine.RegistrationEvent{Proxy: h, State: engine.RegistrationProgress, Message: "Registration in progress"})
	f.pending.Push(engine.RegistrationEvent{Proxy: h, State: engine.RegistrationOk, Message: "Registration successful"})
}
