package phone

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/ghettovoice/multisip/engine"
)

// Event is a [RegistrationEvent] or a [CallEvent].
type Event interface {
	slog.LogValuer
	phoneEvent()
}

// RegistrationEvent is an engine registration event routed to its session.
// Session is nil for proxies unknown to the manager.
type RegistrationEvent struct {
	engine.RegistrationEvent
	Address string
	Session *RegistrationSession
}

func (RegistrationEvent) phoneEvent() {}

func (e RegistrationEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("address", e.Address),
		slog.Any("proxy", e.Proxy),
		slog.Any("state", e.State),
		slog.String("message", e.Message),
	)
}

// CallEvent is an engine call event routed to its session.
// Session is nil for calls not placed through the manager, e.g. incoming calls.
type CallEvent struct {
	engine.CallEvent
	Session *CallSession
}

func (CallEvent) phoneEvent() {}

func (e CallEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("call", e.Call),
		slog.Any("state", e.State),
		slog.String("message", e.Message),
		slog.String("reason", e.Reason),
	)
}

// Observer receives registration and call events.
// Methods are invoked synchronously on the poll goroutine.
type Observer interface {
	OnRegistrationEvent(ctx context.Context, evt RegistrationEvent)
	OnCallEvent(ctx context.Context, evt CallEvent)
}

// ObserverFuncs adapts plain functions to [Observer]. Nil fields are skipped.
type ObserverFuncs struct {
	Registration func(ctx context.Context, evt RegistrationEvent)
	Call         func(ctx context.Context, evt CallEvent)
}

func (o ObserverFuncs) OnRegistrationEvent(ctx context.Context, evt RegistrationEvent) {
	if o.Registration != nil {
		o.Registration(ctx, evt)
	}
}

func (o ObserverFuncs) OnCallEvent(ctx context.Context, evt CallEvent) {
	if o.Call != nil {
		o.Call(ctx, evt)
	}
}

// Dispatcher holds a single observer slot.
// The zero value is ready to use and drops every event.
type Dispatcher struct {
	obs atomic.Pointer[observerBox]
}

type observerBox struct{ Observer }

// SetObserver replaces the observer. Nil clears the slot.
func (d *Dispatcher) SetObserver(obs Observer) {
	if obs == nil {
		d.obs.Store(nil)
		return
	}
	d.obs.Store(&observerBox{obs})
}

// Observer returns the current observer or nil.
func (d *Dispatcher) Observer() Observer {
	if b := d.obs.Load(); b != nil {
		return b.Observer
	}
	return nil
}

// Dispatch delivers the event to the observer on the calling goroutine.
// It reports whether an observer received the event.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) bool {
	obs := d.Observer()
	if obs == nil {
		return false
	}

	switch evt := evt.(type) {
	case RegistrationEvent:
		obs.OnRegistrationEvent(ctx, evt)
	case CallEvent:
		obs.OnCallEvent(ctx, evt)
	default:
		return false
	}
	return true
}
