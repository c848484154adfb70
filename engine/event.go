package engine

import (
	"context"
	"log/slog"
)

// Event is a state change reported by an engine.
// It is either a [RegistrationEvent] or a [CallEvent].
type Event interface {
	slog.LogValuer
	isEvent()
}

// EventHandler handles engine events.
type EventHandler = func(ctx context.Context, evt Event)

// RegistrationEvent reports a registration state change of a proxy config.
type RegistrationEvent struct {
	Proxy   ProxyHandle
	State   RegistrationState
	Message string
}

func (RegistrationEvent) isEvent() {}

func (e RegistrationEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", "registration"),
		slog.Any("proxy", e.Proxy),
		slog.String("state", e.State.String()),
		slog.String("message", e.Message),
	)
}

// CallEvent reports a state change of a call.
type CallEvent struct {
	Call    CallHandle
	State   CallState
	Message string
	// Reason is the failure reason for error and end states, if known.
	Reason string
}

func (CallEvent) isEvent() {}

func (e CallEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", "call"),
		slog.Any("call", e.Call),
		slog.String("state", e.State.String()),
		slog.String("message", e.Message),
		slog.String("reason", e.Reason),
	)
}
