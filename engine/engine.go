// Package engine defines the contract of a SIP engine driven by multisip.
//
// An engine owns all SIP signaling: registrations, calls, media and NAT
// traversal. It is cooperative: commands are issued synchronously, while
// their outcome is reported later as [Event] values delivered from [Engine.Poll].
// An engine is not safe for concurrent use; callers serialize every command
// and poll on one execution context.
package engine

//go:generate go tool errtrace -w .
//go:generate go tool mockgen -destination=enginemock/engine.go -package=enginemock . Engine

import (
	"context"

	"github.com/ghettovoice/multisip/account"
	"github.com/ghettovoice/multisip/internal/errorutil"
)

// Engine errors.
const (
	// ErrNoHandle is returned when the engine could not create a proxy or call.
	ErrNoHandle errorutil.Error = "engine returned no handle"
	// ErrUnknownHandle is returned for handles the engine does not know.
	ErrUnknownHandle errorutil.Error = "unknown engine handle"
	// ErrEngineClosed is returned when the engine is used after Close.
	ErrEngineClosed errorutil.Error = "engine closed"
	// ErrNoDefaultProxy is returned by Invite when no default proxy is set.
	ErrNoDefaultProxy errorutil.Error = "no default proxy"
)

// Engine is a SIP signaling core.
type Engine interface {
	// CreateProxy creates a proxy config for the identity and enables its registration.
	CreateProxy(ctx context.Context, id account.Identity) (ProxyHandle, error)
	// EnableProxy re-enables registration of an existing proxy config.
	EnableProxy(ctx context.Context, h ProxyHandle) error
	// DisableProxy disables registration of the proxy config, un-registering it.
	DisableProxy(ctx context.Context, h ProxyHandle) error
	// SetDefaultProxy selects the proxy config used by Invite.
	SetDefaultProxy(h ProxyHandle) error
	// Invite places an outgoing call to addr through the default proxy config.
	Invite(ctx context.Context, addr string) (CallHandle, error)
	// Poll lets the engine process pending work and fire event handlers.
	// Handlers are invoked synchronously before Poll returns.
	Poll(ctx context.Context)
	// OnEvent registers a handler for engine events.
	OnEvent(fn EventHandler) (cancel func())
	// CallsCount returns the number of calls the engine currently holds.
	CallsCount() int
	// SetMicEnabled mutes or unmutes the microphone.
	SetMicEnabled(enabled bool)
	// Close releases the engine. Pending registrations are not cleared.
	Close() error
}
