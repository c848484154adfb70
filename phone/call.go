package phone

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/multisip/account"
	"github.com/ghettovoice/multisip/engine"
	"github.com/ghettovoice/multisip/internal/types"
)

// CallState is a state of a [CallSession].
type CallState string

const (
	CallStateIdle         CallState = "idle"
	CallStateOutgoingInit CallState = "outgoing_init"
	CallStateRinging      CallState = "ringing"
	CallStateConnected    CallState = "connected"
	CallStateError        CallState = "error"
	CallStateEnded        CallState = "ended"
	CallStateReleased     CallState = "released"
)

func (s CallState) String() string { return string(s) }

const (
	callEvtInvite    = "invite"
	callEvtProgress  = "progress"
	callEvtRinging   = "ringing"
	callEvtConnected = "connected"
	callEvtError     = "error"
	callEvtEnd       = "end"
	callEvtReleased  = "released"
)

// CallStateHandler is called after a call session changed its state.
type CallStateHandler = func(ctx context.Context, call *CallSession, from, to CallState)

// CallSession tracks one outgoing call placed through the engine.
type CallSession struct {
	handle  engine.CallHandle
	from    account.Identity
	peer    string
	created time.Time
	log     *slog.Logger

	mu         sync.Mutex
	fsm        *stateless.StateMachine
	lastMsg    string
	lastReason string
	lease      *Lease

	onState types.Callbacks[CallStateHandler]
}

func newCallSession(handle engine.CallHandle, from account.Identity, peer string, logger *slog.Logger) *CallSession {
	call := &CallSession{
		handle:  handle,
		from:    from,
		peer:    peer,
		created: time.Now(),
	}
	call.log = logger.With(slog.Any("call", call))
	call.initFSM()
	return call
}

func (c *CallSession) initFSM() {
	c.fsm = stateless.NewStateMachine(CallStateIdle)

	c.fsm.Configure(CallStateIdle).
		Permit(callEvtInvite, CallStateOutgoingInit).
		Permit(callEvtReleased, CallStateReleased).
		Ignore(callEvtProgress).
		Ignore(callEvtRinging).
		Ignore(callEvtConnected).
		Ignore(callEvtError).
		Ignore(callEvtEnd)

	c.fsm.Configure(CallStateOutgoingInit).
		InternalTransition(callEvtInvite, c.actNoop).
		InternalTransition(callEvtProgress, c.actNoop).
		Permit(callEvtRinging, CallStateRinging).
		Permit(callEvtConnected, CallStateConnected).
		Permit(callEvtError, CallStateError).
		Permit(callEvtEnd, CallStateEnded).
		Permit(callEvtReleased, CallStateReleased)

	c.fsm.Configure(CallStateRinging).
		Ignore(callEvtInvite).
		InternalTransition(callEvtProgress, c.actNoop).
		InternalTransition(callEvtRinging, c.actNoop).
		Permit(callEvtConnected, CallStateConnected).
		Permit(callEvtError, CallStateError).
		Permit(callEvtEnd, CallStateEnded).
		Permit(callEvtReleased, CallStateReleased)

	c.fsm.Configure(CallStateConnected).
		Ignore(callEvtInvite).
		Ignore(callEvtProgress).
		Ignore(callEvtRinging).
		InternalTransition(callEvtConnected, c.actNoop).
		Permit(callEvtError, CallStateError).
		Permit(callEvtEnd, CallStateEnded).
		Permit(callEvtReleased, CallStateReleased)

	c.fsm.Configure(CallStateError).
		OnEntry(c.actFinished).
		Ignore(callEvtInvite).
		Ignore(callEvtProgress).
		Ignore(callEvtRinging).
		Ignore(callEvtConnected).
		InternalTransition(callEvtError, c.actNoop).
		Permit(callEvtEnd, CallStateEnded).
		Permit(callEvtReleased, CallStateReleased)

	c.fsm.Configure(CallStateEnded).
		OnEntry(c.actFinished).
		Ignore(callEvtInvite).
		Ignore(callEvtProgress).
		Ignore(callEvtRinging).
		Ignore(callEvtConnected).
		Ignore(callEvtError).
		InternalTransition(callEvtEnd, c.actNoop).
		Permit(callEvtReleased, CallStateReleased)

	c.fsm.Configure(CallStateReleased).
		OnEntry(c.actFinished).
		Ignore(callEvtInvite).
		Ignore(callEvtProgress).
		Ignore(callEvtRinging).
		Ignore(callEvtConnected).
		Ignore(callEvtError).
		Ignore(callEvtEnd).
		Ignore(callEvtReleased)
}

// Handle returns the engine call handle.
func (c *CallSession) Handle() engine.CallHandle { return c.handle }

// From returns the identity the call was placed from.
func (c *CallSession) From() account.Identity { return c.from }

// Peer returns the remote address.
func (c *CallSession) Peer() string { return c.peer }

// CreatedAt returns the call creation time.
func (c *CallSession) CreatedAt() time.Time { return c.created }

// State returns the current call state.
func (c *CallSession) State() CallState {
	if c == nil {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *CallSession) state() CallState {
	return c.fsm.MustState().(CallState) //nolint:forcetypeassert
}

// LastMessage returns the last message reported by the engine.
func (c *CallSession) LastMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMsg
}

// LastReason returns the last non-empty termination reason reported by the engine.
func (c *CallSession) LastReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReason
}

// Active reports whether the call still occupies the call slot.
func (c *CallSession) Active() bool {
	switch c.State() {
	case CallStateError, CallStateEnded, CallStateReleased, "":
		return false
	default:
		return true
	}
}

// Polls returns the number of engine polls performed on behalf of the call.
func (c *CallSession) Polls() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lease.Polls()
}

// OnStateChanged registers a callback invoked after every state change.
func (c *CallSession) OnStateChanged(fn CallStateHandler) (cancel func()) {
	return c.onState.Add(fn)
}

func (c *CallSession) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("call(%s, %s -> %s)", c.handle, c.from.Address(), c.peer)
}

func (c *CallSession) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.Any("handle", c.handle),
		slog.String("from", c.from.Address()),
		slog.String("peer", c.peer),
	)
}

func (c *CallSession) setLease(l *Lease) {
	c.mu.Lock()
	prev := c.lease
	c.lease = l
	c.mu.Unlock()

	if prev != l {
		prev.Release()
	}
}

func (c *CallSession) releaseLease() {
	c.mu.Lock()
	l := c.lease
	c.mu.Unlock()

	l.Release()
}

// invite moves the session to OutgoingInit after the engine accepted the invite.
func (c *CallSession) invite(ctx context.Context) error {
	return errtrace.Wrap(c.fire(ctx, callEvtInvite, "", ""))
}

// handleEvent applies an engine call event.
func (c *CallSession) handleEvent(ctx context.Context, evt engine.CallEvent) error {
	var trigger string
	switch evt.State {
	case engine.CallOutgoingInit, engine.CallOutgoingProgress:
		trigger = callEvtProgress
	case engine.CallOutgoingRinging:
		trigger = callEvtRinging
	case engine.CallConnected, engine.CallStreamsRunning:
		trigger = callEvtConnected
	case engine.CallError:
		trigger = callEvtError
	case engine.CallEnd:
		trigger = callEvtEnd
	case engine.CallReleased:
		trigger = callEvtReleased
	default:
		c.mu.Lock()
		c.setMessage(evt.Message, evt.Reason)
		c.mu.Unlock()
		return nil
	}
	return errtrace.Wrap(c.fire(ctx, trigger, evt.Message, evt.Reason))
}

func (c *CallSession) setMessage(msg, reason string) {
	c.lastMsg = msg
	if reason != "" {
		c.lastReason = reason
	}
}

func (c *CallSession) fire(ctx context.Context, trigger, msg, reason string) error {
	c.mu.Lock()
	from := c.state()
	if trigger != callEvtInvite {
		c.setMessage(msg, reason)
	}
	if err := c.fsm.FireCtx(ctx, trigger); err != nil {
		c.mu.Unlock()
		return errtrace.Wrap(wrapError(ErrInvalidState, "fire %q in state %q: %w", trigger, from, err))
	}
	to := c.state()
	c.mu.Unlock()

	if from == to {
		return nil
	}

	c.log.LogAttrs(ctx, slog.LevelDebug, "call state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("message", msg),
		slog.String("reason", reason),
	)

	for fn := range c.onState.All() {
		fn(ctx, c, from, to)
	}
	return nil
}

func (c *CallSession) actFinished(context.Context, ...any) error {
	// runs under c.mu
	c.lease.Release()
	return nil
}

func (*CallSession) actNoop(context.Context, ...any) error { return nil }
