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

// RegistrationState is a state of a [RegistrationSession].
type RegistrationState string

const (
	RegistrationStateNone       RegistrationState = "none"
	RegistrationStateInProgress RegistrationState = "in_progress"
	RegistrationStateOk         RegistrationState = "ok"
	RegistrationStateCleared    RegistrationState = "cleared"
	RegistrationStateFailed     RegistrationState = "failed"
)

func (s RegistrationState) String() string { return string(s) }

const (
	regEvtEnable   = "enable"
	regEvtProgress = "progress"
	regEvtOk       = "ok"
	regEvtFailed   = "failed"
	regEvtCleared  = "cleared"
)

// RegistrationStateHandler is called after a session changed its state.
type RegistrationStateHandler = func(ctx context.Context, sess *RegistrationSession, from, to RegistrationState)

// RegistrationSession tracks the registration of one identity on the engine.
//
// The session moves None -> InProgress when it is enabled and then follows
// the engine events: InProgress -> Ok | Failed -> Cleared. Cleared is terminal.
// Failed is not: the session can be enabled again.
type RegistrationSession struct {
	id      account.Identity
	proxy   engine.ProxyHandle
	created time.Time
	log     *slog.Logger

	mu      sync.Mutex
	fsm     *stateless.StateMachine
	lastMsg string
	lease   *Lease

	onState types.Callbacks[RegistrationStateHandler]
}

func newRegistrationSession(id account.Identity, proxy engine.ProxyHandle, logger *slog.Logger) *RegistrationSession {
	sess := &RegistrationSession{
		id:      id,
		proxy:   proxy,
		created: time.Now(),
	}
	sess.log = logger.With(slog.Any("registration", sess))
	sess.initFSM()
	return sess
}

func (s *RegistrationSession) initFSM() {
	s.fsm = stateless.NewStateMachine(RegistrationStateNone)

	s.fsm.Configure(RegistrationStateNone).
		Permit(regEvtEnable, RegistrationStateInProgress).
		Permit(regEvtCleared, RegistrationStateCleared).
		Ignore(regEvtProgress).
		Ignore(regEvtOk).
		Ignore(regEvtFailed)

	s.fsm.Configure(RegistrationStateInProgress).
		InternalTransition(regEvtEnable, s.actNoop).
		InternalTransition(regEvtProgress, s.actNoop).
		Permit(regEvtOk, RegistrationStateOk).
		Permit(regEvtFailed, RegistrationStateFailed).
		Permit(regEvtCleared, RegistrationStateCleared)

	s.fsm.Configure(RegistrationStateOk).
		Permit(regEvtEnable, RegistrationStateInProgress).
		Permit(regEvtProgress, RegistrationStateInProgress).
		InternalTransition(regEvtOk, s.actNoop).
		Permit(regEvtFailed, RegistrationStateFailed).
		Permit(regEvtCleared, RegistrationStateCleared)

	s.fsm.Configure(RegistrationStateFailed).
		Permit(regEvtEnable, RegistrationStateInProgress).
		Permit(regEvtProgress, RegistrationStateInProgress).
		Permit(regEvtOk, RegistrationStateOk).
		InternalTransition(regEvtFailed, s.actNoop).
		Permit(regEvtCleared, RegistrationStateCleared)

	s.fsm.Configure(RegistrationStateCleared).
		OnEntry(s.actCleared).
		Ignore(regEvtEnable).
		Ignore(regEvtProgress).
		Ignore(regEvtOk).
		Ignore(regEvtFailed).
		Ignore(regEvtCleared)
}

// Identity returns the registered identity.
func (s *RegistrationSession) Identity() account.Identity { return s.id }

// Address returns the identity address, the session key.
func (s *RegistrationSession) Address() string { return s.id.Address() }

// Proxy returns the engine proxy config handle of the session.
func (s *RegistrationSession) Proxy() engine.ProxyHandle { return s.proxy }

// CreatedAt returns the session creation time.
func (s *RegistrationSession) CreatedAt() time.Time { return s.created }

// State returns the current session state.
func (s *RegistrationSession) State() RegistrationState {
	if s == nil {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *RegistrationSession) state() RegistrationState {
	return s.fsm.MustState().(RegistrationState) //nolint:forcetypeassert
}

// LastMessage returns the last message reported by the engine, verbatim.
func (s *RegistrationSession) LastMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMsg
}

// Active reports whether the session has not reached the terminal Cleared state.
func (s *RegistrationSession) Active() bool {
	return s.State() != RegistrationStateCleared
}

// Polling reports whether the session keeps the engine poll loop running.
func (s *RegistrationSession) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lease.Active()
}

// Polls returns the number of engine polls performed on behalf of the session.
func (s *RegistrationSession) Polls() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lease.Polls()
}

// OnStateChanged registers a callback invoked after every state change.
func (s *RegistrationSession) OnStateChanged(fn RegistrationStateHandler) (cancel func()) {
	return s.onState.Add(fn)
}

func (s *RegistrationSession) String() string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("registration(%s, %s)", s.id.Address(), s.proxy)
}

func (s *RegistrationSession) LogValue() slog.Value {
	if s == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("address", s.id.Address()),
		slog.Any("proxy", s.proxy),
	)
}

// setLease binds the poll lease to the session, releasing the previous one.
func (s *RegistrationSession) setLease(l *Lease) {
	s.mu.Lock()
	prev := s.lease
	s.lease = l
	s.mu.Unlock()

	if prev != l {
		prev.Release()
	}
}

func (s *RegistrationSession) releaseLease() {
	s.mu.Lock()
	l := s.lease
	s.mu.Unlock()

	l.Release()
}

// enable moves the session to InProgress after the engine accepted an enable command.
func (s *RegistrationSession) enable(ctx context.Context) error {
	return errtrace.Wrap(s.fire(ctx, regEvtEnable, ""))
}

// handleEvent applies an engine registration event.
func (s *RegistrationSession) handleEvent(ctx context.Context, evt engine.RegistrationEvent) error {
	var trigger string
	switch evt.State {
	case engine.RegistrationProgress:
		trigger = regEvtProgress
	case engine.RegistrationOk:
		trigger = regEvtOk
	case engine.RegistrationFailed:
		trigger = regEvtFailed
	case engine.RegistrationCleared:
		trigger = regEvtCleared
	default:
		s.mu.Lock()
		s.lastMsg = evt.Message
		s.mu.Unlock()
		return nil
	}
	return errtrace.Wrap(s.fire(ctx, trigger, evt.Message))
}

func (s *RegistrationSession) fire(ctx context.Context, trigger, msg string) error {
	s.mu.Lock()
	from := s.state()
	if trigger != regEvtEnable {
		s.lastMsg = msg
	}
	if err := s.fsm.FireCtx(ctx, trigger); err != nil {
		s.mu.Unlock()
		return errtrace.Wrap(wrapError(ErrInvalidState, "fire %q in state %q: %w", trigger, from, err))
	}
	to := s.state()
	s.mu.Unlock()

	if from == to {
		return nil
	}

	s.log.LogAttrs(ctx, slog.LevelDebug, "registration state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("message", msg),
	)

	for fn := range s.onState.All() {
		fn(ctx, s, from, to)
	}
	return nil
}

func (s *RegistrationSession) actCleared(context.Context, ...any) error {
	// runs under s.mu
	s.lease.Release()
	return nil
}

func (*RegistrationSession) actNoop(context.Context, ...any) error { return nil }
