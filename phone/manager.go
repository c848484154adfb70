// Package phone manages SIP registrations and calls of several identities
// over one shared [engine.Engine].
//
// The [Manager] serializes every engine command and poll on one mutex, drives
// the engine with a [Poller] while sessions are alive, applies engine events
// to [RegistrationSession] and [CallSession] state machines and relays them to
// a single [Observer].
package phone

//go:generate go tool errtrace -w .

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/multisip/account"
	"github.com/ghettovoice/multisip/audio"
	"github.com/ghettovoice/multisip/engine"
	"github.com/ghettovoice/multisip/internal/errorutil"
	"github.com/ghettovoice/multisip/log"
	"github.com/ghettovoice/multisip/metrics"
)

// ManagerOptions are options of a [Manager].
type ManagerOptions struct {
	// PollInterval is the engine poll period. If zero, [DefaultPollInterval] is used.
	PollInterval time.Duration
	// Metrics records lifecycle metrics. Optional.
	Metrics *metrics.Metrics
	// Audio is the platform audio route provider. Optional.
	// Without it [Manager.SetSpeakerEnabled] fails with [ErrAudioUnavailable].
	Audio audio.RouteProvider
	// Log is the logger used by the manager.
	// If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *ManagerOptions) pollInterval() time.Duration {
	if o == nil {
		return 0
	}
	return o.PollInterval
}

func (o *ManagerOptions) metrics() *metrics.Metrics {
	if o == nil {
		return nil
	}
	return o.Metrics
}

func (o *ManagerOptions) audio() audio.RouteProvider {
	if o == nil {
		return nil
	}
	return o.Audio
}

func (o *ManagerOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// retiredSession is an unregistered session awaiting its Cleared event.
// The lease keeps the engine polled until then.
type retiredSession struct {
	sess  *RegistrationSession
	lease *Lease
}

// Manager coordinates registrations and calls of several identities on one engine.
type Manager struct {
	eng     engine.Engine
	log     *slog.Logger
	metrics *metrics.Metrics
	audio   *audio.Router
	poller  *Poller
	reg     *Registry
	disp    Dispatcher

	// mu serializes engine commands and polls.
	mu           sync.Mutex
	closed       bool
	outbox       []Event
	retired      map[engine.ProxyHandle]retiredSession
	calls        map[engine.CallHandle]*CallSession
	activeCall   *CallSession
	cancelEvents func()
}

// NewManager creates a manager owning eng.
func NewManager(eng engine.Engine, opts *ManagerOptions) (*Manager, error) {
	if eng == nil {
		return nil, errtrace.Wrap(newInvalidArgumentError("nil engine"))
	}

	m := &Manager{
		eng:     eng,
		log:     opts.log(),
		metrics: opts.metrics(),
		retired: make(map[engine.ProxyHandle]retiredSession),
		calls:   make(map[engine.CallHandle]*CallSession),
	}
	if rp := opts.audio(); rp != nil {
		m.audio = audio.NewRouter(rp, m.log)
	}
	m.poller = NewPoller(m.pollOnce, &PollerOptions{
		Interval: opts.pollInterval(),
		Log:      m.log,
	})
	m.reg = NewRegistry(eng, m.poller, &RegistryOptions{Log: m.log})
	m.cancelEvents = eng.OnEvent(m.handleEngineEvent)
	return m, nil
}

// Register adds the identity and starts its registration.
// The returned session is InProgress; the outcome arrives as events.
func (m *Manager) Register(ctx context.Context, id account.Identity) (*RegistrationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errtrace.Wrap(ErrManagerClosed)
	}

	sess, err := m.reg.Add(ctx, id)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	sess.OnStateChanged(func(_ context.Context, _ *RegistrationSession, _, to RegistrationState) {
		m.metrics.RegistrationTransition(to.String())
	})
	m.metrics.RegistrationTransition(sess.State().String())
	m.updateGauges()
	return sess, nil
}

// Unregister disables the registration of the address and forgets it.
// The final Cleared event is still delivered to the observer.
func (m *Manager) Unregister(ctx context.Context, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errtrace.Wrap(ErrManagerClosed)
	}

	sess, _ := m.reg.Lookup(addr)
	if err := m.reg.Remove(ctx, addr); err != nil {
		m.updateGauges()
		return errtrace.Wrap(err)
	}
	if sess.Active() {
		m.retired[sess.Proxy()] = retiredSession{sess: sess, lease: m.poller.Acquire()}
	}
	m.updateGauges()
	return nil
}

// Retry re-issues the registration of a failed or registered address.
func (m *Manager) Retry(ctx context.Context, addr string) (*RegistrationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errtrace.Wrap(ErrManagerClosed)
	}
	return errtrace.Wrap2(m.reg.Retry(ctx, addr))
}

// MakeCall places a call from a registered identity to peer.
//
// Only one call may be active at a time. The engine default proxy config is
// switched to the caller's one before the invite.
func (m *Manager) MakeCall(ctx context.Context, from account.Identity, peer string) (*CallSession, error) {
	peerAddr, err := account.ParseAddress(peer)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if !from.IsValid() {
		return nil, errtrace.Wrap(wrapError(ErrAddressParseFailed, "invalid identity %q", from.String()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errtrace.Wrap(ErrManagerClosed)
	}

	sess, ok := m.reg.Lookup(from.Address())
	if !ok || !sess.Active() {
		return nil, errtrace.Wrap(wrapError(ErrNoActiveRegistration, "address %q", from.Address()))
	}
	if m.activeCall != nil && m.activeCall.Active() {
		return nil, errtrace.Wrap(wrapError(ErrCallInProgress, "%s", m.activeCall))
	}
	// finished calls whose Released event never came
	maps.DeleteFunc(m.calls, func(_ engine.CallHandle, c *CallSession) bool { return !c.Active() })

	if err := m.eng.SetDefaultProxy(sess.Proxy()); err != nil {
		return nil, errtrace.Wrap(wrapError(ErrNoActiveRegistration, "set default proxy %s: %w", sess.Proxy(), err))
	}
	h, err := m.eng.Invite(ctx, peerAddr)
	if err == nil && !h.IsValid() {
		err = engine.ErrNoHandle
	}
	if err != nil {
		m.metrics.IncrementInviteFailures()
		return nil, errtrace.Wrap(wrapError(ErrInviteFailed, "invite %q: %w", peerAddr, err))
	}

	call := newCallSession(h, sess.Identity(), peerAddr, m.log)
	call.OnStateChanged(func(_ context.Context, _ *CallSession, _, to CallState) {
		m.metrics.CallTransition(to.String())
	})
	call.setLease(m.poller.Acquire())
	if err := call.invite(ctx); err != nil {
		call.releaseLease()
		return nil, errtrace.Wrap(err)
	}
	m.calls[h] = call
	m.activeCall = call
	m.updateGauges()

	m.log.LogAttrs(ctx, slog.LevelDebug, "call placed", slog.Any("call", call))
	return call, nil
}

// TerminateCall is reserved for hanging up the active call.
// It always fails with [ErrNotImplemented] and does not touch the engine.
func (*Manager) TerminateCall(context.Context) error {
	return errtrace.Wrap(ErrNotImplemented)
}

// Lookup returns the registration session of the address.
func (m *Manager) Lookup(addr string) (*RegistrationSession, bool) {
	return m.reg.Lookup(addr)
}

// Registrations returns a snapshot of the registration sessions ordered by address.
func (m *Manager) Registrations() []*RegistrationSession {
	return m.reg.All()
}

// ActiveCall returns the call occupying the call slot.
func (m *Manager) ActiveCall() (*CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCall == nil || !m.activeCall.Active() {
		return nil, false
	}
	return m.activeCall, true
}

// SetObserver replaces the event observer. Nil drops subsequent events.
func (m *Manager) SetObserver(obs Observer) {
	m.disp.SetObserver(obs)
}

// Polling reports whether the engine poll loop is running.
func (m *Manager) Polling() bool { return m.poller.Running() }

// SetSpeakerEnabled routes call audio to the speaker or back to the built-in devices.
func (m *Manager) SetSpeakerEnabled(ctx context.Context, enabled bool) error {
	if m.audio == nil {
		return errtrace.Wrap(ErrAudioUnavailable)
	}

	m.mu.Lock()
	n := m.eng.CallsCount()
	m.mu.Unlock()

	return errtrace.Wrap(m.audio.SetSpeakerEnabled(ctx, enabled, n))
}

// SetMicEnabled mutes or unmutes the microphone.
func (m *Manager) SetMicEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eng.SetMicEnabled(enabled)
}

// Close unregisters every identity, stops polling and closes the engine.
// It must not be called from an [Observer].
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	errs := []error{m.reg.Clear(ctx)}
	m.closed = true
	m.cancelEvents()
	for _, call := range m.calls {
		call.releaseLease()
	}
	clear(m.calls)
	for _, r := range m.retired {
		r.lease.Release()
	}
	clear(m.retired)
	m.activeCall = nil
	m.outbox = nil
	m.updateGauges()
	m.mu.Unlock()

	m.poller.Stop()
	errs = append(errs, m.eng.Close())

	m.log.LogAttrs(ctx, slog.LevelDebug, "manager closed")
	return errtrace.Wrap(errorutil.JoinPrefix("close manager", errs...))
}

func (m *Manager) pollOnce(ctx context.Context) {
	start := time.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.eng.Poll(ctx)
	out := m.outbox
	m.outbox = nil
	m.updateGauges()
	m.mu.Unlock()

	m.metrics.ObservePoll(start)

	for _, evt := range out {
		if !m.disp.Dispatch(ctx, evt) {
			m.log.LogAttrs(ctx, slog.LevelDebug, "event dropped", slog.Any("event", evt))
		}
	}
}

// handleEngineEvent runs inside engine.Poll, under m.mu.
func (m *Manager) handleEngineEvent(ctx context.Context, evt engine.Event) {
	switch evt := evt.(type) {
	case engine.RegistrationEvent:
		m.outbox = append(m.outbox, m.routeRegistrationEvent(ctx, evt))
	case engine.CallEvent:
		m.outbox = append(m.outbox, m.routeCallEvent(ctx, evt))
	}
}

func (m *Manager) routeRegistrationEvent(ctx context.Context, evt engine.RegistrationEvent) RegistrationEvent {
	out := RegistrationEvent{RegistrationEvent: evt}

	sess, ok := m.reg.SessionByProxy(evt.Proxy)
	retired, isRetired := m.retired[evt.Proxy]
	if !ok && isRetired {
		sess, ok = retired.sess, true
	}
	if !ok {
		return out
	}

	out.Address = sess.Address()
	out.Session = sess
	if err := sess.handleEvent(ctx, evt); err != nil {
		m.log.LogAttrs(ctx, slog.LevelWarn, "failed to apply registration event",
			slog.Any("event", evt),
			slog.Any("error", err),
		)
	}
	if isRetired && !retired.sess.Active() {
		retired.lease.Release()
		delete(m.retired, evt.Proxy)
	}
	return out
}

func (m *Manager) routeCallEvent(ctx context.Context, evt engine.CallEvent) CallEvent {
	out := CallEvent{CallEvent: evt}

	call, ok := m.calls[evt.Call]
	if !ok {
		return out
	}

	out.Session = call
	if err := call.handleEvent(ctx, evt); err != nil {
		m.log.LogAttrs(ctx, slog.LevelWarn, "failed to apply call event",
			slog.Any("event", evt),
			slog.Any("error", err),
		)
	}
	if m.activeCall == call && !call.Active() {
		m.activeCall = nil
	}
	if call.State() == CallStateReleased {
		delete(m.calls, evt.Call)
	}
	return out
}

func (m *Manager) updateGauges() {
	if m.metrics == nil {
		return
	}

	var n int
	for _, sess := range m.reg.All() {
		if sess.Active() {
			n++
		}
	}
	m.metrics.SetRegistrations(n)

	if m.activeCall != nil && m.activeCall.Active() {
		m.metrics.SetActiveCalls(1)
	} else {
		m.metrics.SetActiveCalls(0)
	}
}
