package phone

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"braces.dev/errtrace"

	"github.com/ghettovoice/multisip/account"
	"github.com/ghettovoice/multisip/engine"
	"github.com/ghettovoice/multisip/internal/errorutil"
	"github.com/ghettovoice/multisip/internal/syncutil"
	"github.com/ghettovoice/multisip/log"
)

// RegistryOptions are options of a [Registry].
type RegistryOptions struct {
	// Log is the logger used by the registry and its sessions.
	// If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *RegistryOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// Registry maps identity addresses to registration sessions.
//
// Add, Remove and Retry issue engine commands and must be serialized with
// every other use of the engine. Lookups are safe for concurrent use.
type Registry struct {
	eng    engine.Engine
	poller *Poller
	log    *slog.Logger

	mu      sync.Mutex
	byAddr  syncutil.RWMap[string, *RegistrationSession]
	byProxy syncutil.RWMap[engine.ProxyHandle, *RegistrationSession]
}

// NewRegistry creates a registry issuing commands to eng.
// Sessions keep the poller running while they are active.
func NewRegistry(eng engine.Engine, poller *Poller, opts *RegistryOptions) *Registry {
	return &Registry{
		eng:    eng,
		poller: poller,
		log:    opts.log(),
	}
}

// Add creates a proxy config for the identity and starts its registration.
//
// An active session for the same address makes Add fail with [ErrAlreadyExists]
// without touching the engine. A session that reached
// [RegistrationStateCleared] is replaced by a new one.
func (r *Registry) Add(ctx context.Context, id account.Identity) (*RegistrationSession, error) {
	if !id.IsValid() {
		return nil, errtrace.Wrap(wrapError(ErrAddressParseFailed, "invalid identity %q", id.String()))
	}

	addr := id.Address()

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byAddr.Get(addr); ok {
		if cur.Active() {
			return nil, errtrace.Wrap(wrapError(ErrAlreadyExists, "address %q", addr))
		}
		r.evict(cur)
	}

	h, err := r.eng.CreateProxy(ctx, id)
	if err != nil {
		return nil, errtrace.Wrap(wrapError(ErrRegistrationFailed, "create proxy for %q: %w", addr, err))
	}
	if !h.IsValid() {
		return nil, errtrace.Wrap(wrapError(ErrRegistrationFailed, "create proxy for %q: %w", addr, engine.ErrNoHandle))
	}

	sess := newRegistrationSession(id, h, r.log)
	r.byAddr.Set(addr, sess)
	r.byProxy.Set(h, sess)
	sess.setLease(r.poller.Acquire())
	if err := sess.enable(ctx); err != nil {
		return nil, errtrace.Wrap(err)
	}

	r.log.LogAttrs(ctx, slog.LevelDebug, "registration added", slog.Any("registration", sess))
	return sess, nil
}

// Remove disables the proxy config of the address and forgets its session.
//
// The session is removed and its poll lease released even if the engine
// fails to disable the proxy; the engine error is returned.
func (r *Registry) Remove(ctx context.Context, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byAddr.Get(addr)
	if !ok {
		return errtrace.Wrap(wrapError(ErrNotFound, "address %q", addr))
	}

	var err error
	if sess.Active() {
		if e := r.eng.DisableProxy(ctx, sess.Proxy()); e != nil {
			err = wrapError(ErrRegistrationFailed, "disable proxy for %q: %w", addr, e)
		}
	}
	r.evict(sess)

	r.log.LogAttrs(ctx, slog.LevelDebug, "registration removed",
		slog.Any("registration", sess),
		slog.Any("error", err),
	)
	return errtrace.Wrap(err)
}

func (r *Registry) evict(sess *RegistrationSession) {
	sess.releaseLease()
	r.byAddr.DelIf(sess.Address(), func(cur *RegistrationSession) bool { return cur == sess })
	r.byProxy.DelIf(sess.Proxy(), func(cur *RegistrationSession) bool { return cur == sess })
}

// Retry re-enables the registration of a failed session,
// or refreshes a registered one.
func (r *Registry) Retry(ctx context.Context, addr string) (*RegistrationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byAddr.Get(addr)
	if !ok {
		return nil, errtrace.Wrap(wrapError(ErrNotFound, "address %q", addr))
	}
	if st := sess.State(); st != RegistrationStateFailed && st != RegistrationStateOk {
		return nil, errtrace.Wrap(wrapError(ErrInvalidState, "retry %q in state %q", addr, st))
	}

	if err := r.eng.EnableProxy(ctx, sess.Proxy()); err != nil {
		return nil, errtrace.Wrap(wrapError(ErrRegistrationFailed, "enable proxy for %q: %w", addr, err))
	}
	if err := sess.enable(ctx); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if !sess.Polling() {
		sess.setLease(r.poller.Acquire())
	}

	r.log.LogAttrs(ctx, slog.LevelDebug, "registration retried", slog.Any("registration", sess))
	return sess, nil
}

// Lookup returns the session registered for the address.
func (r *Registry) Lookup(addr string) (*RegistrationSession, bool) {
	return r.byAddr.Get(addr)
}

// SessionByProxy returns the session owning the proxy config handle.
func (r *Registry) SessionByProxy(h engine.ProxyHandle) (*RegistrationSession, bool) {
	return r.byProxy.Get(h)
}

// All returns a snapshot of the sessions ordered by address.
func (r *Registry) All() []*RegistrationSession {
	sessions := r.byAddr.Values()
	slices.SortFunc(sessions, func(a, b *RegistrationSession) int {
		return strings.Compare(a.Address(), b.Address())
	})
	return sessions
}

// Len returns the number of sessions.
func (r *Registry) Len() int { return r.byAddr.Len() }

// Clear removes every session, disabling the active ones.
// Engine failures are joined into the returned error.
func (r *Registry) Clear(ctx context.Context) error {
	var errs []error
	for _, sess := range r.All() {
		if err := r.Remove(ctx, sess.Address()); err != nil {
			errs = append(errs, err)
		}
	}
	return errtrace.Wrap(errorutil.JoinPrefix("clear registry", errs...))
}
