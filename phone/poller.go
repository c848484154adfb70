package phone

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghettovoice/multisip/log"
)

// DefaultPollInterval is the engine poll period.
const DefaultPollInterval = 20 * time.Millisecond

// PollerOptions are options of a [Poller].
type PollerOptions struct {
	// Interval is the poll period. If zero, [DefaultPollInterval] is used.
	Interval time.Duration
	// Log is the logger used by the poller.
	// If nil, the [log.Default] is used.
	Log *slog.Logger
}

func (o *PollerOptions) interval() time.Duration {
	if o == nil || o.Interval <= 0 {
		return DefaultPollInterval
	}
	return o.Interval
}

func (o *PollerOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// Poller periodically invokes a poll function while at least one [Lease] is held.
//
// Polls never overlap: there is one ticker goroutine at a time, started by the
// first lease and stopped when the last lease is released.
type Poller struct {
	poll     func(ctx context.Context)
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	leases map[*Lease]struct{}
	stop   chan struct{}
	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
	wg     sync.WaitGroup
	total  atomic.Uint64
	// pollMu serializes poll invocations across consecutive ticker goroutines.
	pollMu sync.Mutex
}

// NewPoller creates a poller that calls poll at the configured interval.
func NewPoller(poll func(ctx context.Context), opts *PollerOptions) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		poll:     poll,
		interval: opts.interval(),
		log:      opts.log(),
		leases:   make(map[*Lease]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Lease keeps a [Poller] running. It is bound to one session.
type Lease struct {
	p        *Poller
	polls    atomic.Uint64
	released atomic.Bool
}

// Polls returns the number of polls performed while the lease was held.
func (l *Lease) Polls() uint64 {
	if l == nil {
		return 0
	}
	return l.polls.Load()
}

// Active reports whether the lease is still held.
func (l *Lease) Active() bool { return l != nil && !l.released.Load() }

// Release gives the lease back. Once it returns no further polls are counted
// for the lease. It is idempotent and safe to call from the poll function.
func (l *Lease) Release() {
	if l == nil || l.released.Swap(true) {
		return
	}
	l.p.release(l)
}

// Acquire takes a new lease and starts polling if it was idle.
func (p *Poller) Acquire() *Lease {
	l := &Lease{p: p}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		l.released.Store(true)
		return l
	}

	p.leases[l] = struct{}{}
	if p.stop == nil {
		p.stop = make(chan struct{})
		p.wg.Add(1)
		go p.run(p.stop)

		p.log.LogAttrs(p.ctx, slog.LevelDebug, "poll loop started", slog.Duration("interval", p.interval))
	}
	return l
}

func (p *Poller) release(l *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.leases, l)
	if len(p.leases) == 0 && p.stop != nil {
		close(p.stop)
		p.stop = nil

		p.log.LogAttrs(p.ctx, slog.LevelDebug, "poll loop stopped")
	}
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// Leases returns the number of held leases.
func (p *Poller) Leases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leases)
}

// Polls returns the total number of polls performed.
func (p *Poller) Polls() uint64 { return p.total.Load() }

// Stop releases every lease and waits for the poll goroutine to exit.
// It must not be called from the poll function.
func (p *Poller) Stop() {
	p.mu.Lock()
	for l := range p.leases {
		l.released.Store(true)
	}
	clear(p.leases)
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Poller) run(stop <-chan struct{}) {
	defer p.wg.Done()

	tkr := time.NewTicker(p.interval)
	defer tkr.Stop()

	for {
		select {
		case <-stop:
			return
		case <-p.ctx.Done():
			return
		case <-tkr.C:
		}

		// a release may race with the tick
		select {
		case <-stop:
			return
		default:
		}

		p.pollMu.Lock()
		p.poll(p.ctx)
		p.pollMu.Unlock()
		p.total.Add(1)

		p.mu.Lock()
		for l := range p.leases {
			l.polls.Add(1)
		}
		p.mu.Unlock()
	}
}
