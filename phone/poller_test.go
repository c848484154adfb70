package phone_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ghettovoice/multisip/log"
	"github.com/ghettovoice/multisip/phone"
)

func TestPoller_Leases(t *testing.T) {
	t.Parallel()

	var (
		calls    atomic.Int64
		inFlight atomic.Int64
		overlap  atomic.Bool
	)
	p := phone.NewPoller(func(context.Context) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		calls.Add(1)
		time.Sleep(100 * time.Microsecond)
		inFlight.Add(-1)
	}, &phone.PollerOptions{Interval: time.Millisecond, Log: log.Noop})
	defer p.Stop()

	if p.Running() {
		t.Fatal("p.Running() = true before any lease, want false")
	}

	l1 := p.Acquire()
	l2 := p.Acquire()
	if got, want := p.Leases(), 2; got != want {
		t.Errorf("p.Leases() = %d, want %d", got, want)
	}
	waitFor(t, "polls", func() bool { return l1.Polls() >= 3 && l2.Polls() >= 3 })

	l1.Release()
	l1.Release()
	if l1.Active() {
		t.Error("l1.Active() = true after release, want false")
	}
	got := l1.Polls()
	waitFor(t, "more polls", func() bool { return l2.Polls() >= got+3 })
	if l1.Polls() != got {
		t.Errorf("l1.Polls() = %d after release, want %d", l1.Polls(), got)
	}
	if !p.Running() {
		t.Error("p.Running() = false while a lease is held, want true")
	}

	l2.Release()
	if p.Running() {
		t.Error("p.Running() = true after last release, want false")
	}
	total := p.Polls()
	time.Sleep(10 * time.Millisecond)
	if p.Polls() > total+1 {
		t.Errorf("p.Polls() = %d after last release, want at most %d", p.Polls(), total+1)
	}

	if overlap.Load() {
		t.Error("polls overlapped")
	}
	if calls.Load() == 0 {
		t.Error("poll function was never called")
	}
}

func TestPoller_Restart(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	p := phone.NewPoller(func(context.Context) { calls.Add(1) }, &phone.PollerOptions{Interval: time.Millisecond, Log: log.Noop})
	defer p.Stop()

	l := p.Acquire()
	waitFor(t, "first polls", func() bool { return l.Polls() > 0 })
	l.Release()

	l = p.Acquire()
	waitFor(t, "polls after restart", func() bool { return l.Polls() > 0 })
	l.Release()
}

func TestPoller_ReleaseFromPoll(t *testing.T) {
	t.Parallel()

	var lease atomic.Pointer[phone.Lease]
	p := phone.NewPoller(func(context.Context) {
		lease.Load().Release()
	}, &phone.PollerOptions{Interval: time.Millisecond, Log: log.Noop})
	defer p.Stop()

	l := p.Acquire()
	lease.Store(l)
	waitFor(t, "loop stop", func() bool { return !p.Running() })

	if l.Active() {
		t.Error("l.Active() = true after release from poll, want false")
	}
	got := l.Polls()
	time.Sleep(5 * time.Millisecond)
	if l.Polls() != got {
		t.Errorf("l.Polls() = %d after release, want %d", l.Polls(), got)
	}
}

func TestPoller_Stop(t *testing.T) {
	t.Parallel()

	p := phone.NewPoller(func(context.Context) {}, &phone.PollerOptions{Interval: time.Millisecond, Log: log.Noop})
	l := p.Acquire()
	p.Stop()

	if l.Active() {
		t.Error("l.Active() = true after stop, want false")
	}
	if p.Running() {
		t.Error("p.Running() = true after stop, want false")
	}
	if l := p.Acquire(); l.Active() {
		t.Error("p.Acquire() after stop returned an active lease")
	}
	p.Stop()
}
