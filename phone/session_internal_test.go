package phone

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/ghettovoice/multisip/account"
	"github.com/ghettovoice/multisip/engine"
	"github.com/ghettovoice/multisip/log"
)

func TestRegistrationSession_Transitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	id := account.MustNew("suyogya", "secret", "sip.linphone.org")

	cases := []struct {
		name   string
		events []engine.RegistrationState
		want   RegistrationState
	}{
		{"registered", []engine.RegistrationState{engine.RegistrationProgress, engine.RegistrationOk}, RegistrationStateOk},
		{"failed", []engine.RegistrationState{engine.RegistrationFailed}, RegistrationStateFailed},
		{"refresh", []engine.RegistrationState{engine.RegistrationOk, engine.RegistrationProgress}, RegistrationStateInProgress},
		{"recovered", []engine.RegistrationState{engine.RegistrationFailed, engine.RegistrationOk}, RegistrationStateOk},
		{"none keeps state", []engine.RegistrationState{engine.RegistrationOk, engine.RegistrationNone}, RegistrationStateOk},
		{"cleared", []engine.RegistrationState{engine.RegistrationOk, engine.RegistrationCleared}, RegistrationStateCleared},
		{"cleared is terminal", []engine.RegistrationState{engine.RegistrationCleared, engine.RegistrationOk, engine.RegistrationFailed}, RegistrationStateCleared},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			sess := newRegistrationSession(id, engine.NewProxyHandle(), log.Noop)
			if got, want := sess.State(), RegistrationStateNone; got != want {
				t.Fatalf("sess.State() = %q, want %q", got, want)
			}
			if err := sess.enable(ctx); err != nil {
				t.Fatalf("sess.enable(ctx) error = %v, want nil", err)
			}
			if got, want := sess.State(), RegistrationStateInProgress; got != want {
				t.Fatalf("sess.State() = %q, want %q", got, want)
			}
			for _, st := range c.events {
				evt := engine.RegistrationEvent{Proxy: sess.Proxy(), State: st, Message: st.String()}
				if err := sess.handleEvent(ctx, evt); err != nil {
					t.Fatalf("sess.handleEvent(ctx, %v) error = %v, want nil", st, err)
				}
			}
			if got := sess.State(); got != c.want {
				t.Errorf("sess.State() = %q, want %q", got, c.want)
			}
			if got, want := sess.LastMessage(), c.events[len(c.events)-1].String(); got != want {
				t.Errorf("sess.LastMessage() = %q, want %q", got, want)
			}
		})
	}
}

func TestRegistrationSession_OnStateChanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sess := newRegistrationSession(account.MustNew("srt2", "", "sip.linphone.org"), engine.NewProxyHandle(), log.Noop)

	var got []RegistrationState
	cancel := sess.OnStateChanged(func(_ context.Context, s *RegistrationSession, from, to RegistrationState) {
		if s != sess {
			t.Errorf("callback session = %v, want %v", s, sess)
		}
		got = append(got, from, to)
	})

	_ = sess.enable(ctx)
	_ = sess.handleEvent(ctx, engine.RegistrationEvent{State: engine.RegistrationProgress})
	_ = sess.handleEvent(ctx, engine.RegistrationEvent{State: engine.RegistrationOk})
	cancel()
	_ = sess.handleEvent(ctx, engine.RegistrationEvent{State: engine.RegistrationCleared})

	want := []RegistrationState{
		RegistrationStateNone, RegistrationStateInProgress,
		RegistrationStateInProgress, RegistrationStateOk,
	}
	if !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
}

func TestRegistrationSession_ClearedReleasesLease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPoller(func(context.Context) {}, &PollerOptions{Log: log.Noop})
	defer p.Stop()

	sess := newRegistrationSession(account.MustNew("suyogya", "", "sip.linphone.org"), engine.NewProxyHandle(), log.Noop)
	sess.setLease(p.Acquire())
	_ = sess.enable(ctx)
	if !sess.Polling() {
		t.Fatal("sess.Polling() = false, want true")
	}

	_ = sess.handleEvent(ctx, engine.RegistrationEvent{State: engine.RegistrationCleared, Message: "Unregistration done"})
	if sess.Polling() {
		t.Error("sess.Polling() = true after cleared, want false")
	}
	if sess.Active() {
		t.Error("sess.Active() = true after cleared, want false")
	}
	if got := p.Leases(); got != 0 {
		t.Errorf("p.Leases() = %d, want 0", got)
	}
}

func TestCallSession_FinalStateReleasesLease(t *testing.T) {
	t.Parallel()

	for _, final := range []engine.CallState{engine.CallError, engine.CallEnd, engine.CallReleased} {
		t.Run(final.String(), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			p := NewPoller(func(context.Context) {}, &PollerOptions{Log: log.Noop})
			defer p.Stop()

			call := newCallSession(engine.NewCallHandle(), account.MustNew("suyogya", "", "sip.linphone.org"), "sip:srt2@sip.linphone.org", log.Noop)
			call.setLease(p.Acquire())
			_ = call.invite(ctx)
			if got, want := p.Leases(), 1; got != want {
				t.Fatalf("p.Leases() = %d, want %d", got, want)
			}

			_ = call.handleEvent(ctx, engine.CallEvent{State: final, Message: "Call finished", Reason: "486 Busy Here"})
			if call.Active() {
				t.Errorf("call.Active() = true after %v, want false", final)
			}
			if got := p.Leases(); got != 0 {
				t.Errorf("p.Leases() = %d after %v, want 0", got, final)
			}
		})
	}
}

func TestCallSession_Transitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	from := account.MustNew("suyogya", "", "sip.linphone.org")

	cases := []struct {
		name       string
		events     []engine.CallState
		want       CallState
		wantActive bool
	}{
		{"init", []engine.CallState{engine.CallOutgoingInit, engine.CallOutgoingProgress}, CallStateOutgoingInit, true},
		{"ringing", []engine.CallState{engine.CallOutgoingProgress, engine.CallOutgoingRinging}, CallStateRinging, true},
		{"early connect", []engine.CallState{engine.CallConnected}, CallStateConnected, true},
		{"streams", []engine.CallState{engine.CallOutgoingRinging, engine.CallConnected, engine.CallStreamsRunning}, CallStateConnected, true},
		{"rejected", []engine.CallState{engine.CallOutgoingRinging, engine.CallError}, CallStateError, false},
		{"error end", []engine.CallState{engine.CallError, engine.CallEnd}, CallStateEnded, false},
		{"hangup", []engine.CallState{engine.CallConnected, engine.CallEnd}, CallStateEnded, false},
		{"released", []engine.CallState{engine.CallConnected, engine.CallEnd, engine.CallReleased}, CallStateReleased, false},
		{"released is terminal", []engine.CallState{engine.CallReleased, engine.CallConnected}, CallStateReleased, false},
		{"ended ignores ringing", []engine.CallState{engine.CallEnd, engine.CallOutgoingRinging}, CallStateEnded, false},
		{"incoming ignored", []engine.CallState{engine.CallIncomingReceived}, CallStateOutgoingInit, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			call := newCallSession(engine.NewCallHandle(), from, "sip:srt2@sip.linphone.org", log.Noop)
			if got, want := call.State(), CallStateIdle; got != want {
				t.Fatalf("call.State() = %q, want %q", got, want)
			}
			if err := call.invite(ctx); err != nil {
				t.Fatalf("call.invite(ctx) error = %v, want nil", err)
			}
			for _, st := range c.events {
				evt := engine.CallEvent{Call: call.Handle(), State: st, Message: st.String()}
				if err := call.handleEvent(ctx, evt); err != nil {
					t.Fatalf("call.handleEvent(ctx, %v) error = %v, want nil", st, err)
				}
			}
			if got := call.State(); got != c.want {
				t.Errorf("call.State() = %q, want %q", got, c.want)
			}
			if got := call.Active(); got != c.wantActive {
				t.Errorf("call.Active() = %v, want %v", got, c.wantActive)
			}
		})
	}
}

func TestCallSession_Reason(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	call := newCallSession(engine.NewCallHandle(), account.MustNew("srt2", "", "sip.linphone.org"), "sip:suyogya@sip.linphone.org", log.Noop)
	_ = call.invite(ctx)
	_ = call.handleEvent(ctx, engine.CallEvent{State: engine.CallError, Message: "Call declined", Reason: "603 Decline"})
	_ = call.handleEvent(ctx, engine.CallEvent{State: engine.CallReleased, Message: "Call released"})

	if got, want := call.LastReason(), "603 Decline"; got != want {
		t.Errorf("call.LastReason() = %q, want %q", got, want)
	}
	if got, want := call.LastMessage(), "Call released"; got != want {
		t.Errorf("call.LastMessage() = %q, want %q", got, want)
	}
}

func TestDispatcher(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var d Dispatcher

	if d.Dispatch(ctx, RegistrationEvent{}) {
		t.Error("d.Dispatch() without observer = true, want false")
	}

	var regs, calls int
	d.SetObserver(ObserverFuncs{
		Registration: func(context.Context, RegistrationEvent) { regs++ },
	})
	d.Dispatch(ctx, RegistrationEvent{})
	d.Dispatch(ctx, CallEvent{})
	if regs != 1 {
		t.Errorf("registration events = %d, want 1", regs)
	}

	d.SetObserver(ObserverFuncs{
		Call: func(context.Context, CallEvent) { calls++ },
	})
	d.Dispatch(ctx, RegistrationEvent{})
	d.Dispatch(ctx, CallEvent{})
	if regs != 1 || calls != 1 {
		t.Errorf("registration, call events = %d, %d, want 1, 1", regs, calls)
	}

	d.SetObserver(nil)
	if d.Observer() != nil {
		t.Error("d.Observer() != nil after SetObserver(nil)")
	}
	if d.Dispatch(ctx, CallEvent{}) {
		t.Error("d.Dispatch() after clearing observer = true, want false")
	}
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	err := wrapError(ErrNotFound, "address %q", "sip:a@b")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(%v, ErrNotFound) = false, want true", err)
	}
}
