package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ghettovoice/multisip/metrics"
)

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := metrics.New(reg)

	m.SetRegistrations(2)
	m.RegistrationTransition("in_progress")
	m.RegistrationTransition("ok")
	m.RegistrationTransition("ok")
	m.SetRegistrations(1)
	m.SetActiveCalls(1)
	m.CallTransition("ringing")
	m.SetActiveCalls(0)
	m.IncrementInviteFailures()
	m.ObservePoll(time.Now())

	if got, want := testutil.ToFloat64(m.ActiveRegistrations), 1.0; got != want {
		t.Errorf("active registrations = %v, want %v", got, want)
	}
	if got, want := testutil.ToFloat64(m.RegistrationStates.WithLabelValues("ok")), 2.0; got != want {
		t.Errorf("ok transitions = %v, want %v", got, want)
	}
	if got, want := testutil.ToFloat64(m.ActiveCalls), 0.0; got != want {
		t.Errorf("active calls = %v, want %v", got, want)
	}
	if got, want := testutil.ToFloat64(m.InviteFailures), 1.0; got != want {
		t.Errorf("invite failures = %v, want %v", got, want)
	}
	if got, want := testutil.ToFloat64(m.Polls), 1.0; got != want {
		t.Errorf("polls = %v, want %v", got, want)
	}
	if got, want := testutil.CollectAndCount(m.PollDuration), 1; got != want {
		t.Errorf("poll duration series = %v, want %v", got, want)
	}

	if _, err := reg.Gather(); err != nil {
		t.Errorf("reg.Gather() error = %v, want nil", err)
	}
}

func TestMetrics_Nil(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	m.SetRegistrations(1)
	m.RegistrationTransition("ok")
	m.SetActiveCalls(1)
	m.CallTransition("ended")
	m.IncrementInviteFailures()
	m.ObservePoll(time.Now())
}

func TestNew_Unregistered(t *testing.T) {
	t.Parallel()

	m := metrics.New(nil)
	m.ObservePoll(time.Now())
	if got, want := testutil.ToFloat64(m.Polls), 1.0; got != want {
		t.Errorf("polls = %v, want %v", got, want)
	}
}
