// Package metrics exposes prometheus collectors for registration, call and poll activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks registration and call lifecycles of a manager.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RegistrationStates  *prometheus.CounterVec
	ActiveRegistrations prometheus.Gauge
	CallStates          *prometheus.CounterVec
	InviteFailures      prometheus.Counter
	ActiveCalls         prometheus.Gauge
	Polls               prometheus.Counter
	PollDuration        prometheus.Histogram
}

// New creates the collectors and registers them on reg.
// If reg is nil, the collectors are created unregistered.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RegistrationStates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "multisip_registration_transitions_total",
			Help: "Registration session state transitions by target state",
		}, []string{"state"}),
		ActiveRegistrations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "multisip_registrations_active",
			Help: "Number of registration sessions not yet cleared",
		}),
		CallStates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "multisip_call_transitions_total",
			Help: "Call session state transitions by target state",
		}, []string{"state"}),
		InviteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "multisip_invite_failures_total",
			Help: "Invites rejected by the engine",
		}),
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "multisip_calls_active",
			Help: "Number of calls occupying the call slot",
		}),
		Polls: factory.NewCounter(prometheus.CounterOpts{
			Name: "multisip_engine_polls_total",
			Help: "Total number of engine polls",
		}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "multisip_engine_poll_duration_seconds",
			Help:    "Duration of engine polls including event handling",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.02, 0.05, 0.1},
		}),
	}
}

// RegistrationTransition records a registration session entering state.
func (m *Metrics) RegistrationTransition(state string) {
	if m == nil {
		return
	}
	m.RegistrationStates.WithLabelValues(state).Inc()
}

// SetRegistrations sets the number of registration sessions not yet cleared.
func (m *Metrics) SetRegistrations(n int) {
	if m == nil {
		return
	}
	m.ActiveRegistrations.Set(float64(n))
}

// CallTransition records a call session entering state.
func (m *Metrics) CallTransition(state string) {
	if m == nil {
		return
	}
	m.CallStates.WithLabelValues(state).Inc()
}

// SetActiveCalls sets the number of calls occupying the call slot.
func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Set(float64(n))
}

// IncrementInviteFailures records an invite rejected by the engine.
func (m *Metrics) IncrementInviteFailures() {
	if m == nil {
		return
	}
	m.InviteFailures.Inc()
}

// ObservePoll records one engine poll.
// Call with time.Now() at the start of the poll.
func (m *Metrics) ObservePoll(start time.Time) {
	if m == nil {
		return
	}
	m.Polls.Inc()
	m.PollDuration.Observe(time.Since(start).Seconds())
}
