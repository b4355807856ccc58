package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the run coordinator.
type Metrics struct {
	Outcomes        *prometheus.CounterVec
	RetriesQueued   prometheus.Counter
	EnqueueFailures prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_coordinator_outcomes_total",
			Help: "Coordinator runs by outcome (advanced, stuck)",
		}, []string{"outcome"}),
		RetriesQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_coordinator_retries_queued_total",
			Help: "Delayed verification retries handed to the task queue",
		}),
		EnqueueFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "kycflow_coordinator_enqueue_failures_total",
			Help: "Verification retries that could not be queued",
		}),
	}
}

func (m *Metrics) IncrementOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRetriesQueued() {
	if m == nil {
		return
	}
	m.RetriesQueued.Inc()
}

func (m *Metrics) IncrementEnqueueFailures() {
	if m == nil {
		return
	}
	m.EnqueueFailures.Inc()
}
