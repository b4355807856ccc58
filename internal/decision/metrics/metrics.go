package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for rule evaluation.
type Metrics struct {
	// Decision outcomes by status and case kind
	DecisionOutcome *prometheus.CounterVec

	// Rule evaluation latency
	EvaluateLatency prometheus.Histogram
}

// New creates decision metrics registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DecisionOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_decision_outcomes_total",
			Help: "Total decision outcomes by status and case kind",
		}, []string{"status", "kind"}),

		EvaluateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "kycflow_decision_evaluate_duration_seconds",
			Help:    "Duration of rule evaluation",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

// IncrementOutcome records a decision outcome.
func (m *Metrics) IncrementOutcome(status, kind string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(status, kind).Inc()
	}
}

// ObserveEvaluateLatency records the evaluation duration.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}
