package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for vendor calls.
type Metrics struct {
	// Call outcomes by API and outcome (succeeded or error category)
	CallOutcome *prometheus.CounterVec

	// Call latency by API
	CallLatency *prometheus.HistogramVec

	// Circuit transitions by API and direction
	CircuitTransitions *prometheus.CounterVec
}

// New registers vendor metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CallOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_vendor_call_outcomes_total",
			Help: "Vendor call outcomes by API and outcome",
		}, []string{"api", "outcome"}),

		CallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycflow_vendor_call_duration_seconds",
			Help:    "Duration of vendor calls by API",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"api"}),

		CircuitTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_vendor_circuit_transitions_total",
			Help: "Vendor circuit breaker transitions by API",
		}, []string{"api", "to"}),
	}
}

func (m *Metrics) ObserveCall(api, outcome string, d time.Duration) {
	if m != nil {
		m.CallOutcome.WithLabelValues(api, outcome).Inc()
		m.CallLatency.WithLabelValues(api).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementCircuitTransition(api, to string) {
	if m != nil {
		m.CircuitTransitions.WithLabelValues(api, to).Inc()
	}
}
