package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the case workflow engine.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	DispatchErrors  *prometheus.CounterVec
	DispatchLatency *prometheus.HistogramVec
	Waits           *prometheus.CounterVec
}

// New registers the workflow metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_workflow_transitions_total",
			Help: "Committed case transitions by kind, source state and target state",
		}, []string{"kind", "from", "to"}),
		DispatchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_workflow_dispatch_errors_total",
			Help: "Failed dispatches by kind and error code",
		}, []string{"kind", "code"}),
		DispatchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycflow_workflow_dispatch_duration_seconds",
			Help:    "Dispatch latency including vendor calls and commit",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		Waits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_workflow_waits_total",
			Help: "Dispatches that matched but waited for external input",
		}, []string{"kind", "state"}),
	}
}

func (m *Metrics) IncrementTransition(kind, from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(kind, from, to).Inc()
}

func (m *Metrics) IncrementDispatchError(kind, code string) {
	if m == nil {
		return
	}
	m.DispatchErrors.WithLabelValues(kind, code).Inc()
}

func (m *Metrics) ObserveDispatch(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.DispatchLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncrementWait(kind, state string) {
	if m == nil {
		return
	}
	m.Waits.WithLabelValues(kind, state).Inc()
}
