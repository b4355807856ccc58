package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the task worker.
type Metrics struct {
	Processed *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Processed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_tasks_processed_total",
			Help: "Claimed tasks by kind and outcome (done, retry, abandoned)",
		}, []string{"kind", "outcome"}),
	}
}

func (m *Metrics) IncrementProcessed(kind, outcome string) {
	if m == nil {
		return
	}
	m.Processed.WithLabelValues(kind, outcome).Inc()
}
