package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the verification sub-machine.
type Metrics struct {
	StepCommits   *prometheus.CounterVec
	DriveOutcomes *prometheus.CounterVec
	ImageUploads  *prometheus.CounterVec
}

// New registers the verification metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StepCommits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_verification_step_commits_total",
			Help: "Committed sub-machine steps by step and result (advance, retry)",
		}, []string{"step", "result"}),
		DriveOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_verification_drive_outcomes_total",
			Help: "Drive invocations by final status",
		}, []string{"status"}),
		ImageUploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycflow_verification_image_uploads_total",
			Help: "Accepted document image uploads by side",
		}, []string{"side"}),
	}
}

func (m *Metrics) IncrementStepCommit(step, result string) {
	if m == nil {
		return
	}
	m.StepCommits.WithLabelValues(step, result).Inc()
}

func (m *Metrics) IncrementDriveOutcome(status string) {
	if m == nil {
		return
	}
	m.DriveOutcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementImageUpload(side string) {
	if m == nil {
		return
	}
	m.ImageUploads.WithLabelValues(side).Inc()
}
