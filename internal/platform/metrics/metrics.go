// Package metrics owns the process-wide Prometheus registry. Domain packages
// register their own collectors against it.
package metrics

import (
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry with Go runtime, process and build info
// collectors already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	version := "devel"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name:        "kycflow_build_info",
		Help:        "Build information; always 1",
		ConstLabels: prometheus.Labels{"version": version},
	}).Set(1)
	return reg
}
