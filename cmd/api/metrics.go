package main

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
)

// newPrometheusRegistry returns the registry served on /metrics, preloaded with
// runtime collectors and build information
func newPrometheusRegistry(cfg *config.Config) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "efm",
			Name:      "build_info",
			Help:      "Build and runtime information",
		},
		[]string{"version", "environment", "backend", "go_version"},
	)
	buildInfo.WithLabelValues(cfg.Version, cfg.Environment, cfg.Pipeline.Backend, runtime.Version()).Set(1)

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
