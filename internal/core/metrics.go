package core

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// BuildInfo is a constant gauge labelled with the running version.
func BuildInfo(version string) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "thermosync_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version},
	}, func() float64 { return 1 })
}

// MetricsRegistry builds a registry holding runtime collectors, build info,
// the shared collectors and every plugin's collectors. A duplicate
// registration is reported with the owning plugin.
func MetricsRegistry(version string, plugins []Plugin, shared ...prometheus.Collector) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	base := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BuildInfo(version),
	}
	for _, collector := range append(base, shared...) {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register shared collector: %w", err)
		}
	}
	for _, plugin := range plugins {
		for _, collector := range plugin.Collectors() {
			if err := registry.Register(collector); err != nil {
				return nil, fmt.Errorf("register %s collector: %w", plugin.ID(), err)
			}
		}
	}

	return registry, nil
}
