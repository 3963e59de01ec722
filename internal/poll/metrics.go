package poll

import "github.com/prometheus/client_golang/prometheus"

var (
	pollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_poll_total",
			Help: "Thermostat polls by result",
		},
		[]string{"result"},
	)
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thermosync_poll_duration_seconds",
			Help:    "Duration of thermostat fetches",
			Buckets: prometheus.DefBuckets,
		},
	)
	activePollers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thermosync_poll_active",
			Help: "Devices currently being polled",
		},
	)
)

// MetricsCollectors returns collectors for the poll scheduler.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{pollTotal, pollDuration, activePollers}
}
