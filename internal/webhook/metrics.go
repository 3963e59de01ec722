package webhook

import "github.com/prometheus/client_golang/prometheus"

var (
	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_webhook_registrations_total",
			Help: "Webhook subscription registrations by result",
		},
		[]string{"result"},
	)
	unregistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_webhook_unregistrations_total",
			Help: "Webhook subscription removals by result",
		},
		[]string{"result"},
	)
	subscribedDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thermosync_webhook_subscribed_devices",
			Help: "Devices covered by the active webhook subscription",
		},
	)
	received = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_webhook_received_total",
			Help: "Inbound webhook payloads by result",
		},
		[]string{"result"},
	)
)

// MetricsCollectors returns collectors for webhook handling.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{registrations, unregistrations, subscribedDevices, received}
}
