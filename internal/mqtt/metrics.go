package mqtt

import "github.com/prometheus/client_golang/prometheus"

var (
	published = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_mqtt_published_total",
			Help: "MQTT publishes by kind and result",
		},
		[]string{"kind", "result"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_mqtt_commands_total",
			Help: "MQTT set commands by command and result",
		},
		[]string{"command", "result"},
	)
)

// MetricsCollectors returns collectors for the MQTT bridge.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{published, commands}
}
