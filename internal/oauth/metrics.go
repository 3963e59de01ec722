package oauth

import "github.com/prometheus/client_golang/prometheus"

var (
	exchangeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_oauth_exchange_total",
			Help: "Authorization code exchanges by result",
		},
		[]string{"result"},
	)
	pairedDevices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermosync_oauth_paired_devices",
			Help: "Devices with persisted credentials",
		},
		[]string{"provider"},
	)
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermosync_oauth_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors returns collectors for pairing and credential storage.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		exchangeTotal,
		pairedDevices,
		remotePersistOK,
	}
}
