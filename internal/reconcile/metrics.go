package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_reconcile_events_total",
			Help: "Events applied by the reconciliation engine",
		},
		[]string{"kind"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_reconcile_events_dropped_total",
			Help: "Events dropped because the device is not tracked",
		},
		[]string{"kind"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_reconcile_notifications_total",
			Help: "Change notifications emitted",
		},
		[]string{"kind"},
	)
	echoSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "thermosync_reconcile_echo_suppressed_total",
			Help: "Webhook observations ignored inside the echo window",
		},
	)
	vendorWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_vendor_write_total",
			Help: "Vendor writes issued after local changes",
		},
		[]string{"op", "result"},
	)
)

// MetricsCollectors returns collectors for the reconciliation engine.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		eventsTotal,
		eventsDropped,
		notificationsTotal,
		echoSuppressed,
		vendorWrites,
	}
}
