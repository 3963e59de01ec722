package thermosmart

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/thermosync/internal/thermostat"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermosync_vendor_requests_total",
			Help: "ThermoSmart API calls by operation and result",
		},
		[]string{"op", "result"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thermosync_vendor_request_duration_seconds",
			Help:    "ThermoSmart API call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// RequestCollectors returns collectors for vendor API calls.
func RequestCollectors() []prometheus.Collector {
	return []prometheus.Collector{requestsTotal, requestDuration}
}

func observeRequest(op string, err error, start time.Time) {
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(op, requestResult(err)).Inc()
}

func requestResult(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, thermostat.ErrTimeout) {
		return "timeout"
	}
	if remote, ok := thermostat.IsRemote(err); ok && remote.Status > 0 {
		return strconv.Itoa(remote.Status)
	}
	return "error"
}

// DeviceLister returns the current device snapshots.
type DeviceLister interface {
	Devices() []thermostat.Device
}

// QueueDepth reports how many reconciliation events wait for a device.
type QueueDepth interface {
	Pending(id string) int
}

// MetricsCollector reports per-device state from the local store. It never
// calls the vendor.
type MetricsCollector struct {
	devices DeviceLister
	queue   QueueDepth
	mu      sync.Mutex

	target      *prometheus.GaugeVec
	room        *prometheus.GaugeVec
	paused      *prometheus.GaugeVec
	available   *prometheus.GaugeVec
	failures    *prometheus.GaugeVec
	lastWrite   *prometheus.GaugeVec
	pending     *prometheus.GaugeVec
	deviceCount prometheus.Gauge
}

// NewMetricsCollector reports devices. queue may be nil.
func NewMetricsCollector(devices DeviceLister, queue QueueDepth) *MetricsCollector {
	labels := []string{"device_id"}
	return &MetricsCollector{
		devices: devices,
		queue:   queue,
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermosync_thermostat_target_temperature_celsius",
			Help: "Target temperature per thermostat",
		}, labels),
		room: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermosync_thermostat_room_temperature_celsius",
			Help: "Room temperature per thermostat",
		}, labels),
		paused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermosync_thermostat_paused_bool",
			Help: "Pause state per thermostat (1=paused, 0=active)",
		}, labels),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermosync_thermostat_available_bool",
			Help: "Availability per thermostat (1=available, 0=unavailable)",
		}, labels),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermosync_thermostat_consecutive_poll_failures",
			Help: "Consecutive poll failures per thermostat",
		}, labels),
		lastWrite: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermosync_thermostat_last_local_write_timestamp_seconds",
			Help: "Last local write per thermostat (epoch seconds)",
		}, labels),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thermosync_thermostat_pending_events",
			Help: "Reconciliation events queued per thermostat",
		}, labels),
		deviceCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thermosync_thermostat_devices",
			Help: "Number of tracked thermostats",
		}),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.target.Describe(ch)
	c.room.Describe(ch)
	c.paused.Describe(ch)
	c.available.Describe(ch)
	c.failures.Describe(ch)
	c.lastWrite.Describe(ch)
	c.pending.Describe(ch)
	c.deviceCount.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.target.Reset()
	c.room.Reset()
	c.paused.Reset()
	c.available.Reset()
	c.failures.Reset()
	c.lastWrite.Reset()
	c.pending.Reset()

	devices := c.devices.Devices()
	c.deviceCount.Set(float64(len(devices)))
	for _, d := range devices {
		if d.TargetTemperature != nil {
			c.target.WithLabelValues(d.ID).Set(*d.TargetTemperature)
		}
		if d.RoomTemperature != nil {
			c.room.WithLabelValues(d.ID).Set(*d.RoomTemperature)
		}
		if d.Paused != nil {
			c.paused.WithLabelValues(d.ID).Set(boolToFloat(*d.Paused))
		}
		c.available.WithLabelValues(d.ID).Set(boolToFloat(d.Available))
		c.failures.WithLabelValues(d.ID).Set(float64(d.ConsecutiveFailures))
		if !d.LastLocalWriteAt.IsZero() {
			c.lastWrite.WithLabelValues(d.ID).Set(float64(d.LastLocalWriteAt.Unix()))
		}
		if c.queue != nil {
			c.pending.WithLabelValues(d.ID).Set(float64(c.queue.Pending(d.ID)))
		}
	}

	c.target.Collect(ch)
	c.room.Collect(ch)
	c.paused.Collect(ch)
	c.available.Collect(ch)
	c.failures.Collect(ch)
	c.lastWrite.Collect(ch)
	c.pending.Collect(ch)
	c.deviceCount.Collect(ch)
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
