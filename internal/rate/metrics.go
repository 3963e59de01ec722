package rate

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "thermosync"

var (
	remainingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "remaining",
		Help:      "Tokens left in the client-side budget for each window",
	}, []string{"provider", "window"})
	retryAfterGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "retry_after_seconds",
		Help:      "Last Retry-After reported by the vendor",
	}, []string{"provider"})
	responsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "responses_total",
		Help:      "Vendor responses seen by the rate-limit wrapper, by status class",
	}, []string{"provider", "class"})
	blockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rate_limit",
		Name:      "blocked_total",
		Help:      "Requests refused before reaching the vendor",
	}, []string{"provider", "reason"})
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		remainingGauge,
		retryAfterGauge,
		responsesTotal,
		blockedTotal,
	}
}

// statusClass buckets a status code as "2xx", "4xx", "429" and so on.
func statusClass(status int) string {
	if status == 429 {
		return "429"
	}
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
