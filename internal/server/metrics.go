package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes registry. Collection errors are logged and the
// remaining metrics are still served.
func MetricsHandler(registry *prometheus.Registry, logger *slog.Logger) http.Handler {
	opts := promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
		Registry:          registry,
	}
	if logger != nil {
		opts.ErrorLog = promLogger{logger: logger}
	}
	return promhttp.HandlerFor(registry, opts)
}

type promLogger struct {
	logger *slog.Logger
}

func (l promLogger) Println(v ...any) {
	l.logger.Warn("metrics collection", "err", v)
}
