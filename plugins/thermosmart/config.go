package thermosmart

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/thermosync/internal/config"
)

const (
	defaultBaseURL        = "https://api.thermosmart.com"
	defaultRequestTimeout = 15 * time.Second
)

// Config defines runtime configuration for the ThermoSmart client.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	PerMinute      int
	PerDay         int
}

func ConfigFromFile(cfg config.ThermoSmartConfig) (Config, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return Config{}, fmt.Errorf("thermosmart base_url must be http(s): %q", cfg.BaseURL)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return Config{
		BaseURL:        base,
		RequestTimeout: timeout,
		PerMinute:      cfg.RateLimit.PerMinute,
		PerDay:         cfg.RateLimit.PerDay,
	}, nil
}
