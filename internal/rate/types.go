package rate

import "time"

// Window represents a provider rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) Duration() time.Duration {
	if w == Day {
		return 24 * time.Hour
	}
	return time.Minute
}

// Headers names the response headers that carry limit state.
type Headers struct {
	RemainingMinute string
	RemainingDay    string
	RetryAfter      string
}

// StandardHeaders returns the common X-RateLimit header mapping.
func StandardHeaders() Headers {
	return Headers{
		RemainingMinute: "X-RateLimit-Remaining-minute",
		RemainingDay:    "X-RateLimit-Remaining-day",
		RetryAfter:      "Retry-After",
	}
}

// Declaration defines a provider's client-side limits.
type Declaration struct {
	provider string
	limits   map[Window]int
	headers  Headers
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name, headers: StandardHeaders()}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// MaxRequestsPer caps calls in window. A non-positive limit leaves the window
// unlimited.
func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	if limit <= 0 {
		return d
	}
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

func (d Declaration) ReadHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) Headers() Headers {
	return d.headers
}
