package rate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestUnlimitedDeclarationAllows(t *testing.T) {
	g := NewGuard(Provider("thermosmart").MaxRequestsPer(Minute, 0), nil)
	for i := 0; i < 100; i++ {
		if !g.ShouldCall().Allowed {
			t.Fatalf("call %d blocked without limits", i)
		}
	}
}

func TestBudgetRefills(t *testing.T) {
	c := &clock{now: time.Unix(0, 0)}
	g := NewGuard(Provider("thermosmart").MaxRequestsPer(Minute, 2), c.Now)

	if !g.ShouldCall().Allowed || !g.ShouldCall().Allowed {
		t.Fatalf("first two calls should be allowed")
	}
	d := g.ShouldCall()
	if d.Allowed || d.Reason != "budget" {
		t.Fatalf("expected budget block, got %+v", d)
	}
	if !d.RetryAt.After(c.Now()) {
		t.Fatalf("retry time should be in the future")
	}

	c.Advance(30 * time.Second)
	if !g.ShouldCall().Allowed {
		t.Fatalf("expected one token after 30s")
	}
}

func TestRetryAfterCooldown(t *testing.T) {
	c := &clock{now: time.Unix(0, 0)}
	g := NewGuard(Provider("thermosmart"), c.Now)

	h := http.Header{}
	h.Set("Retry-After", "10")
	g.RecordResponse(http.StatusTooManyRequests, h)

	if d := g.ShouldCall(); d.Allowed || d.Reason != "cooldown" {
		t.Fatalf("expected cooldown, got %+v", d)
	}
	c.Advance(11 * time.Second)
	if !g.ShouldCall().Allowed {
		t.Fatalf("cooldown should have expired")
	}
}

func TestRemainingHeaderClampsBucket(t *testing.T) {
	c := &clock{now: time.Unix(0, 0)}
	g := NewGuard(Provider("thermosmart").MaxRequestsPer(Day, 100), c.Now)

	h := http.Header{}
	h.Set("X-RateLimit-Remaining-day", "0")
	g.RecordResponse(http.StatusOK, h)

	if g.ShouldCall().Allowed {
		t.Fatalf("expected server-reported exhaustion to block")
	}
}

func TestWrapHTTPBlocksWithError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := WrapHTTP(Provider("thermosmart").MaxRequestsPer(Day, 1), nil)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	resp.Body.Close()

	_, err = client.Get(srv.URL)
	var rle RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.Provider != "thermosmart" || calls != 1 {
		t.Fatalf("unexpected state: %+v calls=%d", rle, calls)
	}
}

func TestStatusClass(t *testing.T) {
	for status, want := range map[int]string{200: "2xx", 204: "2xx", 429: "429", 404: "4xx", 503: "5xx", 0: "other"} {
		if got := statusClass(status); got != want {
			t.Fatalf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}
