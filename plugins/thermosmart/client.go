package thermosmart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joshp123/thermosync/internal/rate"
	"github.com/joshp123/thermosync/internal/thermostat"
)

const maxErrorBody = 4 << 10

// Client talks to the ThermoSmart REST API on behalf of paired thermostats.
// Every call carries the device's own bearer token.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// RateLimit returns the client-side limits applied to vendor calls.
func RateLimit(cfg Config) rate.Declaration {
	return rate.Provider("thermosmart").
		MaxRequestsPer(rate.Minute, cfg.PerMinute).
		MaxRequestsPer(rate.Day, cfg.PerDay)
}

func NewClient(cfg Config) *Client {
	return NewClientWithHTTP(cfg, rate.WrapHTTP(RateLimit(cfg), &http.Client{}))
}

func NewClientWithHTTP(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{baseURL: base, timeout: timeout, httpClient: httpClient}
}

// FetchThermostat reads the thermostat's current state.
func (c *Client) FetchThermostat(ctx context.Context, cred thermostat.Credentials) (thermostat.Snapshot, error) {
	var resp thermostatResponse
	if err := c.do(ctx, "fetch", cred, http.MethodGet, thermostatPath(cred.DeviceID), nil, &resp); err != nil {
		return thermostat.Snapshot{}, err
	}
	return resp.snapshot(), nil
}

// UpdateThermostat sends the non-nil fields of update. The target is clamped
// before it leaves the process.
func (c *Client) UpdateThermostat(ctx context.Context, cred thermostat.Credentials, update thermostat.Update) (thermostat.Snapshot, error) {
	if update.Empty() {
		return thermostat.Snapshot{}, fmt.Errorf("empty thermostat update")
	}
	if update.TargetTemperature != nil {
		update.TargetTemperature = thermostat.Float(thermostat.ClampTarget(*update.TargetTemperature))
	}
	var resp thermostatResponse
	if err := c.do(ctx, "update", cred, http.MethodPut, thermostatPath(cred.DeviceID), update, &resp); err != nil {
		return thermostat.Snapshot{}, err
	}
	return resp.snapshot(), nil
}

// SetPause pauses or resumes the thermostat.
func (c *Client) SetPause(ctx context.Context, cred thermostat.Credentials, paused bool) error {
	return c.do(ctx, "pause", cred, http.MethodPost, thermostatPath(cred.DeviceID)+"/pause", pauseRequest{Pause: paused}, nil)
}

func thermostatPath(id string) string {
	return "/thermostat/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, op string, cred thermostat.Credentials, method, path string, payload, out any) error {
	if strings.TrimSpace(cred.DeviceID) == "" {
		return fmt.Errorf("%w: empty device id", thermostat.ErrInvalidDevice)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		remote := transportError(ctx, err)
		observeRequest(op, remote, start)
		return remote
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		remote := &thermostat.RemoteError{Status: resp.StatusCode, Message: errorMessage(resp.Status, data)}
		observeRequest(op, remote, start)
		return remote
	}

	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			remote := transportError(ctx, err)
			observeRequest(op, remote, start)
			return remote
		}
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				remote := &thermostat.RemoteError{Status: resp.StatusCode, Message: "invalid response: " + err.Error()}
				observeRequest(op, remote, start)
				return remote
			}
		}
	}
	observeRequest(op, nil, start)
	return nil
}

func transportError(ctx context.Context, err error) *thermostat.RemoteError {
	var limited rate.RateLimitError
	if errors.As(err, &limited) {
		return &thermostat.RemoteError{Status: http.StatusTooManyRequests, Message: limited.Error()}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &thermostat.RemoteError{Message: "timeout"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &thermostat.RemoteError{Message: "timeout"}
	}
	return &thermostat.RemoteError{Message: err.Error()}
}

// errorMessage prefers the vendor's JSON message over the raw body.
func errorMessage(status string, body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return status
}
