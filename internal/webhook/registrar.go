package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPRegistrar manages subscriptions on a webhook relay that forwards vendor
// events to CallbackURL.
type HTTPRegistrar struct {
	BaseURL     string
	Token       string
	CallbackURL string
	HTTPClient  *http.Client
}

type registerRequest struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Devices []string `json:"devices"`
	Data    any      `json:"data,omitempty"`
}

func NewHTTPRegistrar(baseURL, token, callbackURL string) *HTTPRegistrar {
	return &HTTPRegistrar{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Token:       token,
		CallbackURL: callbackURL,
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *HTTPRegistrar) Register(ctx context.Context, deviceIDs []string) (Subscription, error) {
	sub := Subscription{ID: uuid.NewString(), DeviceIDs: slices.Clone(deviceIDs)}
	body, err := json.Marshal(registerRequest{
		ID:      sub.ID,
		URL:     r.CallbackURL,
		Devices: sub.DeviceIDs,
		Data:    map[string][]string{"thermostat": sub.DeviceIDs},
	})
	if err != nil {
		return Subscription{}, err
	}

	resp, err := r.do(ctx, http.MethodPost, "/webhooks", body)
	if err != nil {
		return Subscription{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Subscription{}, fmt.Errorf("webhook relay register error %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return sub, nil
}

func (r *HTTPRegistrar) Unregister(ctx context.Context, sub Subscription) error {
	if sub.ID == "" {
		return nil
	}
	resp, err := r.do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(sub.ID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil
	}
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook relay unregister error %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return nil
}

func (r *HTTPRegistrar) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

// LocalRegistrar is used when the vendor posts straight to this process. It
// only records the subscription.
type LocalRegistrar struct {
	Logger *slog.Logger
}

func (r LocalRegistrar) Register(_ context.Context, deviceIDs []string) (Subscription, error) {
	sub := Subscription{ID: uuid.NewString(), DeviceIDs: slices.Clone(deviceIDs)}
	if r.Logger != nil {
		r.Logger.Debug("local webhook subscription", "subscription_id", sub.ID, "devices", deviceIDs)
	}
	return sub, nil
}

func (r LocalRegistrar) Unregister(context.Context, Subscription) error {
	return nil
}
