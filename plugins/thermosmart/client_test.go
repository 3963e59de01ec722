package thermosmart

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshp123/thermosync/internal/thermostat"
)

var cred = thermostat.Credentials{DeviceID: "dev1", AccessToken: "tok1"}

func assertAuth(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != "Bearer tok1" {
		t.Errorf("expected bearer token, got %q", got)
	}
	if got := r.Header.Get("Accept"); got != "application/json" {
		t.Errorf("expected json accept header, got %q", got)
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return NewClient(cfg)
}

func TestFetchThermostat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assertAuth(t, r)
		if r.Method != http.MethodGet || r.URL.Path != "/thermostat/dev1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"target_temperature":21,"room_temperature":19.5,"source":"pause","name":"hall"}`))
	}, Config{})

	snap, err := client.FetchThermostat(context.Background(), cred)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if *snap.TargetTemperature != 21 || *snap.RoomTemperature != 19.5 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if paused := snap.Paused(); paused == nil || !*paused {
		t.Fatalf("expected paused snapshot")
	}
}

func TestUpdateThermostatClampsTarget(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assertAuth(t, r)
		if r.Method != http.MethodPut || r.URL.Path != "/thermostat/dev1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json content type")
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}, Config{})

	_, err := client.UpdateThermostat(context.Background(), cred, thermostat.Update{
		TargetTemperature:  thermostat.Float(31),
		OutsideTemperature: thermostat.Float(3.2),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if body["target_temperature"] != 30.0 || body["outside_temperature"] != 3.2 {
		t.Fatalf("unexpected body %v", body)
	}

	if _, err := client.UpdateThermostat(context.Background(), cred, thermostat.Update{}); err == nil {
		t.Fatalf("expected error for empty update")
	}
}

func TestSetPause(t *testing.T) {
	var got pauseRequest
	var path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assertAuth(t, r)
		path = r.Method + " " + r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}, Config{})

	if err := client.SetPause(context.Background(), cred, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if path != "POST /thermostat/dev1/pause" || !got.Pause {
		t.Fatalf("unexpected pause call %s %+v", path, got)
	}
}

func TestRemoteError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	}, Config{})

	_, err := client.FetchThermostat(context.Background(), cred)
	remote, ok := thermostat.IsRemote(err)
	if !ok {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Status != http.StatusInternalServerError || remote.Message != "boom" {
		t.Fatalf("unexpected remote error %+v", remote)
	}
}

func TestTimeoutMapsToRemoteTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Config{RequestTimeout: 20 * time.Millisecond})
	defer close(release)

	_, err := client.FetchThermostat(context.Background(), cred)
	if !errors.Is(err, thermostat.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRateLimitBlocksCalls(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}, Config{PerMinute: 1})

	if _, err := client.FetchThermostat(context.Background(), cred); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	_, err := client.FetchThermostat(context.Background(), cred)
	remote, ok := thermostat.IsRemote(err)
	if !ok || remote.Status != http.StatusTooManyRequests {
		t.Fatalf("expected local 429, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", hits.Load())
	}
}

func TestEmptyDeviceIDRejected(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.FetchThermostat(context.Background(), thermostat.Credentials{}); !errors.Is(err, thermostat.ErrInvalidDevice) {
		t.Fatalf("expected ErrInvalidDevice, got %v", err)
	}
}
