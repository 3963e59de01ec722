package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/thermosync/internal/thermostat"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterServesBaseEndpoints(t *testing.T) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "thermosync_test_gauge",
		Help: "test",
	}, func() float64 { return 1 }))

	r := NewRouter(RouterOptions{
		Metrics:    registry,
		Dashboards: map[string][]byte{"/dashboards/thermosmart/overview.json": []byte(`{"title":"x"}`)},
		Logger:     quietLogger(),
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/health", http.StatusOK, "ok"},
		{"/metrics", http.StatusOK, "thermosync_test_gauge 1"},
		{"/dashboards/thermosmart/overview.json", http.StatusOK, `"title"`},
		{"/dashboards/missing.json", http.StatusNotFound, "not_found"},
		{"/dashboards/", http.StatusOK, "/dashboards/thermosmart/overview.json"},
	}
	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("GET %s: status %d, want %d", tc.path, resp.StatusCode, tc.status)
		}
		if tc.body != "" && !strings.Contains(string(body), tc.body) {
			t.Fatalf("GET %s: body %q missing %q", tc.path, body, tc.body)
		}
	}
}

func TestDashboardsHandlerETag(t *testing.T) {
	h := DashboardsHandler(map[string][]byte{"/dashboards/thermosmart/overview.json": []byte(`{}`)})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/thermosmart/overview.json", nil))
	etag := rec.Header().Get("ETag")
	if rec.Code != http.StatusOK || etag == "" {
		t.Fatalf("first GET: status %d etag %q", rec.Code, etag)
	}

	req := httptest.NewRequest(http.MethodGet, "/dashboards/thermosmart/overview.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("conditional GET: status %d, want 304", rec.Code)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "not_found", "Device not found")

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusNotFound || body.Error.Code != "not_found" {
		t.Fatalf("unexpected response %d %+v", rec.Code, body)
	}
}

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsNotifications(t *testing.T) {
	hub := NewHub(quietLogger())
	srv := httptest.NewServer(NewRouter(RouterOptions{Hub: hub}))
	defer srv.Close()

	all := dialHub(t, srv, "")
	filtered := dialHub(t, srv, "?device=dev2")
	waitForClients(t, hub, 2)

	hub.OnStateChanged("dev1", thermostat.FieldTargetTemperature, 21.5)
	hub.OnPausedTransition("dev2", true)

	read := func(conn *websocket.Conn) WSMessage {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	first := read(all)
	if first.Type != EventStateChanged || first.DeviceID != "dev1" || first.Field != "target_temperature" || first.Value != 21.5 {
		t.Fatalf("unexpected first message %+v", first)
	}
	second := read(all)
	if second.Type != EventPausedTransition || second.Paused == nil || !*second.Paused {
		t.Fatalf("unexpected second message %+v", second)
	}

	only := read(filtered)
	if only.DeviceID != "dev2" || only.Type != EventPausedTransition {
		t.Fatalf("filtered client got %+v", only)
	}
}
