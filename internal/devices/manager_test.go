package devices

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"

	"github.com/joshp123/thermosync/internal/oauth"
	"github.com/joshp123/thermosync/internal/reconcile"
	"github.com/joshp123/thermosync/internal/store"
	"github.com/joshp123/thermosync/internal/thermostat"
	"github.com/joshp123/thermosync/internal/webhook"
)

type fakePoller struct {
	mu      sync.Mutex
	running map[string]thermostat.Credentials
	starts  int
	trigger []string
}

func newFakePoller() *fakePoller {
	return &fakePoller{running: make(map[string]thermostat.Credentials)}
}

func (p *fakePoller) Start(cred thermostat.Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	p.running[cred.DeviceID] = cred
}

func (p *fakePoller) Stop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, id)
}

func (p *fakePoller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = make(map[string]thermostat.Credentials)
}

func (p *fakePoller) Trigger(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.running[id]; !ok {
		return false
	}
	p.trigger = append(p.trigger, id)
	return true
}

type fakeRegistrar struct {
	mu         sync.Mutex
	registered [][]string
}

func (f *fakeRegistrar) Register(_ context.Context, ids []string) (webhook.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, slices.Clone(ids))
	return webhook.Subscription{ID: "sub", DeviceIDs: slices.Clone(ids)}, nil
}

func (f *fakeRegistrar) Unregister(context.Context, webhook.Subscription) error { return nil }

type memoryCredentials struct {
	mu    sync.Mutex
	creds map[string]thermostat.Credentials
}

func newMemoryCredentials(creds ...thermostat.Credentials) *memoryCredentials {
	m := &memoryCredentials{creds: make(map[string]thermostat.Credentials)}
	for _, c := range creds {
		m.creds[c.DeviceID] = c
	}
	return m
}

func (m *memoryCredentials) Load(context.Context) ([]thermostat.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]thermostat.Credentials, 0, len(m.creds))
	for _, c := range m.creds {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b thermostat.Credentials) int {
		if a.DeviceID < b.DeviceID {
			return -1
		}
		if a.DeviceID > b.DeviceID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *memoryCredentials) Put(_ context.Context, cred thermostat.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.DeviceID] = cred
	return nil
}

func (m *memoryCredentials) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, id)
	return nil
}

type recordingUpdater struct {
	updates []thermostat.Update
}

func (r *recordingUpdater) UpdateThermostat(_ context.Context, _ thermostat.Credentials, u thermostat.Update) (thermostat.Snapshot, error) {
	r.updates = append(r.updates, u)
	return thermostat.Snapshot{}, nil
}

type harness struct {
	manager *Manager
	store   *store.Store
	poller  *fakePoller
	reg     *fakeRegistrar
	creds   *memoryCredentials
	subs    *webhook.Manager
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	st := store.New()
	engine := reconcile.New(st, nil, nil, reconcile.WithLogger(quietLogger()))
	h := &harness{
		store:  st,
		poller: newFakePoller(),
		reg:    &fakeRegistrar{},
	}
	h.subs = webhook.NewManager(h.reg, quietLogger())
	if opts.Credentials == nil {
		h.creds = newMemoryCredentials()
		opts.Credentials = h.creds
	}
	opts.Subscriptions = h.subs
	opts.Logger = quietLogger()
	h.manager = NewManager(st, engine, h.poller, opts)
	t.Cleanup(func() { _ = h.manager.Close(context.Background()) })
	return h
}

func TestAddRemoveReAdd(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	cred := thermostat.Credentials{DeviceID: "dev1", AccessToken: "tok1"}

	dev, err := h.manager.AddDevice(ctx, cred)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !dev.Available || dev.AccessToken != "tok1" {
		t.Fatalf("unexpected device %+v", dev)
	}
	if _, ok := h.poller.running["dev1"]; !ok {
		t.Fatalf("expected poller to start")
	}
	if _, ok := h.creds.creds["dev1"]; !ok {
		t.Fatalf("expected credentials to be persisted")
	}

	if err := h.manager.RemoveDevice(ctx, "dev1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if h.store.Has("dev1") {
		t.Fatalf("device still in store")
	}
	if _, ok := h.poller.running["dev1"]; ok {
		t.Fatalf("poller still running after remove")
	}
	if _, ok := h.creds.creds["dev1"]; ok {
		t.Fatalf("credentials not deleted")
	}

	if _, err := h.manager.AddDevice(ctx, cred); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if len(h.reg.registered) != 2 {
		t.Fatalf("expected 2 registrations, got %v", h.reg.registered)
	}
	for i, ids := range h.reg.registered {
		if !slices.Equal(ids, []string{"dev1"}) {
			t.Fatalf("registration %d = %v", i, ids)
		}
	}
}

func TestRemoveUnknownDevice(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.manager.RemoveDevice(context.Background(), "ghost"); !errors.Is(err, thermostat.ErrInvalidDevice) {
		t.Fatalf("expected ErrInvalidDevice, got %v", err)
	}
}

func TestAddDeviceValidates(t *testing.T) {
	h := newHarness(t, Options{})
	if _, err := h.manager.AddDevice(context.Background(), thermostat.Credentials{AccessToken: "x"}); !errors.Is(err, thermostat.ErrInvalidDevice) {
		t.Fatalf("expected ErrInvalidDevice, got %v", err)
	}
	if _, err := h.manager.AddDevice(context.Background(), thermostat.Credentials{DeviceID: "dev1"}); err == nil {
		t.Fatalf("expected error for missing token")
	}
}

func TestWritesUpdateStore(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	if _, err := h.manager.AddDevice(ctx, thermostat.Credentials{DeviceID: "dev1", AccessToken: "tok1"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	dev, err := h.manager.WriteTargetTemperature(ctx, "dev1", 17.3)
	if err != nil {
		t.Fatalf("write target: %v", err)
	}
	if dev.TargetTemperature == nil || *dev.TargetTemperature != 17.5 {
		t.Fatalf("expected clamped target 17.5, got %v", dev.TargetTemperature)
	}
	if dev.LastLocalWriteAt.IsZero() {
		t.Fatalf("expected local write timestamp")
	}

	dev, err = h.manager.WritePause(ctx, "dev1", true)
	if err != nil {
		t.Fatalf("write pause: %v", err)
	}
	if !dev.IsPaused() {
		t.Fatalf("expected paused device")
	}

	if _, err := h.manager.WriteTargetTemperature(ctx, "ghost", 20); !errors.Is(err, thermostat.ErrInvalidDevice) {
		t.Fatalf("expected ErrInvalidDevice, got %v", err)
	}
}

func TestWriteOutsideTemperature(t *testing.T) {
	updater := &recordingUpdater{}
	h := newHarness(t, Options{Updater: updater})
	ctx := context.Background()
	_, _ = h.manager.AddDevice(ctx, thermostat.Credentials{DeviceID: "dev1", AccessToken: "tok1"})

	if err := h.manager.WriteOutsideTemperature(ctx, "dev1", 4.5); err != nil {
		t.Fatalf("outside: %v", err)
	}
	if len(updater.updates) != 1 || *updater.updates[0].OutsideTemperature != 4.5 || updater.updates[0].TargetTemperature != nil {
		t.Fatalf("unexpected updates %+v", updater.updates)
	}
}

func TestPairAddsDeviceWithoutTemperatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "abc" {
			http.Error(w, "bad code", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok1","thermostat":"dev1"}`))
	}))
	defer srv.Close()

	ex, err := oauth.NewExchanger(oauth.ThermoSmartDeclaration(srv.URL, "http://127.0.0.1:8765/pair/callback"), "client", "secret")
	if err != nil {
		t.Fatalf("exchanger: %v", err)
	}
	h := newHarness(t, Options{Exchanger: ex})

	dev, err := h.manager.Pair(context.Background(), "abc")
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if dev.ID != "dev1" || dev.AccessToken != "tok1" {
		t.Fatalf("unexpected device %+v", dev)
	}
	if dev.TargetTemperature != nil || dev.RoomTemperature != nil || dev.Paused != nil {
		t.Fatalf("expected no temperatures before first poll, got %+v", dev)
	}

	if _, err := h.manager.Pair(context.Background(), "nope"); !errors.Is(err, oauth.ErrAuthExchangeFailed) {
		t.Fatalf("expected ErrAuthExchangeFailed, got %v", err)
	}
	if h.store.Len() != 1 {
		t.Fatalf("failed pairing must not add a device")
	}
}

func TestPairDisabled(t *testing.T) {
	h := newHarness(t, Options{})
	if _, err := h.manager.Pair(context.Background(), "abc"); !errors.Is(err, ErrPairingDisabled) {
		t.Fatalf("expected ErrPairingDisabled, got %v", err)
	}
}

func TestRestoreRegistersOnce(t *testing.T) {
	creds := newMemoryCredentials(
		thermostat.Credentials{DeviceID: "dev1", AccessToken: "a"},
		thermostat.Credentials{DeviceID: "dev2", AccessToken: "b"},
		thermostat.Credentials{DeviceID: "dev3"},
	)
	h := newHarness(t, Options{Credentials: creds})

	n, err := h.manager.Restore(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 2 || h.store.Len() != 2 {
		t.Fatalf("expected 2 restored devices, got %d (store %d)", n, h.store.Len())
	}
	if len(h.reg.registered) != 1 || !slices.Equal(h.reg.registered[0], []string{"dev1", "dev2"}) {
		t.Fatalf("expected one registration for both devices, got %v", h.reg.registered)
	}
	if h.poller.starts != 2 {
		t.Fatalf("expected 2 poll loops, got %d", h.poller.starts)
	}
}

func TestRefresh(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	_, _ = h.manager.AddDevice(ctx, thermostat.Credentials{DeviceID: "dev1", AccessToken: "tok1"})

	if err := h.manager.Refresh("dev1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !slices.Equal(h.poller.trigger, []string{"dev1"}) {
		t.Fatalf("unexpected triggers %v", h.poller.trigger)
	}
	if err := h.manager.Refresh("ghost"); !errors.Is(err, thermostat.ErrInvalidDevice) {
		t.Fatalf("expected ErrInvalidDevice, got %v", err)
	}
}
