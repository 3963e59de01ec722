package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/thermosync/internal/capability"
	"github.com/joshp123/thermosync/internal/store"
	"github.com/joshp123/thermosync/internal/thermostat"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeWriter struct {
	mu      sync.Mutex
	updates []thermostat.Update
	pauses  []bool
	err     error
}

func (w *fakeWriter) UpdateThermostat(_ context.Context, _ thermostat.Credentials, update thermostat.Update) (thermostat.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates = append(w.updates, update)
	return thermostat.Snapshot{TargetTemperature: update.TargetTemperature}, w.err
}

func (w *fakeWriter) SetPause(_ context.Context, _ thermostat.Credentials, paused bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pauses = append(w.pauses, paused)
	return w.err
}

type harness struct {
	store    *store.Store
	engine   *Engine
	recorder *capability.Recorder
	writer   *fakeWriter
	clock    *fakeClock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    store.New(),
		recorder: &capability.Recorder{},
		writer:   &fakeWriter{},
		clock:    &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	base := []Option{
		WithClock(h.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.engine = New(h.store, h.writer, h.recorder, append(base, opts...)...)
	t.Cleanup(h.engine.Close)
	h.store.Upsert("dev1", thermostat.Patch{
		AccessToken: thermostat.String("tok1"),
		Available:   thermostat.Bool(true),
	})
	return h
}

func (h *harness) apply(t *testing.T, ev Event) {
	t.Helper()
	if err := h.engine.Apply(context.Background(), ev); err != nil {
		t.Fatalf("apply %T: %v", ev, err)
	}
}

func (h *harness) device(t *testing.T) thermostat.Device {
	t.Helper()
	d, err := h.store.Get("dev1")
	if err != nil {
		t.Fatalf("get dev1: %v", err)
	}
	return d
}

func TestPolledEmitsOneNotificationPerChangedField(t *testing.T) {
	h := newHarness(t)
	h.apply(t, Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{
		TargetTemperature: thermostat.Float(20),
		RoomTemperature:   thermostat.Float(19.2),
		Source:            thermostat.String("manual"),
	}})

	if got := h.recorder.Count(capability.KindStateChanged); got != 3 {
		t.Fatalf("expected 3 state changes, got %d", got)
	}
	if got := h.recorder.Count(capability.KindPausedTransition); got != 0 {
		t.Fatalf("unpaused first observation should not trigger, got %d", got)
	}

	h.recorder.Reset()
	h.apply(t, Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{
		TargetTemperature: thermostat.Float(20),
		RoomTemperature:   thermostat.Float(19.4),
	}})
	events := h.recorder.Events()
	if len(events) != 1 || events[0].Field != thermostat.FieldRoomTemperature || events[0].Value != 19.4 {
		t.Fatalf("expected single room change, got %+v", events)
	}
}

func TestPolledTargetIsClamped(t *testing.T) {
	h := newHarness(t)
	h.apply(t, Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{TargetTemperature: thermostat.Float(17.3)}})
	if got := *h.device(t).TargetTemperature; got != 17.5 {
		t.Fatalf("expected clamped 17.5, got %v", got)
	}
}

func TestWebhookInsideEchoWindowIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.apply(t, LocalWrite{DeviceID: "dev1", Write: thermostat.Write{TargetTemperature: thermostat.Float(21)}})
	h.recorder.Reset()

	h.clock.Advance(10 * time.Second)
	h.apply(t, WebhookReceived{DeviceIDs: []string{"dev1"}, Body: thermostat.Snapshot{
		TargetTemperature: thermostat.Float(25),
		Source:            thermostat.String("pause"),
	}})

	dev := h.device(t)
	if *dev.TargetTemperature != 21 {
		t.Fatalf("echo mutated target: %v", *dev.TargetTemperature)
	}
	if dev.Paused != nil {
		t.Fatalf("echo mutated pause state")
	}
	if n := len(h.recorder.Events()); n != 0 {
		t.Fatalf("expected no notifications, got %d", n)
	}

	h.clock.Advance(21 * time.Second)
	h.apply(t, WebhookReceived{DeviceIDs: []string{"dev1"}, Body: thermostat.Snapshot{TargetTemperature: thermostat.Float(25)}})
	if *h.device(t).TargetTemperature != 25 {
		t.Fatalf("webhook after echo window should apply")
	}
}

func TestWebhookWithEqualValueDoesNotNotify(t *testing.T) {
	h := newHarness(t)
	h.apply(t, LocalWrite{DeviceID: "dev1", Write: thermostat.Write{TargetTemperature: thermostat.Float(21)}})
	h.recorder.Reset()

	h.clock.Advance(DefaultEchoWindow)
	h.apply(t, WebhookReceived{DeviceIDs: []string{"dev1"}, Body: thermostat.Snapshot{TargetTemperature: thermostat.Float(21)}})
	if n := len(h.recorder.Events()); n != 0 {
		t.Fatalf("expected no notifications, got %+v", h.recorder.Events())
	}
}

func TestEchoWindowIsConfigurable(t *testing.T) {
	h := newHarness(t, WithEchoWindow(5*time.Second))
	h.apply(t, LocalWrite{DeviceID: "dev1", Write: thermostat.Write{TargetTemperature: thermostat.Float(21)}})
	h.clock.Advance(6 * time.Second)
	h.apply(t, WebhookReceived{DeviceIDs: []string{"dev1"}, Body: thermostat.Snapshot{TargetTemperature: thermostat.Float(23)}})
	if *h.device(t).TargetTemperature != 23 {
		t.Fatalf("expected webhook outside 5s window to apply")
	}
}

func TestPauseTriggerFiresOncePerTransition(t *testing.T) {
	h := newHarness(t)
	paused := thermostat.Snapshot{Source: thermostat.String("pause")}
	h.apply(t, Polled{DeviceID: "dev1", Snapshot: paused})
	h.apply(t, Polled{DeviceID: "dev1", Snapshot: paused})
	h.apply(t, WebhookReceived{DeviceIDs: []string{"dev1"}, Body: paused})

	if got := h.recorder.Count(capability.KindPausedTransition); got != 1 {
		t.Fatalf("expected exactly one paused trigger, got %d", got)
	}

	h.apply(t, Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{Source: thermostat.String("manual")}})
	var transitions []bool
	for _, e := range h.recorder.Events() {
		if e.Kind == capability.KindPausedTransition {
			transitions = append(transitions, e.Paused)
		}
	}
	if len(transitions) != 2 || !transitions[0] || transitions[1] {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestPollFailureMarksUnavailableUntilNextSuccess(t *testing.T) {
	h := newHarness(t)
	h.apply(t, Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{TargetTemperature: thermostat.Float(20)}})
	h.recorder.Reset()

	failure := &thermostat.RemoteError{Status: 502, Message: "bad gateway"}
	h.apply(t, PollFailed{DeviceID: "dev1", Err: failure})
	h.apply(t, PollFailed{DeviceID: "dev1", Err: failure})

	dev := h.device(t)
	if dev.Available {
		t.Fatalf("expected device unavailable")
	}
	if dev.ConsecutiveFailures != 2 {
		t.Fatalf("expected 2 failures, got %d", dev.ConsecutiveFailures)
	}
	if *dev.TargetTemperature != 20 {
		t.Fatalf("cached snapshot should be kept")
	}
	if got := h.recorder.Count(capability.KindAvailabilityChanged); got != 1 {
		t.Fatalf("expected one availability change, got %d", got)
	}

	h.apply(t, Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{TargetTemperature: thermostat.Float(20)}})
	dev = h.device(t)
	if !dev.Available || dev.ConsecutiveFailures != 0 {
		t.Fatalf("expected recovery, got %+v", dev)
	}
	events := h.recorder.Events()
	last := events[len(events)-1]
	if last.Kind != capability.KindAvailabilityChanged || !last.Available {
		t.Fatalf("expected availability restored, got %+v", last)
	}
}

func TestUnavailableAfterThreshold(t *testing.T) {
	h := newHarness(t, WithUnavailableAfter(3))
	for i := 0; i < 2; i++ {
		h.apply(t, PollFailed{DeviceID: "dev1", Err: errors.New("boom")})
	}
	if !h.device(t).Available {
		t.Fatalf("device should stay available below threshold")
	}
	h.apply(t, PollFailed{DeviceID: "dev1", Err: errors.New("boom")})
	if h.device(t).Available {
		t.Fatalf("device should be unavailable at threshold")
	}
}

func TestLocalWriteIsOptimisticAndClamped(t *testing.T) {
	h := newHarness(t)
	h.writer.err = &thermostat.RemoteError{Status: 500, Message: "boom"}

	h.apply(t, LocalWrite{DeviceID: "dev1", Write: thermostat.Write{
		TargetTemperature: thermostat.Float(31),
		Paused:            thermostat.Bool(true),
	}})
	h.engine.writes.Wait()

	dev := h.device(t)
	if *dev.TargetTemperature != 30 {
		t.Fatalf("expected clamped optimistic target 30, got %v", *dev.TargetTemperature)
	}
	if !dev.IsPaused() {
		t.Fatalf("expected optimistic pause to stick after vendor failure")
	}
	if !dev.LastLocalWriteAt.Equal(h.clock.Now()) {
		t.Fatalf("expected last local write to be stamped")
	}

	h.writer.mu.Lock()
	defer h.writer.mu.Unlock()
	if len(h.writer.updates) != 1 || *h.writer.updates[0].TargetTemperature != 30 {
		t.Fatalf("unexpected vendor updates %+v", h.writer.updates)
	}
	if len(h.writer.pauses) != 1 || !h.writer.pauses[0] {
		t.Fatalf("unexpected vendor pauses %v", h.writer.pauses)
	}
	if got := h.recorder.Count(capability.KindPausedTransition); got != 1 {
		t.Fatalf("expected local pause to trigger once, got %d", got)
	}
}

func TestEventsForRemovedDeviceAreRejected(t *testing.T) {
	h := newHarness(t)
	h.apply(t, Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{TargetTemperature: thermostat.Float(20)}})

	h.store.Remove("dev1")
	h.engine.Forget("dev1")

	err := h.engine.Apply(context.Background(), LocalWrite{DeviceID: "dev1", Write: thermostat.Write{TargetTemperature: thermostat.Float(22)}})
	if !errors.Is(err, thermostat.ErrInvalidDevice) {
		t.Fatalf("expected ErrInvalidDevice, got %v", err)
	}
	h.engine.Submit(Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{TargetTemperature: thermostat.Float(25)}})
	if h.store.Has("dev1") {
		t.Fatalf("late poll resurrected removed device")
	}
	if err := h.engine.Apply(context.Background(), WebhookReceived{DeviceIDs: []string{"dev1"}}); err != nil {
		t.Fatalf("webhook for unknown device should be skipped, got %v", err)
	}
}

func TestEventsAreAppliedInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 50; i++ {
		h.engine.Submit(Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{RoomTemperature: thermostat.Float(float64(i))}})
	}
	h.apply(t, Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{RoomTemperature: thermostat.Float(99)}})

	var seen []float64
	for _, e := range h.recorder.Events() {
		if e.Field == thermostat.FieldRoomTemperature {
			seen = append(seen, e.Value.(float64))
		}
	}
	if len(seen) != 51 {
		t.Fatalf("expected 51 room changes, got %d", len(seen))
	}
	for i := 0; i < 50; i++ {
		if seen[i] != float64(i) {
			t.Fatalf("out of order at %d: %v", i, seen[i])
		}
	}
	if *h.device(t).RoomTemperature != 99 {
		t.Fatalf("last applied event should win")
	}
}

func TestDevicesAreIndependent(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.store.Upsert(fmt.Sprintf("dev%d", i+2), thermostat.Patch{Available: thermostat.Bool(true)})
	}
	ids := h.store.IDs()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = h.engine.Apply(context.Background(), Polled{DeviceID: id, Snapshot: thermostat.Snapshot{TargetTemperature: thermostat.Float(20)}})
		}(id)
	}
	wg.Wait()
	for _, id := range ids {
		d, _ := h.store.Get(id)
		if d.TargetTemperature == nil || *d.TargetTemperature != 20 {
			t.Fatalf("%s not updated", id)
		}
	}
}

// gateListener holds the first notification until release is closed.
type gateListener struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gateListener) OnStateChanged(string, thermostat.Field, any) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
}

func (g *gateListener) OnPausedTransition(string, bool)            {}
func (g *gateListener) OnAvailabilityChanged(string, bool, string) {}

func TestPendingCountsQueuedEvents(t *testing.T) {
	st := store.New()
	st.Upsert("dev1", thermostat.Patch{AccessToken: thermostat.String("tok1"), Available: thermostat.Bool(true)})
	gate := &gateListener{entered: make(chan struct{}), release: make(chan struct{})}
	engine := New(st, nil, gate, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer engine.Close()

	polled := func(target float64) Event {
		return Polled{DeviceID: "dev1", Snapshot: thermostat.Snapshot{TargetTemperature: thermostat.Float(target)}}
	}
	engine.Submit(polled(18))
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first event never reached the listener")
	}
	engine.Submit(polled(19))
	engine.Submit(polled(20))

	if got := engine.Pending("dev1"); got != 2 {
		t.Fatalf("Pending(dev1) = %d, want 2", got)
	}
	if got := engine.Pending("ghost"); got != 0 {
		t.Fatalf("Pending(ghost) = %d, want 0", got)
	}

	close(gate.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := engine.Apply(ctx, polled(21)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := engine.Pending("dev1"); got != 0 {
		t.Fatalf("Pending(dev1) after drain = %d", got)
	}
}
