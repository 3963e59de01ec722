// Package capability defines how state changes leave the sync core.
package capability

import (
	"log/slog"
	"sync"

	"github.com/joshp123/thermosync/internal/thermostat"
)

// Listener receives change notifications from the reconciliation engine.
// Calls for one device arrive in order; implementations must not block.
type Listener interface {
	OnStateChanged(deviceID string, field thermostat.Field, value any)
	OnPausedTransition(deviceID string, paused bool)
	OnAvailabilityChanged(deviceID string, available bool, reason string)
}

// Fanout forwards notifications to every registered listener.
type Fanout struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewFanout(listeners ...Listener) *Fanout {
	f := &Fanout{}
	for _, l := range listeners {
		f.Add(l)
	}
	return f
}

// Add registers a listener. Nil listeners are ignored.
func (f *Fanout) Add(l Listener) {
	if l == nil {
		return
	}
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

func (f *Fanout) snapshot() []Listener {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Listener(nil), f.listeners...)
}

func (f *Fanout) OnStateChanged(deviceID string, field thermostat.Field, value any) {
	for _, l := range f.snapshot() {
		l.OnStateChanged(deviceID, field, value)
	}
}

func (f *Fanout) OnPausedTransition(deviceID string, paused bool) {
	for _, l := range f.snapshot() {
		l.OnPausedTransition(deviceID, paused)
	}
}

func (f *Fanout) OnAvailabilityChanged(deviceID string, available bool, reason string) {
	for _, l := range f.snapshot() {
		l.OnAvailabilityChanged(deviceID, available, reason)
	}
}

// LogListener writes every notification to a structured logger.
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l LogListener) OnStateChanged(deviceID string, field thermostat.Field, value any) {
	l.logger().Debug("state changed", "device_id", deviceID, "field", string(field), "value", value)
}

func (l LogListener) OnPausedTransition(deviceID string, paused bool) {
	l.logger().Info("pause transition", "device_id", deviceID, "paused", paused)
}

func (l LogListener) OnAvailabilityChanged(deviceID string, available bool, reason string) {
	if available {
		l.logger().Info("device available", "device_id", deviceID)
		return
	}
	l.logger().Warn("device unavailable", "device_id", deviceID, "reason", reason)
}

// Notification is a recorded listener call.
type Notification struct {
	Kind      string
	DeviceID  string
	Field     thermostat.Field
	Value     any
	Paused    bool
	Available bool
	Reason    string
}

const (
	KindStateChanged        = "state_changed"
	KindPausedTransition    = "paused_transition"
	KindAvailabilityChanged = "availability_changed"
)

// Recorder keeps every notification in memory. It is meant for tests and
// diagnostics.
type Recorder struct {
	mu     sync.Mutex
	events []Notification
}

func (r *Recorder) record(n Notification) {
	r.mu.Lock()
	r.events = append(r.events, n)
	r.mu.Unlock()
}

func (r *Recorder) OnStateChanged(deviceID string, field thermostat.Field, value any) {
	r.record(Notification{Kind: KindStateChanged, DeviceID: deviceID, Field: field, Value: value})
}

func (r *Recorder) OnPausedTransition(deviceID string, paused bool) {
	r.record(Notification{Kind: KindPausedTransition, DeviceID: deviceID, Paused: paused})
}

func (r *Recorder) OnAvailabilityChanged(deviceID string, available bool, reason string) {
	r.record(Notification{Kind: KindAvailabilityChanged, DeviceID: deviceID, Available: available, Reason: reason})
}

// Events returns a copy of what has been recorded so far.
func (r *Recorder) Events() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.events...)
}

// Count returns how many notifications of kind were recorded.
func (r *Recorder) Count(kind string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
