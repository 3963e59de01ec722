// Package reconcile merges polled, webhook and local observations into the
// device store and reports what changed.
//
// Events for one device are applied strictly in arrival order by a dedicated
// goroutine. Events for different devices run in parallel. When a poll result
// and a webhook for the same device race, whichever is applied last wins.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joshp123/thermosync/internal/capability"
	"github.com/joshp123/thermosync/internal/store"
	"github.com/joshp123/thermosync/internal/thermostat"
)

const (
	DefaultEchoWindow       = 30 * time.Second
	DefaultWriteTimeout     = 15 * time.Second
	DefaultUnavailableAfter = 1
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("reconcile engine closed")

// Writer pushes local changes to the vendor.
type Writer interface {
	UpdateThermostat(ctx context.Context, cred thermostat.Credentials, update thermostat.Update) (thermostat.Snapshot, error)
	SetPause(ctx context.Context, cred thermostat.Credentials, paused bool) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEchoWindow sets how long after a local write webhooks are ignored.
func WithEchoWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.echoWindow = d
		}
	}
}

// WithUnavailableAfter sets how many consecutive poll failures mark a device
// unavailable.
func WithUnavailableAfter(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.unavailableAfter = n
		}
	}
}

// WithWriteTimeout bounds each vendor write.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.writeTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine is the reconciliation core.
type Engine struct {
	store    *store.Store
	writer   Writer
	listener capability.Listener
	logger   *slog.Logger

	now              func() time.Time
	echoWindow       time.Duration
	unavailableAfter int
	writeTimeout     time.Duration

	mu     sync.RWMutex
	actors map[string]*actor
	closed bool

	writes sync.WaitGroup
}

func New(st *store.Store, writer Writer, listener capability.Listener, opts ...Option) *Engine {
	if listener == nil {
		listener = capability.NewFanout()
	}
	e := &Engine{
		store:            st,
		writer:           writer,
		listener:         listener,
		logger:           slog.Default(),
		now:              time.Now,
		echoWindow:       DefaultEchoWindow,
		unavailableAfter: DefaultUnavailableAfter,
		writeTimeout:     DefaultWriteTimeout,
		actors:           make(map[string]*actor),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit enqueues the event and returns without waiting for it to apply.
func (e *Engine) Submit(ev Event) {
	for _, id := range ev.devices() {
		if err := e.enqueue(id, task{run: e.handler(ev, id)}); err != nil {
			eventsDropped.WithLabelValues(ev.kind()).Inc()
			e.logger.Debug("event dropped", "device_id", id, "kind", ev.kind(), "err", err)
		}
	}
}

// Apply enqueues the event and waits until every affected device has
// processed it. Webhooks for unknown devices are skipped silently; other
// events for unknown devices return ErrInvalidDevice.
func (e *Engine) Apply(ctx context.Context, ev Event) error {
	ids := ev.devices()
	waits := make([]chan error, 0, len(ids))
	for _, id := range ids {
		done := make(chan error, 1)
		if err := e.enqueue(id, task{run: e.handler(ev, id), done: done}); err != nil {
			eventsDropped.WithLabelValues(ev.kind()).Inc()
			if _, ok := ev.(WebhookReceived); ok {
				continue
			}
			return err
		}
		waits = append(waits, done)
	}

	var firstErr error
	for _, done := range waits {
		select {
		case err := <-done:
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return firstErr
}

// Forget stops the device's queue after pending events drain. Call it after
// the device has been removed from the store.
func (e *Engine) Forget(id string) {
	e.mu.Lock()
	a, ok := e.actors[id]
	delete(e.actors, id)
	e.mu.Unlock()
	if ok {
		a.close()
		<-a.stopped
	}
}

// Close drains every queue and waits for outstanding vendor writes.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	actors := e.actors
	e.actors = make(map[string]*actor)
	e.mu.Unlock()

	for _, a := range actors {
		a.close()
	}
	for _, a := range actors {
		<-a.stopped
	}
	e.writes.Wait()
}

// Pending returns the number of queued events for id.
func (e *Engine) Pending(id string) int {
	e.mu.RLock()
	a, ok := e.actors[id]
	e.mu.RUnlock()
	if !ok {
		return 0
	}
	return a.depth()
}

func (e *Engine) enqueue(id string, t task) error {
	for attempt := 0; attempt < 2; attempt++ {
		a, err := e.actorFor(id)
		if err != nil {
			return err
		}
		if a.push(t) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", thermostat.ErrInvalidDevice, id)
}

func (e *Engine) actorFor(id string) (*actor, error) {
	e.mu.RLock()
	a, ok := e.actors[id]
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return a, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if a, ok := e.actors[id]; ok {
		return a, nil
	}
	if !e.store.Has(id) {
		return nil, fmt.Errorf("%w: %s", thermostat.ErrInvalidDevice, id)
	}
	a = newActor()
	e.actors[id] = a
	return a, nil
}

func (e *Engine) handler(ev Event, id string) func() error {
	return func() error {
		eventsTotal.WithLabelValues(ev.kind()).Inc()
		switch ev := ev.(type) {
		case Polled:
			return e.applyPolled(id, ev.Snapshot)
		case PollFailed:
			return e.applyPollFailed(id, ev.Err)
		case WebhookReceived:
			return e.applyWebhook(id, ev.Body)
		case LocalWrite:
			return e.applyLocalWrite(id, ev.Write)
		default:
			return fmt.Errorf("unknown event %T", ev)
		}
	}
}
