// Package webhook keeps one vendor webhook subscription covering exactly the
// paired devices and routes inbound payloads to the reconciliation engine.
package webhook

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

// Subscription is the registered webhook and the devices it covers. It is
// never edited in place; a new set means a new subscription.
type Subscription struct {
	ID        string   `json:"id"`
	DeviceIDs []string `json:"device_ids"`
}

// Registrar creates and removes subscriptions on the remote side.
type Registrar interface {
	Register(ctx context.Context, deviceIDs []string) (Subscription, error)
	// Unregister must treat an unknown subscription as success.
	Unregister(ctx context.Context, sub Subscription) error
}

// Manager reconciles the subscription with the local device set.
type Manager struct {
	registrar Registrar
	logger    *slog.Logger
	timeout   time.Duration

	mu      sync.Mutex
	devices map[string]struct{}
	current *Subscription
}

func NewManager(registrar Registrar, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registrar: registrar,
		logger:    logger,
		timeout:   15 * time.Second,
		devices:   make(map[string]struct{}),
	}
}

// Add includes id in the subscription.
func (m *Manager) Add(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.copySet()
	next[id] = struct{}{}
	return m.apply(ctx, next)
}

// Remove drops id from the subscription.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.copySet()
	delete(next, id)
	return m.apply(ctx, next)
}

// SetDevices replaces the whole device set.
func (m *Manager) SetDevices(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	return m.apply(ctx, next)
}

// Close unregisters the current subscription.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unregister(ctx)
}

// Current returns the active subscription, if any.
func (m *Manager) Current() (Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Subscription{}, false
	}
	sub := *m.current
	sub.DeviceIDs = slices.Clone(sub.DeviceIDs)
	return sub, true
}

// Devices returns the tracked device ids in sorted order.
func (m *Manager) Devices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.devices)
}

// Contains reports whether id is part of the device set.
func (m *Manager) Contains(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.devices[id]
	return ok
}

func (m *Manager) copySet() map[string]struct{} {
	next := make(map[string]struct{}, len(m.devices)+1)
	for id := range m.devices {
		next[id] = struct{}{}
	}
	return next
}

// apply runs with mu held so set changes never interleave with registration.
func (m *Manager) apply(ctx context.Context, next map[string]struct{}) error {
	if sameSet(m.devices, next) && (m.current != nil || len(next) == 0) {
		return nil
	}
	m.devices = next

	if err := m.unregister(ctx); err != nil {
		m.logger.Warn("webhook unregister failed", "err", err)
	}
	if len(next) == 0 {
		return nil
	}

	ids := sortedKeys(next)
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	sub, err := m.registrar.Register(callCtx, ids)
	if err != nil {
		registrations.WithLabelValues("error").Inc()
		m.logger.Warn("webhook register failed; devices fall back to polling", "devices", len(ids), "err", err)
		return err
	}
	registrations.WithLabelValues("ok").Inc()
	subscribedDevices.Set(float64(len(ids)))
	m.current = &sub
	m.logger.Info("webhook registered", "subscription_id", sub.ID, "devices", len(ids))
	return nil
}

func (m *Manager) unregister(ctx context.Context) error {
	if m.current == nil {
		return nil
	}
	sub := *m.current
	m.current = nil
	subscribedDevices.Set(0)

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.registrar.Unregister(callCtx, sub); err != nil {
		unregistrations.WithLabelValues("error").Inc()
		return err
	}
	unregistrations.WithLabelValues("ok").Inc()
	return nil
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
