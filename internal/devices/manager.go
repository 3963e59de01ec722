// Package devices owns the lifecycle of paired thermostats: adding and
// removing them, routing user writes and pairing new ones.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/joshp123/thermosync/internal/oauth"
	"github.com/joshp123/thermosync/internal/reconcile"
	"github.com/joshp123/thermosync/internal/store"
	"github.com/joshp123/thermosync/internal/thermostat"
)

// Reconciler applies events to the store.
type Reconciler interface {
	Apply(ctx context.Context, ev reconcile.Event) error
	Forget(id string)
	Close()
}

// Poller runs one polling loop per device.
type Poller interface {
	Start(cred thermostat.Credentials)
	Stop(id string)
	StopAll()
	Trigger(id string) bool
}

// Subscriptions keeps the webhook subscription in line with the device set.
type Subscriptions interface {
	Add(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	SetDevices(ctx context.Context, ids []string) error
	Close(ctx context.Context) error
}

// Credentials persists paired devices across restarts.
type Credentials interface {
	Load(ctx context.Context) ([]thermostat.Credentials, error)
	Put(ctx context.Context, cred thermostat.Credentials) error
	Delete(ctx context.Context, id string) error
}

// Exchanger swaps an authorization code for a paired device.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (oauth.Pairing, error)
}

// Updater sends vendor-only fields that are not kept in the store.
type Updater interface {
	UpdateThermostat(ctx context.Context, cred thermostat.Credentials, update thermostat.Update) (thermostat.Snapshot, error)
}

// Options wires the optional collaborators. Nil fields disable the feature.
type Options struct {
	Subscriptions Subscriptions
	Credentials   Credentials
	Exchanger     Exchanger
	Updater       Updater
	Logger        *slog.Logger
}

var ErrPairingDisabled = errors.New("pairing is not configured")

// Manager is the entry point for every change to the device set.
type Manager struct {
	store  *store.Store
	engine Reconciler
	poller Poller

	subs      Subscriptions
	creds     Credentials
	exchanger Exchanger
	updater   Updater
	logger    *slog.Logger

	// lifecycle serializes add/remove so the webhook set, poller and store
	// move together.
	lifecycle sync.Mutex
}

func NewManager(st *store.Store, engine Reconciler, poller Poller, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     st,
		engine:    engine,
		poller:    poller,
		subs:      opts.Subscriptions,
		creds:     opts.Credentials,
		exchanger: opts.Exchanger,
		updater:   opts.Updater,
		logger:    logger,
	}
}

// AddDevice registers a thermostat, or refreshes the token of a known one,
// and starts syncing it.
func (m *Manager) AddDevice(ctx context.Context, cred thermostat.Credentials) (thermostat.Device, error) {
	cred.DeviceID = strings.TrimSpace(cred.DeviceID)
	if cred.DeviceID == "" {
		return thermostat.Device{}, fmt.Errorf("%w: device id is required", thermostat.ErrInvalidDevice)
	}
	if cred.AccessToken == "" {
		return thermostat.Device{}, fmt.Errorf("access token is required for %s", cred.DeviceID)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	dev := m.track(cred)
	if m.creds != nil {
		if err := m.creds.Put(ctx, cred); err != nil {
			m.logger.Warn("failed to persist credentials", "device_id", cred.DeviceID, "err", err)
		}
	}
	if m.subs != nil {
		if err := m.subs.Add(ctx, cred.DeviceID); err != nil {
			m.logger.Warn("webhook subscription update failed", "device_id", cred.DeviceID, "err", err)
		}
	}
	m.logger.Info("device added", "device_id", cred.DeviceID)
	return dev, nil
}

// track stores the device and (re)starts its poll loop.
func (m *Manager) track(cred thermostat.Credentials) thermostat.Device {
	patch := thermostat.Patch{AccessToken: &cred.AccessToken}
	if !m.store.Has(cred.DeviceID) {
		patch.Available = thermostat.Bool(true)
	}
	dev := m.store.Upsert(cred.DeviceID, patch)
	m.poller.Start(cred)
	return dev
}

// RemoveDevice stops syncing the thermostat and forgets it. In-flight poll
// results and vendor writes for it are dropped.
func (m *Manager) RemoveDevice(ctx context.Context, id string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.store.Has(id) {
		return fmt.Errorf("%w: %s", thermostat.ErrInvalidDevice, id)
	}
	m.poller.Stop(id)
	m.store.Remove(id)
	m.engine.Forget(id)

	if m.subs != nil {
		if err := m.subs.Remove(ctx, id); err != nil {
			m.logger.Warn("webhook subscription update failed", "device_id", id, "err", err)
		}
	}
	if m.creds != nil {
		if err := m.creds.Delete(ctx, id); err != nil {
			m.logger.Warn("failed to delete credentials", "device_id", id, "err", err)
		}
	}
	m.logger.Info("device removed", "device_id", id)
	return nil
}

// WriteTargetTemperature records a user setpoint. The value is clamped to the
// supported range and sent to the vendor in the background.
func (m *Manager) WriteTargetTemperature(ctx context.Context, id string, celsius float64) (thermostat.Device, error) {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return thermostat.Device{}, fmt.Errorf("invalid target temperature %v", celsius)
	}
	return m.write(ctx, id, thermostat.Write{TargetTemperature: &celsius})
}

// WritePause pauses or resumes the thermostat.
func (m *Manager) WritePause(ctx context.Context, id string, paused bool) (thermostat.Device, error) {
	return m.write(ctx, id, thermostat.Write{Paused: &paused})
}

func (m *Manager) write(ctx context.Context, id string, w thermostat.Write) (thermostat.Device, error) {
	if err := m.engine.Apply(ctx, reconcile.LocalWrite{DeviceID: id, Write: w}); err != nil {
		return thermostat.Device{}, err
	}
	return m.store.Get(id)
}

// WriteOutsideTemperature forwards an outside temperature reading to the
// vendor. It is not reflected in local state.
func (m *Manager) WriteOutsideTemperature(ctx context.Context, id string, celsius float64) error {
	if m.updater == nil {
		return fmt.Errorf("outside temperature updates are not configured")
	}
	dev, err := m.store.Get(id)
	if err != nil {
		return err
	}
	_, err = m.updater.UpdateThermostat(ctx, dev.Credentials(), thermostat.Update{OutsideTemperature: &celsius})
	return err
}

// Pair exchanges an authorization code and adds the resulting device.
// Temperatures stay unset until the first poll.
func (m *Manager) Pair(ctx context.Context, code string) (thermostat.Device, error) {
	if m.exchanger == nil {
		return thermostat.Device{}, ErrPairingDisabled
	}
	pairing, err := m.exchanger.Exchange(ctx, code)
	if err != nil {
		return thermostat.Device{}, err
	}
	return m.AddDevice(ctx, thermostat.Credentials{DeviceID: pairing.DeviceID, AccessToken: pairing.AccessToken})
}

// Devices returns every known device sorted by id.
func (m *Manager) Devices() []thermostat.Device {
	return m.store.All()
}

func (m *Manager) Device(id string) (thermostat.Device, error) {
	return m.store.Get(id)
}

// Refresh asks for an immediate poll.
func (m *Manager) Refresh(id string) error {
	if !m.store.Has(id) {
		return fmt.Errorf("%w: %s", thermostat.ErrInvalidDevice, id)
	}
	if !m.poller.Trigger(id) {
		return fmt.Errorf("%w: %s is not being polled", thermostat.ErrInvalidDevice, id)
	}
	return nil
}

// Restore re-adds every device found in the credential store with a single
// webhook registration. It returns the number restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.creds == nil {
		return 0, nil
	}
	creds, err := m.creds.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load credentials: %w", err)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	restored := 0
	for _, cred := range creds {
		if cred.DeviceID == "" || cred.AccessToken == "" {
			m.logger.Warn("skipping incomplete stored credentials", "device_id", cred.DeviceID)
			continue
		}
		m.track(cred)
		restored++
	}
	if m.subs != nil && restored > 0 {
		if err := m.subs.SetDevices(ctx, m.store.IDs()); err != nil {
			m.logger.Warn("webhook subscription update failed", "err", err)
		}
	}
	m.logger.Info("devices restored", "count", restored)
	return restored, nil
}

// Close stops polling, drains the engine and drops the webhook subscription.
func (m *Manager) Close(ctx context.Context) error {
	m.poller.StopAll()
	m.engine.Close()
	if m.subs != nil {
		return m.subs.Close(ctx)
	}
	return nil
}
