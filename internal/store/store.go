// Package store holds the in-memory device state that reconciliation merges
// observations into.
//
// A Store is an explicit instance owned by its creator; nothing here is
// process-global. Values handed out are deep copies.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joshp123/thermosync/internal/thermostat"
)

// Store maps device ids to their current Device record.
type Store struct {
	mu      sync.RWMutex
	devices map[string]*thermostat.Device
}

func New() *Store {
	return &Store{devices: make(map[string]*thermostat.Device)}
}

// Get returns a copy of the device or ErrInvalidDevice.
func (s *Store) Get(id string) (thermostat.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return thermostat.Device{}, fmt.Errorf("%w: %s", thermostat.ErrInvalidDevice, id)
	}
	return d.Clone(), nil
}

// Has reports whether id is tracked.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[id]
	return ok
}

// Upsert merges patch into the device, creating it when absent.
func (s *Store) Upsert(id string, patch thermostat.Patch) thermostat.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		d = &thermostat.Device{ID: id}
		s.devices[id] = d
	}
	patch.Apply(d)
	return d.Clone()
}

// Update merges patch into an existing device. Removed devices stay removed.
func (s *Store) Update(id string, patch thermostat.Patch) (thermostat.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return thermostat.Device{}, fmt.Errorf("%w: %s", thermostat.ErrInvalidDevice, id)
	}
	patch.Apply(d)
	return d.Clone(), nil
}

// All returns every device sorted by id, as of the call.
func (s *Store) All() []thermostat.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]thermostat.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the tracked ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove drops the device and reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; !ok {
		return false
	}
	delete(s.devices, id)
	return true
}

// Len returns the number of tracked devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}
