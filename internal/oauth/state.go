package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"
)

const SchemaVersion = 1

var ErrStateNotFound = errors.New("credential state not found")

// State is the persisted set of paired thermostats.
type State struct {
	SchemaVersion int                `json:"schema_version"`
	Devices       []DeviceCredential `json:"devices"`
}

// DeviceCredential is one paired thermostat.
type DeviceCredential struct {
	ID          string    `json:"id"`
	AccessToken string    `json:"access_token"`
	PairedAt    time.Time `json:"paired_at,omitempty"`
}

func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	return DecodeState(data)
}

func DecodeState(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s State) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", s.SchemaVersion)
	}
	seen := make(map[string]bool, len(s.Devices))
	for _, d := range s.Devices {
		if d.ID == "" {
			return fmt.Errorf("state device missing id")
		}
		if d.AccessToken == "" {
			return fmt.Errorf("state device %s missing access_token", d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("state device %s listed twice", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// Put adds or replaces a device, keeping devices sorted by id.
func (s *State) Put(d DeviceCredential) {
	for i := range s.Devices {
		if s.Devices[i].ID == d.ID {
			s.Devices[i] = d
			return
		}
	}
	s.Devices = append(s.Devices, d)
	sort.Slice(s.Devices, func(i, j int) bool { return s.Devices[i].ID < s.Devices[j].ID })
}

// Delete removes a device and reports whether it was present.
func (s *State) Delete(id string) bool {
	for i := range s.Devices {
		if s.Devices[i].ID == id {
			s.Devices = append(s.Devices[:i], s.Devices[i+1:]...)
			return true
		}
	}
	return false
}

func WriteState(path string, state State) error {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	if state.Devices == nil {
		state.Devices = []DeviceCredential{}
	}
	if err := ensureParent(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	return nil
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
