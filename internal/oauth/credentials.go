package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/joshp123/thermosync/internal/thermostat"
)

// CredentialStore persists paired thermostat credentials to a local 0600 file
// and, when a blob store is set, mirrors every change to it.
type CredentialStore struct {
	provider string
	path     string
	blob     BlobStore
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewCredentialStore(provider, path string, blob BlobStore, logger *slog.Logger) (*CredentialStore, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if path == "" {
		return nil, fmt.Errorf("credentials path is required")
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("credentials path must be absolute")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{
		provider: provider,
		path:     path,
		blob:     blob,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Load returns the paired credentials. The local file wins; the blob mirror is
// used to seed a missing file. No state at all yields an empty list.
func (s *CredentialStore) Load(ctx context.Context) ([]thermostat.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}
	pairedDevices.WithLabelValues(s.provider).Set(float64(len(state.Devices)))
	out := make([]thermostat.Credentials, 0, len(state.Devices))
	for _, d := range state.Devices {
		out = append(out, thermostat.Credentials{DeviceID: d.ID, AccessToken: d.AccessToken})
	}
	return out, nil
}

// Put records a newly paired device.
func (s *CredentialStore) Put(ctx context.Context, cred thermostat.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	state.Put(DeviceCredential{ID: cred.DeviceID, AccessToken: cred.AccessToken, PairedAt: s.now().UTC()})
	return s.persistLocked(ctx, state)
}

// Delete forgets a device. Unknown ids are not an error.
func (s *CredentialStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	if !state.Delete(id) {
		return nil
	}
	return s.persistLocked(ctx, state)
}

func (s *CredentialStore) loadLocked(ctx context.Context) (State, error) {
	local, localErr := LoadState(s.path)
	if localErr == nil {
		if err := checkStateFile(s.path); err != nil {
			return State{}, err
		}
		return local, nil
	}
	if !errors.Is(localErr, ErrStateNotFound) {
		return State{}, localErr
	}

	if s.blob != nil {
		data, err := s.blob.Load(ctx, s.provider)
		switch {
		case err == nil:
			state, err := DecodeState(data)
			if err != nil {
				return State{}, fmt.Errorf("blob state: %w", err)
			}
			if err := WriteState(s.path, state); err != nil {
				return State{}, err
			}
			s.logger.Info("restored credentials from blob", "devices", len(state.Devices))
			return state, nil
		case !errors.Is(err, ErrBlobNotFound):
			remotePersistOK.WithLabelValues(s.provider).Set(0)
			s.logger.Warn("credential blob load failed", "err", err)
		}
	}
	return State{SchemaVersion: SchemaVersion}, nil
}

func (s *CredentialStore) persistLocked(ctx context.Context, state State) error {
	if err := WriteState(s.path, state); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	pairedDevices.WithLabelValues(s.provider).Set(float64(len(state.Devices)))
	if s.blob == nil {
		return nil
	}
	if err := s.persistBlob(ctx, state); err != nil {
		remotePersistOK.WithLabelValues(s.provider).Set(0)
		s.logger.Warn("credential blob save failed", "err", err)
		return nil
	}
	remotePersistOK.WithLabelValues(s.provider).Set(1)
	return nil
}

func (s *CredentialStore) persistBlob(ctx context.Context, state State) error {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return s.blob.Save(ctx, s.provider, data)
}
