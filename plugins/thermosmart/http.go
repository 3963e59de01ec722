package thermosmart

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joshp123/thermosync/internal/oauth"
	"github.com/joshp123/thermosync/internal/server"
	"github.com/joshp123/thermosync/internal/thermostat"
)

const (
	maxBodyBytes   = 16 << 10
	pairStateTTL   = 10 * time.Minute
	maxPairPending = 32
)

type targetRequest struct {
	TargetTemperature  *float64 `json:"target_temperature"`
	OutsideTemperature *float64 `json:"outside_temperature"`
}

type pauseBody struct {
	Paused *bool `json:"paused"`
}

func (p *Plugin) listDevices(w http.ResponseWriter, _ *http.Request) {
	devices := p.devices.Devices()
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, newDeviceView(d))
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{"devices": views})
}

func (p *Plugin) getDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := p.devices.Device(chi.URLParam(r, "id"))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, newDeviceView(dev))
}

func (p *Plugin) removeDevice(w http.ResponseWriter, r *http.Request) {
	if err := p.devices.RemoveDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDeviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Plugin) setTargetTemperature(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req targetRequest
	if err := decodeBody(r, &req); err != nil {
		server.WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.TargetTemperature == nil && req.OutsideTemperature == nil {
		server.WriteError(w, http.StatusBadRequest, "invalid_body", "target_temperature or outside_temperature is required")
		return
	}

	if req.OutsideTemperature != nil {
		if err := p.devices.WriteOutsideTemperature(r.Context(), id, *req.OutsideTemperature); err != nil {
			writeDeviceError(w, err)
			return
		}
	}
	if req.TargetTemperature != nil {
		if _, err := p.devices.WriteTargetTemperature(r.Context(), id, *req.TargetTemperature); err != nil {
			writeDeviceError(w, err)
			return
		}
	}
	dev, err := p.devices.Device(id)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, newDeviceView(dev))
}

func (p *Plugin) setPause(w http.ResponseWriter, r *http.Request) {
	var req pauseBody
	if err := decodeBody(r, &req); err != nil {
		server.WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Paused == nil {
		server.WriteError(w, http.StatusBadRequest, "invalid_body", "paused is required")
		return
	}
	dev, err := p.devices.WritePause(r.Context(), chi.URLParam(r, "id"), *req.Paused)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, newDeviceView(dev))
}

func (p *Plugin) refresh(w http.ResponseWriter, r *http.Request) {
	if err := p.devices.Refresh(chi.URLParam(r, "id")); err != nil {
		writeDeviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (p *Plugin) pairStart(w http.ResponseWriter, r *http.Request) {
	if p.auth == nil {
		server.WriteError(w, http.StatusServiceUnavailable, "pairing_disabled", "pairing is not configured")
		return
	}
	state := p.pairing.issue()
	http.Redirect(w, r, p.auth.AuthCodeURL(state), http.StatusFound)
}

func (p *Plugin) pairCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if msg := query.Get("error"); msg != "" {
		server.WriteError(w, http.StatusBadRequest, "authorization_denied", msg)
		return
	}
	if !p.pairing.consume(query.Get("state")) {
		server.WriteError(w, http.StatusBadRequest, "invalid_state", "unknown or expired pairing state")
		return
	}
	code := query.Get("code")
	if code == "" {
		server.WriteError(w, http.StatusBadRequest, "missing_code", "code is required")
		return
	}

	dev, err := p.devices.Pair(r.Context(), code)
	if err != nil {
		p.logger.Warn("pairing failed", "err", err)
		if errors.Is(err, oauth.ErrAuthExchangeFailed) {
			server.WriteError(w, http.StatusBadGateway, "auth_exchange_failed", err.Error())
			return
		}
		writeDeviceError(w, err)
		return
	}
	p.logger.Info("thermostat paired", "device_id", dev.ID)
	server.WriteJSON(w, http.StatusOK, newDeviceView(dev))
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, thermostat.ErrInvalidDevice):
		server.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case isRemote(err):
		server.WriteError(w, http.StatusBadGateway, "vendor_error", err.Error())
	default:
		server.WriteError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func isRemote(err error) bool {
	_, ok := thermostat.IsRemote(err)
	return ok
}

// pairStates tracks issued OAuth state values until they are used or expire.
type pairStates struct {
	mu      sync.Mutex
	now     func() time.Time
	pending map[string]time.Time
}

func newPairStates() *pairStates {
	return &pairStates{now: time.Now, pending: make(map[string]time.Time)}
}

func (s *pairStates) issue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	if len(s.pending) >= maxPairPending {
		var oldest string
		var oldestAt time.Time
		for k, exp := range s.pending {
			if oldest == "" || exp.Before(oldestAt) {
				oldest, oldestAt = k, exp
			}
		}
		delete(s.pending, oldest)
	}
	state := uuid.NewString()
	s.pending[state] = s.now().Add(pairStateTTL)
	return state
}

func (s *pairStates) consume(state string) bool {
	if state == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.pending[state]
	delete(s.pending, state)
	return ok && s.now().Before(exp)
}

func (s *pairStates) pruneLocked() {
	now := s.now()
	for k, exp := range s.pending {
		if !now.Before(exp) {
			delete(s.pending, k)
		}
	}
}
