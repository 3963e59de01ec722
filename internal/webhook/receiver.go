package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joshp123/thermosync/internal/reconcile"
	"github.com/joshp123/thermosync/internal/thermostat"
)

// SecretHeader carries the shared secret on inbound webhooks.
const SecretHeader = "X-Thermosync-Secret"

const maxPayloadBytes = 64 << 10

var errNoDevice = errors.New("webhook payload has no thermostat id")

// Payload is the body the vendor posts for a thermostat change.
type Payload struct {
	Thermostat        *string  `json:"thermostat,omitempty"`
	TargetTemperature *float64 `json:"target_temperature,omitempty"`
	RoomTemperature   *float64 `json:"room_temperature,omitempty"`
	Source            *string  `json:"source,omitempty"`
}

// Snapshot returns the observed fields.
func (p Payload) Snapshot() thermostat.Snapshot {
	return thermostat.Snapshot{
		TargetTemperature: p.TargetTemperature,
		RoomTemperature:   p.RoomTemperature,
		Source:            p.Source,
	}
}

// ParsePayload decodes a webhook body.
func ParsePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Sink accepts routed events.
type Sink interface {
	Submit(ev reconcile.Event)
}

// Route turns a payload into an engine event. It fails when the payload has
// no device id or the id is not part of the subscription.
func (m *Manager) Route(p Payload) (reconcile.WebhookReceived, error) {
	if p.Thermostat == nil || strings.TrimSpace(*p.Thermostat) == "" {
		return reconcile.WebhookReceived{}, errNoDevice
	}
	id := strings.TrimSpace(*p.Thermostat)
	if !m.Contains(id) {
		return reconcile.WebhookReceived{}, errors.New("webhook for unknown thermostat " + id)
	}
	return reconcile.WebhookReceived{DeviceIDs: []string{id}, Body: p.Snapshot()}, nil
}

// Receiver is the HTTP endpoint the vendor (or relay) posts to.
type Receiver struct {
	Manager *Manager
	Sink    Sink
	Secret  string
	Logger  *slog.Logger
}

func (rc Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if rc.Secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(rc.Secret)) != 1 {
		received.WithLabelValues("unauthorized").Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		received.WithLabelValues("invalid").Inc()
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	payload, err := ParsePayload(body)
	if err != nil {
		received.WithLabelValues("invalid").Inc()
		logger.Warn("webhook payload invalid", "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ev, err := rc.Manager.Route(payload)
	if err != nil {
		received.WithLabelValues("dropped").Inc()
		logger.Warn("webhook dropped", "err", err)
		// Unroutable payloads are acknowledged and dropped.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	received.WithLabelValues("ok").Inc()
	rc.Sink.Submit(ev)
	w.WriteHeader(http.StatusAccepted)
}
