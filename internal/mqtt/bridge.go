package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joshp123/thermosync/internal/thermostat"
)

const (
	commandTimeout   = 10 * time.Second
	publishQueueSize = 256
)

// Commander applies set commands received from the broker.
type Commander interface {
	WriteTargetTemperature(ctx context.Context, deviceID string, celsius float64) (thermostat.Device, error)
	WritePause(ctx context.Context, deviceID string, paused bool) (thermostat.Device, error)
}

// Bridge publishes change notifications and forwards set commands. It
// satisfies capability.Listener: notifications are queued and sent by Run,
// so a slow broker never holds up the caller. A full queue drops the
// message.
type Bridge struct {
	broker    Broker
	topics    Topics
	commander Commander
	logger    *slog.Logger
	now       func() time.Time

	queue    chan outbound
	commands sync.WaitGroup
}

type outbound struct {
	kind     string
	topic    string
	retained bool
	payload  []byte
}

func NewBridge(broker Broker, prefix string, commander Commander, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		broker:    broker,
		topics:    Topics{Prefix: prefix},
		commander: commander,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan outbound, publishQueueSize),
	}
}

// Start subscribes to the command topics. Each command is handled on its
// own goroutine so the broker's delivery loop is never blocked by a write.
func (b *Bridge) Start() error {
	if b.commander == nil {
		return nil
	}
	return b.broker.Subscribe(b.topics.CommandFilter(), func(topic string, payload []byte) {
		b.commands.Add(1)
		go func() {
			defer b.commands.Done()
			b.handleCommand(topic, payload)
		}()
	})
}

// Run sends queued notifications until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.queue:
			b.send(m)
		}
	}
}

// PublishDevice publishes the full retained state of d.
func (b *Bridge) PublishDevice(d thermostat.Device) {
	if d.TargetTemperature != nil {
		b.OnStateChanged(d.ID, thermostat.FieldTargetTemperature, *d.TargetTemperature)
	}
	if d.RoomTemperature != nil {
		b.OnStateChanged(d.ID, thermostat.FieldRoomTemperature, *d.RoomTemperature)
	}
	if d.Paused != nil {
		b.OnStateChanged(d.ID, thermostat.FieldPaused, *d.Paused)
	}
	b.publish("available", b.topics.Available(d.ID), true, availabilityPayload(d.Available))
}

func (b *Bridge) OnStateChanged(deviceID string, field thermostat.Field, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		b.logger.Warn("mqtt state encode failed", "device", deviceID, "field", field, "err", err)
		return
	}
	b.publish("state", b.topics.State(deviceID, field), true, payload)
}

func (b *Bridge) OnPausedTransition(deviceID string, paused bool) {
	payload, _ := json.Marshal(struct {
		Paused    bool   `json:"paused"`
		Timestamp string `json:"timestamp"`
	}{Paused: paused, Timestamp: b.now().UTC().Format(time.RFC3339)})
	b.publish("event", b.topics.PausedEvent(deviceID), false, payload)
}

func (b *Bridge) OnAvailabilityChanged(deviceID string, available bool, _ string) {
	b.publish("available", b.topics.Available(deviceID), true, availabilityPayload(available))
}

func (b *Bridge) publish(kind, topic string, retained bool, payload []byte) {
	select {
	case b.queue <- outbound{kind: kind, topic: topic, retained: retained, payload: payload}:
	default:
		published.WithLabelValues(kind, "dropped").Inc()
		b.logger.Warn("mqtt publish queue full", "topic", topic)
	}
}

func (b *Bridge) send(m outbound) {
	if err := b.broker.Publish(m.topic, m.retained, m.payload); err != nil {
		published.WithLabelValues(m.kind, "error").Inc()
		b.logger.Warn("mqtt publish failed", "topic", m.topic, "err", err)
		return
	}
	published.WithLabelValues(m.kind, "ok").Inc()
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	deviceID, command, ok := b.topics.ParseCommand(topic)
	if !ok {
		commands.WithLabelValues("unknown", "invalid").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch command {
	case CommandTargetTemperature:
		var celsius float64
		celsius, err = strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if err != nil {
			err = fmt.Errorf("%w: target temperature %q", ErrInvalidCommand, payload)
			break
		}
		_, err = b.commander.WriteTargetTemperature(ctx, deviceID, celsius)
	case CommandPause:
		var paused bool
		paused, err = ParseSwitch(string(payload))
		if err != nil {
			break
		}
		_, err = b.commander.WritePause(ctx, deviceID, paused)
	default:
		commands.WithLabelValues("unknown", "invalid").Inc()
		b.logger.Debug("mqtt command ignored", "topic", topic)
		return
	}

	if err != nil {
		result := "error"
		if errors.Is(err, ErrInvalidCommand) {
			result = "invalid"
		}
		commands.WithLabelValues(command, result).Inc()
		b.logger.Warn("mqtt command failed", "device", deviceID, "command", command, "err", err)
		return
	}
	commands.WithLabelValues(command, "ok").Inc()
}

// ErrInvalidCommand marks a payload that could not be parsed.
var ErrInvalidCommand = errors.New("invalid mqtt command")

// ParseSwitch accepts true/false, 1/0 and on/off.
func ParseSwitch(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "on":
		return true, nil
	case "false", "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: switch %q", ErrInvalidCommand, raw)
}

func availabilityPayload(available bool) []byte {
	if available {
		return []byte("online")
	}
	return []byte("offline")
}
