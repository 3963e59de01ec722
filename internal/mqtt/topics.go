package mqtt

import (
	"strings"

	"github.com/joshp123/thermosync/internal/thermostat"
)

const (
	CommandTargetTemperature = "target_temperature"
	CommandPause             = "pause"
)

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

func StatusTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/status"
}

func (t Topics) base() string {
	return strings.TrimSuffix(t.Prefix, "/")
}

// State is the retained topic for one field of a device.
func (t Topics) State(deviceID string, field thermostat.Field) string {
	return t.base() + "/" + deviceID + "/" + string(field)
}

func (t Topics) PausedEvent(deviceID string) string {
	return t.base() + "/" + deviceID + "/event/paused"
}

func (t Topics) Available(deviceID string) string {
	return t.base() + "/" + deviceID + "/available"
}

func (t Topics) Command(deviceID, command string) string {
	return t.base() + "/" + deviceID + "/set/" + command
}

// CommandFilter matches every set topic.
func (t Topics) CommandFilter() string {
	return t.base() + "/+/set/+"
}

// ParseCommand splits a set topic into device id and command.
func (t Topics) ParseCommand(topic string) (deviceID, command string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.base()+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}
