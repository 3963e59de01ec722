package reconcile

import "github.com/joshp123/thermosync/internal/thermostat"

// Event is an input to the engine. The set of events is closed.
type Event interface {
	kind() string
	devices() []string
}

// Polled carries the result of a successful scheduled fetch.
type Polled struct {
	DeviceID string
	Snapshot thermostat.Snapshot
}

// PollFailed reports a scheduled fetch that returned an error.
type PollFailed struct {
	DeviceID string
	Err      error
}

// WebhookReceived carries one inbound webhook payload for the listed devices.
type WebhookReceived struct {
	DeviceIDs []string
	Body      thermostat.Snapshot
}

// LocalWrite is a user-initiated change.
type LocalWrite struct {
	DeviceID string
	Write    thermostat.Write
}

func (Polled) kind() string          { return "polled" }
func (PollFailed) kind() string      { return "poll_failed" }
func (WebhookReceived) kind() string { return "webhook" }
func (LocalWrite) kind() string      { return "local_write" }

func (e Polled) devices() []string          { return []string{e.DeviceID} }
func (e PollFailed) devices() []string      { return []string{e.DeviceID} }
func (e WebhookReceived) devices() []string { return e.DeviceIDs }
func (e LocalWrite) devices() []string      { return []string{e.DeviceID} }
