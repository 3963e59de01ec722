package thermosmart

import (
	"time"

	"github.com/joshp123/thermosync/internal/thermostat"
)

// deviceView is the public shape of a device. The access token is never
// exposed.
type deviceView struct {
	ID                  string   `json:"id"`
	TargetTemperature   *float64 `json:"target_temperature,omitempty"`
	RoomTemperature     *float64 `json:"room_temperature,omitempty"`
	Paused              *bool    `json:"paused,omitempty"`
	Available           bool     `json:"available"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	LastLocalWriteAt    string   `json:"last_local_write_at,omitempty"`
}

func newDeviceView(d thermostat.Device) deviceView {
	v := deviceView{
		ID:                  d.ID,
		TargetTemperature:   d.TargetTemperature,
		RoomTemperature:     d.RoomTemperature,
		Paused:              d.Paused,
		Available:           d.Available,
		ConsecutiveFailures: d.ConsecutiveFailures,
	}
	if !d.LastLocalWriteAt.IsZero() {
		v.LastLocalWriteAt = d.LastLocalWriteAt.UTC().Format(time.RFC3339)
	}
	return v
}

// fields returns the view as plain values for structpb.
func (v deviceView) fields() map[string]any {
	out := map[string]any{
		"id":                   v.ID,
		"available":            v.Available,
		"consecutive_failures": float64(v.ConsecutiveFailures),
	}
	if v.TargetTemperature != nil {
		out["target_temperature"] = *v.TargetTemperature
	}
	if v.RoomTemperature != nil {
		out["room_temperature"] = *v.RoomTemperature
	}
	if v.Paused != nil {
		out["paused"] = *v.Paused
	}
	if v.LastLocalWriteAt != "" {
		out["last_local_write_at"] = v.LastLocalWriteAt
	}
	return out
}
