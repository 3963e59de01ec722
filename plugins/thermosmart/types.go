package thermosmart

import "github.com/joshp123/thermosync/internal/thermostat"

// thermostatResponse is the vendor's thermostat representation. Fields the
// sync loop does not use are ignored.
type thermostatResponse struct {
	TargetTemperature *float64 `json:"target_temperature"`
	RoomTemperature   *float64 `json:"room_temperature"`
	Source            *string  `json:"source"`
}

func (r thermostatResponse) snapshot() thermostat.Snapshot {
	return thermostat.Snapshot{
		TargetTemperature: r.TargetTemperature,
		RoomTemperature:   r.RoomTemperature,
		Source:            r.Source,
	}
}

type pauseRequest struct {
	Pause bool `json:"pause"`
}
