package thermostat

import (
	"strings"
	"time"
)

// Field names a reportable thermostat attribute.
type Field string

const (
	FieldTargetTemperature Field = "target_temperature"
	FieldRoomTemperature   Field = "room_temperature"
	FieldPaused            Field = "paused"
)

// SourcePause is the vendor source value reported while a thermostat is paused.
const SourcePause = "pause"

// Credentials identify a paired thermostat and authorize calls on its behalf.
type Credentials struct {
	DeviceID    string
	AccessToken string
}

// Device is the locally authoritative view of one thermostat.
//
// Nil pointer fields have not been observed yet. A zero LastLocalWriteAt means
// no local write has been made.
type Device struct {
	ID                  string
	AccessToken         string
	TargetTemperature   *float64
	RoomTemperature     *float64
	Paused              *bool
	LastLocalWriteAt    time.Time
	Available           bool
	ConsecutiveFailures int
}

// Credentials returns the identity needed to call the vendor for this device.
func (d Device) Credentials() Credentials {
	return Credentials{DeviceID: d.ID, AccessToken: d.AccessToken}
}

// IsPaused treats an unobserved pause state as not paused.
func (d Device) IsPaused() bool {
	return d.Paused != nil && *d.Paused
}

// Clone returns a copy that shares no pointers with d.
func (d Device) Clone() Device {
	out := d
	out.TargetTemperature = cloneFloat(d.TargetTemperature)
	out.RoomTemperature = cloneFloat(d.RoomTemperature)
	if d.Paused != nil {
		v := *d.Paused
		out.Paused = &v
	}
	return out
}

// Patch is a partial update. Only non-nil fields are applied.
type Patch struct {
	AccessToken         *string
	TargetTemperature   *float64
	RoomTemperature     *float64
	Paused              *bool
	LastLocalWriteAt    *time.Time
	Available           *bool
	ConsecutiveFailures *int
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.AccessToken == nil &&
		p.TargetTemperature == nil &&
		p.RoomTemperature == nil &&
		p.Paused == nil &&
		p.LastLocalWriteAt == nil &&
		p.Available == nil &&
		p.ConsecutiveFailures == nil
}

// Apply merges the patch into d.
func (p Patch) Apply(d *Device) {
	if p.AccessToken != nil {
		d.AccessToken = *p.AccessToken
	}
	if p.TargetTemperature != nil {
		d.TargetTemperature = cloneFloat(p.TargetTemperature)
	}
	if p.RoomTemperature != nil {
		d.RoomTemperature = cloneFloat(p.RoomTemperature)
	}
	if p.Paused != nil {
		v := *p.Paused
		d.Paused = &v
	}
	if p.LastLocalWriteAt != nil {
		d.LastLocalWriteAt = *p.LastLocalWriteAt
	}
	if p.Available != nil {
		d.Available = *p.Available
	}
	if p.ConsecutiveFailures != nil {
		d.ConsecutiveFailures = *p.ConsecutiveFailures
	}
}

// Snapshot is a point-in-time read of a thermostat's remote state.
type Snapshot struct {
	TargetTemperature *float64 `json:"target_temperature,omitempty"`
	RoomTemperature   *float64 `json:"room_temperature,omitempty"`
	Source            *string  `json:"source,omitempty"`
}

// Paused derives the pause state from the vendor source field. It returns nil
// when the snapshot carries no source.
func (s Snapshot) Paused() *bool {
	if s.Source == nil {
		return nil
	}
	paused := strings.EqualFold(strings.TrimSpace(*s.Source), SourcePause)
	return &paused
}

// Write is a user-initiated change to the mutable fields.
type Write struct {
	TargetTemperature *float64
	Paused            *bool
}

// Empty reports whether the write carries no fields.
func (w Write) Empty() bool {
	return w.TargetTemperature == nil && w.Paused == nil
}

// Update is the body of a vendor thermostat update. Only non-nil fields are
// sent.
type Update struct {
	TargetTemperature  *float64 `json:"target_temperature,omitempty"`
	OutsideTemperature *float64 `json:"outside_temperature,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u Update) Empty() bool {
	return u.TargetTemperature == nil && u.OutsideTemperature == nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
