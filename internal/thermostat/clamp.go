package thermostat

import "math"

const (
	MinTargetTemperature = 5.0
	MaxTargetTemperature = 30.0
	TargetResolution     = 0.5
)

// ClampTarget bounds t to the supported setpoint range and rounds it to the
// nearest half degree.
func ClampTarget(t float64) float64 {
	if math.IsNaN(t) {
		return MinTargetTemperature
	}
	rounded := math.Round(t/TargetResolution) * TargetResolution
	if rounded < MinTargetTemperature {
		return MinTargetTemperature
	}
	if rounded > MaxTargetTemperature {
		return MaxTargetTemperature
	}
	return rounded
}
