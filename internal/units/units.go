// Package units provides shared constants and conversions for range units
package units

// Unit constants
const (
	CM   = "cm"
	M    = "m"
	INCH = "in"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, M, INCH}

// SpeedOfSoundCMPerUS is the speed of sound at about 20 C in centimetres per
// microsecond.
const SpeedOfSoundCMPerUS = 0.0343

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "cm, m, in"
}

// EchoToCM converts a round-trip ultrasonic echo pulse width in microseconds
// to a one-way distance in centimetres.
func EchoToCM(echoUS float64) float64 {
	return echoUS * SpeedOfSoundCMPerUS / 2
}

// ConvertDistance converts a distance from centimetres to the target units
// Detections and range samples are stored in cm
func ConvertDistance(cm float64, targetUnits string) float64 {
	switch targetUnits {
	case M:
		return cm / 100
	case INCH:
		return cm / 2.54
	default:
		return cm
	}
}
