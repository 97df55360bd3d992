// Package units provides shared constants and validation for pixel size units
package units

// Unit constants
const (
	Pixel = "pixel"
	NM    = "nm"
	UM    = "um"
	MM    = "mm"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Pixel, NM, UM, MM}

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
	return "pixel, nm, um, mm"
}

// ConvertLength converts a length between physical units. Pixel is not a
// physical unit, so any conversion to or from it returns the value unchanged.
func ConvertLength(v float64, from, to string) float64 {
	f, okFrom := nanometres[from]
	t, okTo := nanometres[to]
	if !okFrom || !okTo {
		return v
	}
	return v * f / t
}

var nanometres = map[string]float64{
	NM: 1,
	UM: 1e3,
	MM: 1e6,
}
