package l4peaks

import "fmt"

// Sign is whether a peak is a local maximum or a local minimum.
type Sign int8

const (
	Positive Sign = 1
	Negative Sign = -1
)

func (s Sign) String() string {
	switch s {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return fmt.Sprintf("Sign(%d)", int8(s))
	}
}

// Fit holds the parameters of an accepted 2D Gaussian fit. Height is
// negative for negative peaks.
type Fit struct {
	Baseline float64
	Height   float64
	Sigma    float64
	RSquared float64
}

// Integration holds background-corrected intensity. MeanBackground and
// UncorrectedIntensity are only populated when Verbose is set.
type Integration struct {
	Intensity        float64
	MedianBackground float64

	Verbose              bool
	MeanBackground       float64
	UncorrectedIntensity float64
}

// Peak is a detected spot in one frame. X and Y start on the pixel grid
// and are replaced by the fitted centre during localization.
type Peak struct {
	X, Y    float64
	Frame   int64
	Channel int
	Sign    Sign

	// Value is the detection image value at the candidate pixel and is
	// the strength used to order duplicate suppression.
	Value float64

	Fit         *Fit
	Integration *Integration

	// ID is empty until the peak is linked into a trajectory.
	ID string
}

// Strength is the magnitude used for strongest-first ordering.
func (p Peak) Strength() float64 {
	if p.Value < 0 {
		return -p.Value
	}
	return p.Value
}

// Intensity returns the corrected intensity, or 0 if not integrated.
func (p Peak) Intensity() float64 {
	if p.Integration == nil {
		return 0
	}
	return p.Integration.Intensity
}

// Background returns the median background, or 0 if not integrated.
func (p Peak) Background() float64 {
	if p.Integration == nil {
		return 0
	}
	return p.Integration.MedianBackground
}
