package l5tracks

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Summary is a compact description of one trajectory.
type Summary struct {
	ID            string
	State         TrackState
	Length        int
	FirstFrame    int64
	LastFrame     int64
	MeanX, MeanY  float64
	MeanIntensity float64
	MeanStep      float64 // mean Euclidean displacement between points
	NetDisplace   float64 // distance from first to last point
}

// Summarize computes a Summary for tr. tr must contain at least one peak.
func Summarize(tr *Trajectory) Summary {
	n := tr.Len()
	xs := make([]float64, n)
	ys := make([]float64, n)
	in := make([]float64, n)
	for i, p := range tr.Peaks {
		xs[i], ys[i], in[i] = p.X, p.Y, p.Intensity()
	}
	s := Summary{
		ID:            tr.ID,
		State:         tr.State,
		Length:        n,
		FirstFrame:    tr.FirstFrame(),
		LastFrame:     tr.LastFrame(),
		MeanX:         stat.Mean(xs, nil),
		MeanY:         stat.Mean(ys, nil),
		MeanIntensity: stat.Mean(in, nil),
		NetDisplace:   math.Hypot(xs[n-1]-xs[0], ys[n-1]-ys[0]),
	}
	if n > 1 {
		steps := make([]float64, n-1)
		for i := 1; i < n; i++ {
			steps[i-1] = math.Hypot(xs[i]-xs[i-1], ys[i]-ys[i-1])
		}
		s.MeanStep = stat.Mean(steps, nil)
	}
	return s
}
