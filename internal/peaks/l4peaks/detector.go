package l4peaks

import (
	"image"

	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
)

var neighbours = [8]image.Point{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Detect scans img inside region for strict local extrema of the 8-pixel
// neighbourhood that cross cfg.Threshold, then applies strongest-first
// suppression at cfg.MinSeparation. Pixels without all eight neighbours
// inside img's bounds are never candidates.
//
// The returned peaks are tagged with frame t and sit on the pixel grid.
func Detect(img l1frames.PixelBuffer, region l1frames.RegionMask, t int64, cfg DetectionConfig) []Peak {
	return Suppress(Candidates(img, region, t, cfg), cfg.MinSeparation)
}

// Candidates returns every pixel of region that is a strict local maximum
// above Threshold, or a strict local minimum below -Threshold when
// FindNegative is set, in row-major order.
func Candidates(img l1frames.PixelBuffer, region l1frames.RegionMask, t int64, cfg DetectionConfig) []Peak {
	inner := img.Bounds().Inset(1)
	var out []Peak
	for p := range region.Points() {
		if !p.In(inner) {
			continue
		}
		v := img.At(p.X, p.Y)
		var sign Sign
		switch {
		case v > cfg.Threshold:
			sign = Positive
		case cfg.FindNegative && v < -cfg.Threshold:
			sign = Negative
		default:
			continue
		}
		if !isExtremum(img, p, v, sign) {
			continue
		}
		out = append(out, Peak{
			X:     float64(p.X),
			Y:     float64(p.Y),
			Frame: t,
			Sign:  sign,
			Value: v,
		})
	}
	return out
}

func isExtremum(img l1frames.PixelBuffer, p image.Point, v float64, sign Sign) bool {
	for _, d := range neighbours {
		n := img.At(p.X+d.X, p.Y+d.Y)
		if sign == Positive && n >= v {
			return false
		}
		if sign == Negative && n <= v {
			return false
		}
	}
	return true
}
