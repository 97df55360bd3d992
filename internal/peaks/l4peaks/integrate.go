package l4peaks

import (
	"image"
	"math"
	"slices"

	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
	"gonum.org/v1/gonum/stat"
)

// Integrate sets Integration on every peak. Pixels are sampled at the
// nearest pixel to the rounded peak centre; offsets that leave bounds are
// mirrored back inside. bounds is the whole analysed region, never a grid
// cell, so peaks near a cell edge read their real neighbours. The inner disk (r <= InnerRadius) is
// summed for raw intensity; the annulus InnerRadius < r <= OuterRadius
// gives the median and mean background. Corrected intensity is the raw
// sum minus median background times the disk pixel count.
func Integrate(img l1frames.PixelBuffer, bounds image.Rectangle, peaks []Peak, cfg IntegrationConfig) {
	bounds = bounds.Intersect(img.Bounds())
	if bounds.Empty() {
		return
	}
	offsets := diskOffsets(cfg.InnerRadius, cfg.OuterRadius)
	ring := make([]float64, 0, len(offsets.ring))
	for i := range peaks {
		ring = ring[:0]
		peaks[i].Integration = integrateOne(img, bounds, &peaks[i], offsets, ring, cfg.Verbose)
	}
}

type diskLayout struct {
	inner, ring []image.Point
}

func diskOffsets(inner, outer int) diskLayout {
	var d diskLayout
	in2, out2 := inner*inner, outer*outer
	for dy := -outer; dy <= outer; dy++ {
		for dx := -outer; dx <= outer; dx++ {
			r2 := dx*dx + dy*dy
			switch {
			case r2 <= in2:
				d.inner = append(d.inner, image.Point{dx, dy})
			case r2 <= out2:
				d.ring = append(d.ring, image.Point{dx, dy})
			}
		}
	}
	return d
}

func integrateOne(img l1frames.PixelBuffer, bounds image.Rectangle, p *Peak, d diskLayout, ring []float64, verbose bool) *Integration {
	cx, cy := int(math.Round(p.X)), int(math.Round(p.Y))
	sample := func(o image.Point) float64 {
		x := reflect(cx+o.X, bounds.Min.X, bounds.Max.X)
		y := reflect(cy+o.Y, bounds.Min.Y, bounds.Max.Y)
		return img.At(x, y)
	}

	var raw float64
	for _, o := range d.inner {
		raw += sample(o)
	}
	for _, o := range d.ring {
		ring = append(ring, sample(o))
	}
	slices.Sort(ring)
	median := stat.Quantile(0.5, stat.Empirical, ring, nil)

	integ := &Integration{
		Intensity:        raw - median*float64(len(d.inner)),
		MedianBackground: median,
	}
	if verbose {
		integ.Verbose = true
		integ.MeanBackground = stat.Mean(ring, nil)
		integ.UncorrectedIntensity = raw
	}
	return integ
}

// reflect maps i into [lo, hi) by mirroring about the edges, repeating the
// edge pixel.
func reflect(i, lo, hi int) int {
	n := hi - lo
	if n == 1 {
		return lo
	}
	i -= lo
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return lo + i
}
