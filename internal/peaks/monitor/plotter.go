package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/peaks.report/internal/peaks/l5tracks"
	"github.com/banshee-data/peaks.report/internal/security"
)

// maxLegendEntries bounds the legend; further trajectories are drawn
// without a label.
const maxLegendEntries = 12

// TrajectoryPlotter collects trajectories from one or more runs and writes
// PNG plots of their paths, intensities and lengths.
type TrajectoryPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	label     string

	trajs []*l5tracks.Trajectory
}

// NewTrajectoryPlotter creates a plotter whose plot titles carry label
// (typically the metadata UID).
func NewTrajectoryPlotter(label string) *TrajectoryPlotter {
	return &TrajectoryPlotter{label: label}
}

// Start prepares outputDir and clears previously recorded trajectories.
func (tp *TrajectoryPlotter) Start(outputDir string) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	tp.outputDir = outputDir
	tp.enabled = true
	tp.trajs = nil
	return nil
}

// Stop disables recording. Call GeneratePlots to produce output files.
func (tp *TrajectoryPlotter) Stop() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.enabled = false
}

// IsEnabled reports whether Record currently keeps trajectories.
func (tp *TrajectoryPlotter) IsEnabled() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.enabled
}

// Record adds non-empty trajectories to the plot set.
func (tp *TrajectoryPlotter) Record(trajs []*l5tracks.Trajectory) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if !tp.enabled {
		return
	}
	for _, tr := range trajs {
		if tr != nil && tr.Len() > 0 {
			tp.trajs = append(tp.trajs, tr)
		}
	}
}

// Count returns the number of recorded trajectories.
func (tp *TrajectoryPlotter) Count() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.trajs)
}

// GeneratePlots writes <label>_paths.png, <label>_intensity.png and
// <label>_lengths.png into the output directory. Returns the number of
// files written.
func (tp *TrajectoryPlotter) GeneratePlots() (int, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(tp.trajs) == 0 {
		return 0, nil
	}

	pPath := plot.New()
	pPath.Title.Text = fmt.Sprintf("%s - Trajectory Paths", tp.label)
	pPath.X.Label.Text = "x (px)"
	pPath.Y.Label.Text = "y (px)"

	pInt := plot.New()
	pInt.Title.Text = fmt.Sprintf("%s - Intensity", tp.label)
	pInt.X.Label.Text = "Frame"
	pInt.Y.Label.Text = "Corrected intensity"

	colors := generateColors(len(tp.trajs))
	lengths := make(plotter.Values, 0, len(tp.trajs))

	for i, tr := range tp.trajs {
		path := make(plotter.XYs, 0, tr.Len())
		intensity := make(plotter.XYs, 0, tr.Len())
		for _, p := range tr.Peaks {
			path = append(path, plotter.XY{X: p.X, Y: p.Y})
			intensity = append(intensity, plotter.XY{X: float64(p.Frame), Y: p.Intensity()})
		}
		lengths = append(lengths, float64(tr.Len()))

		pathLine, err := plotter.NewLine(path)
		if err != nil {
			return 0, err
		}
		pathLine.Color = colors[i]
		pathLine.Width = vg.Points(1)
		pPath.Add(pathLine)

		intLine, err := plotter.NewLine(intensity)
		if err != nil {
			return 0, err
		}
		intLine.Color = colors[i]
		intLine.Width = vg.Points(1)
		pInt.Add(intLine)

		if i < maxLegendEntries {
			pPath.Legend.Add(shortID(tr.ID), pathLine)
			pInt.Legend.Add(shortID(tr.ID), intLine)
		}
	}

	for _, p := range []*plot.Plot{pPath, pInt} {
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	pLen := plot.New()
	pLen.Title.Text = fmt.Sprintf("%s - Trajectory Length", tp.label)
	pLen.X.Label.Text = "Frames"
	pLen.Y.Label.Text = "Count"
	hist, err := plotter.NewHist(lengths, histBins(len(lengths)))
	if err != nil {
		return 0, err
	}
	pLen.Add(hist)

	written := 0
	for _, out := range []struct {
		p    *plot.Plot
		name string
		w, h vg.Length
	}{
		{pPath, "paths.png", 8 * vg.Inch, 8 * vg.Inch},
		{pInt, "intensity.png", 14 * vg.Inch, 6 * vg.Inch},
		{pLen, "lengths.png", 8 * vg.Inch, 6 * vg.Inch},
	} {
		file := filepath.Join(tp.outputDir, security.SanitizeFilename(tp.label)+"_"+out.name)
		if err := out.p.Save(out.w, out.h, file); err != nil {
			opsf("plot %s not written: %v", file, err)
			return written, fmt.Errorf("save %s: %w", out.name, err)
		}
		written++
	}
	diagf("wrote %d trajectory plots to %s", written, tp.outputDir)
	return written, nil
}

func histBins(n int) int {
	switch {
	case n < 5:
		return 1
	case n < 50:
		return 5
	default:
		return 20
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// generateColors creates a palette of distinct colors, one per trajectory.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
