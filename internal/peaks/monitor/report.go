package monitor

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/peaks.report/internal/peaks/l4peaks"
	"github.com/banshee-data/peaks.report/internal/peaks/l5tracks"
)

// maxReportSeries bounds the number of named path series in the report;
// remaining trajectories are merged into one "other" series.
const maxReportSeries = 50

// viridis is the colour ramp used for frame-coded scatter points.
var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Report describes one run for WriteReport.
type Report struct {
	Title        string
	Trajectories []*l5tracks.Trajectory // accepted trajectories
	Stats        l4peaks.DetectionStats
	AssetsHost   string // optional override of the echarts asset host
}

// WriteReport renders a self-contained HTML page with trajectory paths,
// a length histogram and detection counts.
func WriteReport(w io.Writer, r Report) error {
	page := components.NewPage()
	page.PageTitle = r.Title
	if r.AssetsHost != "" {
		page.SetAssetsHost(r.AssetsHost)
	}
	page.AddCharts(pathChart(r), lengthChart(r), statsChart(r))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func initOpts(r Report, title string) opts.Initialization {
	o := opts.Initialization{PageTitle: title, Width: "900px", Height: "600px"}
	if r.AssetsHost != "" {
		o.AssetsHost = r.AssetsHost
	}
	return o
}

func pathChart(r Report) *charts.Scatter {
	xMin, xMax, yMin, yMax := bounds(r.Trajectories)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(r, "Trajectory Paths")),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory Paths", Subtitle: fmt.Sprintf("%s trajectories=%d", r.Title, len(r.Trajectories))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: xMin, Max: xMax, Name: "x (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: yMin, Max: yMax, Name: "y (px)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Dimension:  "2",
			Min:        float32(firstFrame(r.Trajectories)),
			Max:        float32(lastFrame(r.Trajectories)),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)

	var other []opts.ScatterData
	for i, tr := range r.Trajectories {
		data := make([]opts.ScatterData, 0, tr.Len())
		for _, p := range tr.Peaks {
			data = append(data, opts.ScatterData{Value: []interface{}{round3(p.X), round3(p.Y), p.Frame}})
		}
		if i < maxReportSeries {
			scatter.AddSeries(shortID(tr.ID), data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
			continue
		}
		other = append(other, data...)
	}
	if len(other) > 0 {
		scatter.AddSeries("other", other, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	return scatter
}

func lengthChart(r Report) *charts.Bar {
	counts := make(map[int]int)
	for _, tr := range r.Trajectories {
		counts[tr.Len()]++
	}
	lengths := make([]int, 0, len(counts))
	for n := range counts {
		lengths = append(lengths, n)
	}
	sort.Ints(lengths)

	x := make([]string, len(lengths))
	y := make([]opts.BarData, len(lengths))
	for i, n := range lengths {
		x[i] = fmt.Sprintf("%d", n)
		y[i] = opts.BarData{Value: counts[n]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(r, "Trajectory Lengths")),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory Lengths"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frames"}),
	)
	bar.SetXAxis(x).AddSeries("trajectories", y)
	return bar
}

func statsChart(r Report) *charts.Bar {
	s := r.Stats
	x := []string{"Candidates", "Suppressed", "Fit rejected", "Peaks", "Failed tasks"}
	y := []opts.BarData{
		{Value: s.Candidates},
		{Value: s.Suppressed},
		{Value: s.FitRejected},
		{Value: s.Peaks},
		{Value: s.FailedTasks},
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts(r, "Detection")),
		charts.WithTitleOpts(opts.Title{Title: "Detection", Subtitle: s.String()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("detection", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func bounds(trajs []*l5tracks.Trajectory) (xMin, xMax, yMin, yMax float64) {
	xMin, yMin = math.Inf(1), math.Inf(1)
	xMax, yMax = math.Inf(-1), math.Inf(-1)
	for _, tr := range trajs {
		for _, p := range tr.Peaks {
			xMin, xMax = math.Min(xMin, p.X), math.Max(xMax, p.X)
			yMin, yMax = math.Min(yMin, p.Y), math.Max(yMax, p.Y)
		}
	}
	if math.IsInf(xMin, 1) {
		return 0, 1, 0, 1
	}
	return math.Floor(xMin) - 1, math.Ceil(xMax) + 1, math.Floor(yMin) - 1, math.Ceil(yMax) + 1
}

func firstFrame(trajs []*l5tracks.Trajectory) int64 {
	var f int64 = math.MaxInt64
	for _, tr := range trajs {
		if tr.Len() > 0 && tr.FirstFrame() < f {
			f = tr.FirstFrame()
		}
	}
	if f == math.MaxInt64 {
		return 0
	}
	return f
}

func lastFrame(trajs []*l5tracks.Trajectory) int64 {
	var f int64
	for _, tr := range trajs {
		if tr.Len() > 0 && tr.LastFrame() > f {
			f = tr.LastFrame()
		}
	}
	return f
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
