package l4peaks

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
	"github.com/banshee-data/peaks.report/internal/peaks/l2filter"
	"github.com/banshee-data/peaks.report/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Detection:   DetectionConfig{Threshold: 50, MinSeparation: 5, UseDogFilter: true, DogRadius: 1.8},
		Fit:         FitConfig{FitRadius: 4, RSquaredMin: 0, MaxIterations: 100},
		Integration: IntegrationConfig{InnerRadius: 2, OuterRadius: 4},
	}
}

func minPairDistance(peaks []Peak) float64 {
	best := math.Inf(1)
	for i := range peaks {
		for j := i + 1; j < len(peaks); j++ {
			best = math.Min(best, math.Hypot(peaks[i].X-peaks[j].X, peaks[i].Y-peaks[j].Y))
		}
	}
	return best
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, testConfig().Validate())

	cases := map[string]func(*Config){
		"negative threshold":  func(c *Config) { c.Detection.Threshold = -1 },
		"negative separation": func(c *Config) { c.Detection.MinSeparation = -2 },
		"zero fit radius":     func(c *Config) { c.Fit.FitRadius = 0 },
		"r squared above one": func(c *Config) { c.Fit.RSquaredMin = 1.1 },
		"no iterations":       func(c *Config) { c.Fit.MaxIterations = 0 },
		"outer not above":     func(c *Config) { c.Integration.OuterRadius = c.Integration.InnerRadius },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestDefaultConfigMatchesDefaultsFile(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Detection.MinSeparation)
	assert.Equal(t, 4, cfg.Fit.FitRadius)
	assert.Equal(t, 2, cfg.Integration.InnerRadius)
}

// ---------------------------------------------------------------------------
// Detection
// ---------------------------------------------------------------------------

func TestCandidatesExcludeBorderPixels(t *testing.T) {
	t.Parallel()

	img := testutil.SpotImage(16, 16, 0)
	img.Set(0, 5, 100) // on the edge, no full neighbourhood
	img.Set(8, 8, 100)
	img.Set(15, 15, 100)

	cands := Candidates(img, l1frames.WholeFrame(img), 3, DetectionConfig{Threshold: 10})
	require.Len(t, cands, 1)
	assert.Equal(t, Peak{X: 8, Y: 8, Frame: 3, Sign: Positive, Value: 100}, cands[0])
}

func TestCandidatesRequireStrictExtremum(t *testing.T) {
	t.Parallel()

	img := testutil.SpotImage(16, 16, 0)
	img.Set(5, 5, 100)
	img.Set(6, 5, 100) // plateau: neither is strict
	img.Set(10, 10, 30)

	cands := Candidates(img, l1frames.WholeFrame(img), 0, DetectionConfig{Threshold: 10})
	require.Len(t, cands, 1)
	assert.Equal(t, 10.0, cands[0].X)

	cands = Candidates(img, l1frames.WholeFrame(img), 0, DetectionConfig{Threshold: 30})
	assert.Empty(t, cands, "value must exceed threshold strictly")
}

func TestCandidatesNegative(t *testing.T) {
	t.Parallel()

	img := testutil.SpotImage(16, 16, 0)
	img.Set(4, 4, -80)
	img.Set(11, 11, 80)

	pos := Candidates(img, l1frames.WholeFrame(img), 0, DetectionConfig{Threshold: 20})
	require.Len(t, pos, 1)
	assert.Equal(t, Positive, pos[0].Sign)

	both := Candidates(img, l1frames.WholeFrame(img), 0, DetectionConfig{Threshold: 20, FindNegative: true})
	require.Len(t, both, 2)
	assert.Equal(t, Negative, both[0].Sign)
	assert.Equal(t, 80.0, both[0].Strength())
}

func TestCandidatesRespectRegion(t *testing.T) {
	t.Parallel()

	img := testutil.SpotImage(32, 32, 0)
	img.Set(5, 5, 100)
	img.Set(20, 20, 100)

	region := l1frames.NewRectRegion(image.Rect(16, 16, 32, 32))
	cands := Candidates(img, region, 0, DetectionConfig{Threshold: 10})
	require.Len(t, cands, 1)
	assert.Equal(t, 20.0, cands[0].X)
}

// ---------------------------------------------------------------------------
// Suppression
// ---------------------------------------------------------------------------

func TestSuppressStrongestFirst(t *testing.T) {
	t.Parallel()

	in := []Peak{
		{X: 10, Y: 10, Value: 50},
		{X: 12, Y: 10, Value: 80},
		{X: 30, Y: 30, Value: 20},
	}
	out := Suppress(in, 5)
	require.Len(t, out, 2)
	assert.Equal(t, 12.0, out[0].X)
	assert.Equal(t, 30.0, out[1].X)
	assert.Len(t, in, 3, "input must not be modified")
}

func TestSuppressTieBreak(t *testing.T) {
	t.Parallel()

	// Equal strengths: lower y wins, then lower x.
	in := []Peak{
		{X: 12, Y: 11, Value: 60},
		{X: 13, Y: 10, Value: -60},
		{X: 11, Y: 10, Value: 60},
	}
	out := Suppress(in, 5)
	require.Len(t, out, 1)
	assert.Equal(t, Peak{X: 11, Y: 10, Value: 60}, out[0])
}

func TestSuppressBoundaryDistance(t *testing.T) {
	t.Parallel()

	in := []Peak{{X: 0, Y: 0, Value: 2}, {X: 3, Y: 4, Value: 1}}
	assert.Len(t, Suppress(in, 5), 2, "exactly minSeparation apart is kept")
	assert.Len(t, Suppress(in, 6), 1)
	assert.Len(t, Suppress(in, 0), 2)
}

func TestDetectNeverReturnsClosePeaks(t *testing.T) {
	t.Parallel()

	img := testutil.SpotImage(96, 96, 100)
	testutil.AddNoise(img, 40, 7)

	for _, sep := range []int{1, 2, 3, 5, 8} {
		cfg := DetectionConfig{Threshold: 100, MinSeparation: sep}
		peaks := Detect(img, l1frames.WholeFrame(img), 0, cfg)
		require.NotEmpty(t, peaks)
		assert.GreaterOrEqual(t, minPairDistance(peaks), float64(sep), "sep %d", sep)
	}
}

// ---------------------------------------------------------------------------
// Localization
// ---------------------------------------------------------------------------

func TestFitGaussianRecoversCentre(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		spot  testutil.Spot
		guess Peak
	}{
		{"bright", testutil.Spot{X: 20.3, Y: 19.7, Amplitude: 1000, Sigma: 1.5}, Peak{X: 20, Y: 20, Sign: Positive}},
		{"wide", testutil.Spot{X: 31.45, Y: 30.8, Amplitude: 400, Sigma: 2.2}, Peak{X: 31, Y: 31, Sign: Positive}},
		{"dark", testutil.Spot{X: 15.6, Y: 16.2, Amplitude: -300, Sigma: 1.3}, Peak{X: 16, Y: 16, Sign: Negative}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			img := testutil.SpotImage(48, 48, 500, tc.spot)
			res, ok := FitGaussian(img, tc.guess, FitConfig{FitRadius: 5, MaxIterations: 100}, 1.8)
			require.True(t, ok)
			assert.InDelta(t, tc.spot.X, res.X, 0.05)
			assert.InDelta(t, tc.spot.Y, res.Y, 0.05)
			assert.Greater(t, res.Fit.RSquared, 0.99)
			assert.InDelta(t, tc.spot.Sigma, res.Fit.Sigma, 0.05)
			assert.InDelta(t, tc.spot.Amplitude, res.Fit.Height, math.Abs(tc.spot.Amplitude)*0.02)
			assert.InDelta(t, 500, res.Fit.Baseline, 5)
		})
	}
}

func TestFitGaussianWithNoise(t *testing.T) {
	t.Parallel()

	spot := testutil.Spot{X: 24.25, Y: 23.6, Amplitude: 2000, Sigma: 1.6}
	img := testutil.SpotImage(48, 48, 300, spot)
	testutil.AddNoise(img, 10, 99)

	res, ok := FitGaussian(img, Peak{X: 24, Y: 24, Sign: Positive}, FitConfig{FitRadius: 4, MaxIterations: 100}, 1.8)
	require.True(t, ok)
	assert.InDelta(t, spot.X, res.X, 0.05)
	assert.InDelta(t, spot.Y, res.Y, 0.05)
	assert.Greater(t, res.Fit.RSquared, 0.99)
}

func TestFitGaussianCentreMustStayInClippedWindow(t *testing.T) {
	t.Parallel()

	cfg := FitConfig{FitRadius: 4, MaxIterations: 100}
	outside := testutil.SpotImage(32, 32, 100, testutil.Spot{X: -0.8, Y: 16.2, Amplitude: 2000, Sigma: 1.5})
	_, ok := FitGaussian(outside, Peak{X: 1, Y: 16, Sign: Positive}, cfg, 1.8)
	assert.False(t, ok, "centre left of the frame edge")

	inside := testutil.SpotImage(32, 32, 100, testutil.Spot{X: 1.3, Y: 16.2, Amplitude: 2000, Sigma: 1.5})
	res, ok := FitGaussian(inside, Peak{X: 1, Y: 16, Sign: Positive}, cfg, 1.8)
	require.True(t, ok)
	assert.InDelta(t, 1.3, res.X, 0.05)

	assert.True(t, insideWindow(0, 31, image.Rect(0, 27, 5, 32)))
	assert.False(t, insideWindow(-0.01, 30, image.Rect(0, 27, 5, 32)))
	assert.False(t, insideWindow(2, 31.5, image.Rect(0, 27, 5, 32)))
}

func TestFitGaussianRejects(t *testing.T) {
	t.Parallel()

	flat := testutil.SpotImage(32, 32, 100)
	_, ok := FitGaussian(flat, Peak{X: 16, Y: 16, Sign: Positive}, FitConfig{FitRadius: 4, MaxIterations: 50}, 1.8)
	assert.False(t, ok, "flat window has no variance")

	noisy := testutil.SpotImage(32, 32, 100, testutil.Spot{X: 16, Y: 16, Amplitude: 60, Sigma: 1.5})
	testutil.AddNoise(noisy, 30, 3)
	_, ok = FitGaussian(noisy, Peak{X: 16, Y: 16, Sign: Positive}, FitConfig{FitRadius: 4, RSquaredMin: 0.999, MaxIterations: 100}, 1.8)
	assert.False(t, ok, "r-squared below minimum")

	bright := testutil.SpotImage(32, 32, 100, testutil.Spot{X: 16, Y: 16, Amplitude: 500, Sigma: 1.5})
	_, ok = FitGaussian(bright, Peak{X: 16, Y: 16, Sign: Negative}, FitConfig{FitRadius: 4, MaxIterations: 100}, 1.8)
	assert.False(t, ok, "height sign must match peak sign")

	tiny := testutil.SpotImage(2, 2, 0)
	_, ok = FitGaussian(tiny, Peak{X: 0, Y: 0, Sign: Positive}, FitConfig{FitRadius: 4, MaxIterations: 10}, 1.8)
	assert.False(t, ok, "window smaller than parameter count")
}

func TestLocalizeCountsRejections(t *testing.T) {
	t.Parallel()

	img := testutil.SpotImage(64, 32, 100, testutil.Spot{X: 16.4, Y: 16, Amplitude: 800, Sigma: 1.5})
	in := []Peak{
		{X: 16, Y: 16, Sign: Positive, Value: 800},
		{X: 48, Y: 16, Sign: Positive, Value: 1}, // flat area
	}
	out, rejected := Localize(img, in, FitConfig{FitRadius: 4, MaxIterations: 100}, 1.8)
	require.Len(t, out, 1)
	assert.Equal(t, 1, rejected)
	assert.InDelta(t, 16.4, out[0].X, 0.05)
	require.NotNil(t, out[0].Fit)
	assert.Nil(t, in[0].Fit, "input peaks are not mutated")
}

// ---------------------------------------------------------------------------
// Integration
// ---------------------------------------------------------------------------

func TestIntegrateFlatBackground(t *testing.T) {
	t.Parallel()

	const b = 100.0
	img := testutil.SpotImage(32, 32, b)
	signal := map[image.Point]float64{
		{16, 16}: 300, {15, 16}: 50, {17, 16}: 50, {16, 15}: 50, {16, 17}: 50, {17, 17}: 25,
	}
	var total float64
	for p, v := range signal {
		img.Set(p.X, p.Y, b+v)
		total += v
	}

	peaks := []Peak{{X: 16.2, Y: 15.9}}
	Integrate(img, img.Bounds(), peaks, IntegrationConfig{InnerRadius: 2, OuterRadius: 4})
	require.NotNil(t, peaks[0].Integration)
	assert.InDelta(t, total, peaks[0].Intensity(), 1e-9)
	assert.Equal(t, b, peaks[0].Background())
	assert.False(t, peaks[0].Integration.Verbose)
	assert.Zero(t, peaks[0].Integration.UncorrectedIntensity)
}

func TestIntegrateVerbose(t *testing.T) {
	t.Parallel()

	img := testutil.SpotImage(32, 32, 10)
	img.Set(16, 16, 110)
	img.Set(16, 19, 50) // inside the annulus, skews the mean not the median

	peaks := []Peak{{X: 16, Y: 16}}
	Integrate(img, img.Bounds(), peaks, IntegrationConfig{InnerRadius: 1, OuterRadius: 3, Verbose: true})
	in := peaks[0].Integration
	require.NotNil(t, in)
	assert.True(t, in.Verbose)
	assert.Equal(t, 10.0, in.MedianBackground)
	assert.Greater(t, in.MeanBackground, 10.0)
	assert.Equal(t, 5*10.0+100, in.UncorrectedIntensity)
	assert.Equal(t, 100.0, in.Intensity)
}

func TestIntegrateMirrorsAtRegionEdge(t *testing.T) {
	t.Parallel()

	img := testutil.SpotImage(16, 16, 20)
	peaks := []Peak{{X: 0, Y: 0}}
	Integrate(img, img.Bounds(), peaks, IntegrationConfig{InnerRadius: 1, OuterRadius: 2})
	assert.Equal(t, 0.0, peaks[0].Intensity())
	assert.Equal(t, 20.0, peaks[0].Background())
}

func TestReflect(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ i, lo, hi, want int }{
		{3, 0, 5, 3},
		{-1, 0, 5, 0},
		{-2, 0, 5, 1},
		{5, 0, 5, 4},
		{6, 0, 5, 3},
		{9, 4, 8, 6},
		{2, 4, 8, 5},
		{-7, 3, 4, 3},
	} {
		assert.Equal(t, tc.want, reflect(tc.i, tc.lo, tc.hi), "reflect(%d,%d,%d)", tc.i, tc.lo, tc.hi)
	}
}

// ---------------------------------------------------------------------------
// Full per-frame pass
// ---------------------------------------------------------------------------

func spotField() *l1frames.Image[uint16] {
	img := testutil.SpotImage16(64, 64, 200,
		testutil.Spot{X: 12.3, Y: 14.6, Amplitude: 1200, Sigma: 1.5},
		testutil.Spot{X: 44.8, Y: 16.1, Amplitude: 900, Sigma: 1.4},
		testutil.Spot{X: 30.5, Y: 47.2, Amplitude: 1500, Sigma: 1.6},
		testutil.Spot{X: 33.1, Y: 49.0, Amplitude: 400, Sigma: 1.5}, // too close to the previous spot
	)
	testutil.AddNoise(img, 8, 11)
	return img
}

func TestFindDetectsFitsAndIntegrates(t *testing.T) {
	t.Parallel()

	raw := spotField()
	dog := l2filter.DoG(raw, 1.8, 2)
	cfg := testConfig()
	cfg.Integration = IntegrationConfig{InnerRadius: 4, OuterRadius: 8}
	peaks, stats := Find(raw, dog, l1frames.WholeFrame(raw), raw.Bounds(), 7, 1, cfg)

	require.Len(t, peaks, 3)
	assert.Equal(t, int64(3), stats.Peaks)
	assert.GreaterOrEqual(t, stats.Candidates, int64(3))
	assert.Equal(t, stats.Candidates, stats.Peaks+stats.Suppressed+stats.FitRejected)
	assert.GreaterOrEqual(t, minPairDistance(peaks), 5.0)

	for _, p := range peaks {
		assert.Equal(t, int64(7), p.Frame)
		assert.Equal(t, 1, p.Channel)
		require.NotNil(t, p.Fit)
		require.NotNil(t, p.Integration)
		assert.Greater(t, p.Intensity(), 0.0)
		assert.InDelta(t, 200, p.Background(), 15)
	}
	// Strongest first; the weak neighbour pulls the fit slightly.
	assert.InDelta(t, 30.5, peaks[0].X, 1.0)
	assert.InDelta(t, 47.2, peaks[0].Y, 1.0)
	assert.InDelta(t, 12.3, peaks[1].X, 0.05)
	assert.InDelta(t, 14.6, peaks[1].Y, 0.05)
}

func TestFindIsDeterministic(t *testing.T) {
	t.Parallel()

	raw := spotField()
	cfg := testConfig()
	cfg.Integration.Verbose = true

	a, sa := Find(raw, l2filter.DoG(raw, 1.8, 1), l1frames.WholeFrame(raw), raw.Bounds(), 0, 0, cfg)
	b, sb := Find(raw, l2filter.DoG(raw, 1.8, 4), l1frames.WholeFrame(raw), raw.Bounds(), 0, 0, cfg)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("peak lists differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, sa, sb)
}

func TestFindWithoutDogFilter(t *testing.T) {
	t.Parallel()

	raw := testutil.SpotImage16(32, 32, 100, testutil.Spot{X: 16.3, Y: 15.8, Amplitude: 600, Sigma: 1.5})
	cfg := testConfig()
	cfg.Detection.Threshold = 300
	peaks, _ := Find(raw, raw, l1frames.WholeFrame(raw), raw.Bounds(), 0, 0, cfg)
	require.Len(t, peaks, 1)
	assert.InDelta(t, 16.3, peaks[0].X, 0.05)
	assert.InDelta(t, 15.8, peaks[0].Y, 0.05)
}
