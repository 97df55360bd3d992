package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
	"github.com/banshee-data/peaks.report/internal/peaks/l3grid"
	"github.com/banshee-data/peaks.report/internal/peaks/l4peaks"
	"github.com/banshee-data/peaks.report/internal/peaks/l5tracks"
	"github.com/banshee-data/peaks.report/internal/testutil"
	"github.com/banshee-data/peaks.report/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Peaks: l4peaks.Config{
			Detection:   l4peaks.DetectionConfig{Threshold: 40, MinSeparation: 5, UseDogFilter: true, DogRadius: 1.8},
			Fit:         l4peaks.FitConfig{FitRadius: 4, MaxIterations: 100},
			Integration: l4peaks.IntegrationConfig{InnerRadius: 2, OuterRadius: 4},
		},
		Tracker: l5tracks.TrackerConfig{MaxDeltaX: 1, MaxDeltaY: 1, MaxDeltaT: 1, MinSeparation: 5, MinTrajectoryLength: 5},
		Grid:    l3grid.GridConfig{HCells: 1, VCells: 1},
		Workers: 4,
	}
}

func movingSpot() *l1frames.StackSource {
	return testutil.MovingSpotStack(10, 64, 64, 100, 5,
		testutil.Spot{X: 20.2, Y: 31.7, Amplitude: 800, Sigma: 1.5}, 0.3, 0)
}

// sortedPeaks orders peaks by position for set comparison.
func sortedPeaks(peaks []l4peaks.Peak) []l4peaks.Peak {
	out := slices.Clone(peaks)
	slices.SortFunc(out, func(a, b l4peaks.Peak) int {
		if a.Y != b.Y {
			if a.Y < b.Y {
				return -1
			}
			return 1
		}
		if a.X < b.X {
			return -1
		}
		if a.X > b.X {
			return 1
		}
		return 0
	})
	return out
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestConfigValidateJoinsErrors(t *testing.T) {
	t.Parallel()

	require.NoError(t, testConfig().Validate())
	require.NoError(t, DefaultConfig().Validate())

	cfg := testConfig()
	cfg.Peaks.Integration.OuterRadius = 1
	cfg.Tracker.MaxDeltaT = -1
	cfg.Grid.HCells = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, l4peaks.ErrInvalidConfig)
	assert.ErrorIs(t, err, l5tracks.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "grid")

	_, err = New(movingSpot(), cfg).Run(context.Background())
	assert.ErrorIs(t, err, l4peaks.ErrInvalidConfig)
}

// ---------------------------------------------------------------------------
// FramePeakMap
// ---------------------------------------------------------------------------

func TestFramePeakMapWriteOnce(t *testing.T) {
	t.Parallel()

	m := NewFramePeakMap(5, 7, 2)
	require.NoError(t, m.Put(5, 1, []l4peaks.Peak{{X: 1}}))
	require.NoError(t, m.Put(7, 0, nil))
	assert.Error(t, m.Put(5, 1, nil), "second write")
	assert.Error(t, m.Put(4, 0, nil), "frame below range")
	assert.Error(t, m.Put(8, 0, nil), "frame above range")
	assert.Error(t, m.Put(6, 2, nil), "cell out of range")

	assert.Nil(t, m.Cell(5, 1), "unreadable before seal")
	m.Seal()
	assert.Error(t, m.Put(6, 0, nil), "write after seal")

	assert.Len(t, m.Cell(5, 1), 1)
	assert.NotNil(t, m.Cell(7, 0), "empty results are stored as empty slices")
	assert.Nil(t, m.Cell(6, 0))
	assert.True(t, m.Has(7, 0))
	assert.False(t, m.Has(6, 0))
	assert.Equal(t, []int64{5, 7}, m.Frames())
	assert.Equal(t, 1, m.Len())
	assert.Len(t, m.Frame(5), 1)
}

func TestFramePeakMapConcurrentPut(t *testing.T) {
	t.Parallel()

	m := NewFramePeakMap(0, 99, 4)
	var wg sync.WaitGroup
	for f := int64(0); f < 100; f++ {
		for c := 0; c < 4; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, m.Put(f, c, []l4peaks.Peak{{Frame: f, X: float64(c)}}))
			}()
		}
	}
	wg.Wait()
	m.Seal()
	assert.Equal(t, 400, m.Len())
	assert.Len(t, m.Frames(), 100)
	assert.Equal(t, 3.0, m.Cell(42, 3)[0].X)
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

func TestSchedulerIsolatesTaskFailures(t *testing.T) {
	t.Parallel()

	tasks := []Task{{0, 0}, {1, 0}, {2, 0}, {3, 0}}
	m := NewFramePeakMap(0, 3, 1)
	s := &Scheduler{Workers: 2}
	stats, err := s.Run(context.Background(), tasks, m, func(_ context.Context, task Task) ([]l4peaks.Peak, l4peaks.DetectionStats, error) {
		switch task.Frame {
		case 1:
			return nil, l4peaks.DetectionStats{}, errors.New("boom")
		case 2:
			panic("worse")
		}
		return []l4peaks.Peak{{Frame: task.Frame}}, l4peaks.DetectionStats{Peaks: 1, Candidates: 2}, nil
	})
	require.NoError(t, err)
	assert.True(t, m.Sealed())
	assert.Equal(t, int64(2), stats.FailedTasks)
	assert.Equal(t, int64(2), stats.Peaks)
	assert.Equal(t, int64(4), stats.Candidates)
	for f := int64(0); f < 4; f++ {
		assert.True(t, m.Has(f, 0), "frame %d", f)
	}
	assert.Empty(t, m.Cell(1, 0))
	assert.Empty(t, m.Cell(2, 0))
	assert.Len(t, m.Cell(3, 0), 1)
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	tasks := make([]Task, 32)
	for i := range tasks {
		tasks[i] = Task{Frame: int64(i)}
	}
	m := NewFramePeakMap(0, 31, 1)
	s := &Scheduler{Workers: 3}
	_, err := s.Run(context.Background(), tasks, m, func(context.Context, Task) ([]l4peaks.Peak, l4peaks.DetectionStats, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return nil, l4peaks.DetectionStats{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestSchedulerProgressReachesTotal(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calls [][2]int64
	s := &Scheduler{Workers: 4, Progress: func(completed, total int64, _ string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, [2]int64{completed, total})
	}}
	tasks := make([]Task, 50)
	for i := range tasks {
		tasks[i] = Task{Frame: int64(i)}
	}
	_, err := s.Run(context.Background(), tasks, NewFramePeakMap(0, 49, 1), func(context.Context, Task) ([]l4peaks.Peak, l4peaks.DetectionStats, error) {
		return nil, l4peaks.DetectionStats{}, nil
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, calls)
	assert.Equal(t, [2]int64{50, 50}, calls[len(calls)-1])
	for i := 1; i < len(calls); i++ {
		assert.Greater(t, calls[i][0], calls[i-1][0], "progress is monotonic")
	}
}

func TestSchedulerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	tasks := make([]Task, 100)
	for i := range tasks {
		tasks[i] = Task{Frame: int64(i)}
	}
	m := NewFramePeakMap(0, 99, 1)
	var ran atomic.Int32
	s := &Scheduler{Workers: 1}
	_, err := s.Run(ctx, tasks, m, func(_ context.Context, task Task) ([]l4peaks.Peak, l4peaks.DetectionStats, error) {
		if ran.Add(1) == 5 {
			cancel()
		}
		return nil, l4peaks.DetectionStats{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, ran.Load(), int32(100))
	assert.Len(t, m.Frames(), int(ran.Load()))
}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestRunSingleMovingSpot(t *testing.T) {
	t.Parallel()

	p := New(movingSpot(), testConfig())
	p.IDs = l5tracks.NewCounterGenerator("spot-")
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Frames, 10)
	assert.Equal(t, int64(0), res.Stats.FailedTasks)
	require.Len(t, res.Accepted, 1)
	tr := res.Accepted[0]
	assert.Equal(t, "spot-1", tr.ID)
	require.Equal(t, 10, tr.Len())
	for i := 1; i < tr.Len(); i++ {
		assert.Greater(t, tr.Peaks[i].X, tr.Peaks[i-1].X, "x increases at frame %d", i)
		assert.InDelta(t, 20.2+0.3*float64(i), tr.Peaks[i].X, 0.1)
		assert.Equal(t, int64(i), tr.Peaks[i].Frame)
		assert.Equal(t, "spot-1", tr.Peaks[i].ID)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	run := func(workers int) *Result {
		cfg := testConfig()
		cfg.Workers = workers
		p := New(movingSpot(), cfg)
		p.IDs = l5tracks.NewCounterGenerator("")
		res, err := p.Run(context.Background())
		require.NoError(t, err)
		return res
	}
	a, b := run(1), run(8)
	for _, f := range a.Frames {
		if diff := cmp.Diff(a.Peaks.Frame(f), b.Peaks.Frame(f)); diff != "" {
			t.Errorf("frame %d differs (-1 worker +8 workers):\n%s", f, diff)
		}
	}
	assert.Equal(t, a.Stats, b.Stats)
}

func TestRunExcludedFramesAreBridged(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Exclude = map[int64]bool{4: true}
	res, err := New(movingSpot(), cfg).Run(context.Background())
	require.NoError(t, err)

	assert.NotContains(t, res.Frames, int64(4))
	assert.False(t, res.Peaks.Has(4, 0))
	assert.NotContains(t, res.Peaks.Frames(), int64(4))
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, 9, res.Accepted[0].Len())

	cfg.Exclude = map[int64]bool{4: true, 5: true}
	res, err = New(movingSpot(), cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Accepted, "a two-frame gap splits the track into two short halves")
	assert.Len(t, res.Trajectories, 2)
}

func TestRunGridMatchesWholeRegion(t *testing.T) {
	t.Parallel()

	img := testutil.SpotImage16(64, 64, 150,
		testutil.Spot{X: 15.3, Y: 16.6, Amplitude: 900, Sigma: 1.5},
		testutil.Spot{X: 47.8, Y: 14.2, Amplitude: 700, Sigma: 1.4},
		testutil.Spot{X: 17.1, Y: 45.9, Amplitude: 1100, Sigma: 1.6},
		testutil.Spot{X: 49.5, Y: 48.4, Amplitude: 600, Sigma: 1.5},
	)
	testutil.AddNoise(img, 4, 5)
	src := l1frames.NewStackSource(img)

	run := func(h, v int) []l4peaks.Peak {
		cfg := testConfig()
		cfg.Grid = l3grid.GridConfig{HCells: h, VCells: v}
		cfg.Tracker.MinTrajectoryLength = 1
		res, err := New(src, cfg).Run(context.Background())
		require.NoError(t, err)
		return sortedPeaks(res.Peaks.Frame(0))
	}
	whole, grid := run(1, 1), run(2, 2)
	require.Len(t, whole, 4)
	if diff := cmp.Diff(whole, grid); diff != "" {
		t.Errorf("grid peaks differ from whole-region peaks (-whole +grid):\n%s", diff)
	}
}

func TestRunGridMatchesWholeRegionNearCellBorder(t *testing.T) {
	t.Parallel()

	// Each spot sits within the integration radius of a 2x2 cell border.
	img := testutil.SpotImage16(64, 64, 150,
		testutil.Spot{X: 29.4, Y: 16.6, Amplitude: 900, Sigma: 1.5},
		testutil.Spot{X: 34.6, Y: 45.3, Amplitude: 800, Sigma: 1.5},
		testutil.Spot{X: 12.2, Y: 29.7, Amplitude: 1000, Sigma: 1.5},
	)
	testutil.AddNoise(img, 4, 11)
	src := l1frames.NewStackSource(img)

	run := func(h, v int) []l4peaks.Peak {
		cfg := testConfig()
		cfg.Grid = l3grid.GridConfig{HCells: h, VCells: v}
		cfg.Tracker.MinTrajectoryLength = 1
		res, err := New(src, cfg).Run(context.Background())
		require.NoError(t, err)
		return sortedPeaks(res.Peaks.Frame(0))
	}
	whole, grid := run(1, 1), run(2, 2)
	require.Len(t, whole, 3)
	if diff := cmp.Diff(whole, grid); diff != "" {
		t.Errorf("grid peaks differ from whole-region peaks (-whole +grid):\n%s", diff)
	}
}

func TestRunGridLinksCellsIndependently(t *testing.T) {
	t.Parallel()

	frames := make([]l1frames.PixelBuffer, 6)
	for i := range frames {
		frames[i] = testutil.SpotImage16(64, 64, 100,
			testutil.Spot{X: 16 + 0.2*float64(i), Y: 16, Amplitude: 800, Sigma: 1.5},
			testutil.Spot{X: 48, Y: 48 - 0.2*float64(i), Amplitude: 800, Sigma: 1.5},
		)
	}
	cfg := testConfig()
	cfg.Grid = l3grid.GridConfig{HCells: 2, VCells: 2}
	p := New(l1frames.NewStackSource(frames...), cfg)
	p.IDs = l5tracks.NewCounterGenerator("")
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Accepted, 2)
	assert.Equal(t, 0, res.Accepted[0].Cell)
	assert.Equal(t, 3, res.Accepted[1].Cell)
	assert.NotEqual(t, res.Accepted[0].ID, res.Accepted[1].ID)
}

func TestRunWithRegion(t *testing.T) {
	t.Parallel()

	p := New(movingSpot(), testConfig())
	p.Region = l1frames.NewRectRegion(image.Rect(32, 0, 64, 64))
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Peaks.Len())
	assert.Empty(t, res.Accepted)
}

// ---------------------------------------------------------------------------
// Failures and sinks
// ---------------------------------------------------------------------------

type flakySource struct {
	l1frames.FrameSource
	bad     int64
	evicted sync.Map
}

func (s *flakySource) Frame(channel int, t int64) (l1frames.PixelBuffer, error) {
	if t == s.bad {
		return nil, fmt.Errorf("corrupt frame %d", t)
	}
	return s.FrameSource.Frame(channel, t)
}

func (s *flakySource) Evict(t int64) { s.evicted.Store(t, true) }

func TestRunTreatsFailedFrameAsDropout(t *testing.T) {
	t.Parallel()

	src := &flakySource{FrameSource: movingSpot(), bad: 6}
	res, err := New(src, testConfig()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Stats.FailedTasks)
	assert.True(t, res.Peaks.Has(6, 0))
	assert.Empty(t, res.Peaks.Cell(6, 0))
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, 9, res.Accepted[0].Len())

	for f := int64(0); f < 10; f++ {
		_, ok := src.evicted.Load(f)
		assert.True(t, ok, "frame %d evicted", f)
	}
}

type recordingSink struct {
	got []*l5tracks.Trajectory
	err error
}

func (s *recordingSink) Archive(_ context.Context, trajs []*l5tracks.Trajectory) error {
	s.got = append(s.got, trajs...)
	return s.err
}

func TestRunArchivesAcceptedTrajectories(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := New(movingSpot(), testConfig())
	p.Sink = sink
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Accepted, sink.got)

	failing := &recordingSink{err: errors.New("disk full")}
	p.Sink = failing
	res, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NotNil(t, res, "result survives archive failure")
	assert.Len(t, res.Accepted, 1)
}

// ---------------------------------------------------------------------------
// Preview
// ---------------------------------------------------------------------------

type blockingSource struct {
	l1frames.FrameSource
	release chan struct{}
}

func (s *blockingSource) Frame(channel int, t int64) (l1frames.PixelBuffer, error) {
	<-s.release
	return s.FrameSource.Frame(channel, t)
}

func TestPreview(t *testing.T) {
	t.Parallel()

	p := New(movingSpot(), testConfig())
	peaks, stats, err := p.Preview(context.Background(), 3, time.Minute)
	require.NoError(t, err)
	require.Len(t, peaks, 1)
	assert.InDelta(t, 21.1, peaks[0].X, 0.1)
	assert.Equal(t, int64(1), stats.Peaks)
}

func TestPreviewTimeout(t *testing.T) {
	t.Parallel()

	src := &blockingSource{FrameSource: movingSpot(), release: make(chan struct{})}
	defer close(src.release)

	cfg := testConfig()
	cfg.PreviewTimeout = 20 * time.Millisecond
	_, _, err := New(src, cfg).Preview(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrPreviewTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = New(src, cfg).Preview(ctx, 0, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

// slowRange advances a mock clock whenever the frame range is queried.
type slowRange struct {
	l1frames.FrameSource
	clock *timeutil.MockClock
}

func (s slowRange) FrameRange(channel int) (int64, int64, error) {
	s.clock.Advance(time.Second)
	return s.FrameSource.FrameRange(channel)
}

func TestRunReportsElapsed(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	p := New(slowRange{FrameSource: movingSpot(), clock: clock}, testConfig())
	p.Clock = clock

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Second, res.Elapsed)
}
