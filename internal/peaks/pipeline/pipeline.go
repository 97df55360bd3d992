package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
	"github.com/banshee-data/peaks.report/internal/peaks/l3grid"
	"github.com/banshee-data/peaks.report/internal/peaks/l4peaks"
	"github.com/banshee-data/peaks.report/internal/peaks/l5tracks"
	"github.com/banshee-data/peaks.report/internal/timeutil"
)

// ErrPreviewTimeout is returned when Preview exceeds its time budget. The
// caller should retry with cheaper parameters.
var ErrPreviewTimeout = errors.New("preview timed out")

// TrajectorySink persists accepted trajectories.
type TrajectorySink interface {
	Archive(ctx context.Context, trajs []*l5tracks.Trajectory) error
}

// evicter is implemented by frame sources that cache decoded frames.
type evicter interface {
	Evict(t int64)
}

// Pipeline runs detection, linking and archiving over a FrameSource.
type Pipeline struct {
	Config Config
	Source l1frames.FrameSource

	// Region limits detection; nil means the whole frame.
	Region l1frames.RegionMask
	// IDs generates trajectory IDs; nil uses random UUIDs.
	IDs l5tracks.IDGenerator
	// Progress receives per-task progress; may be nil.
	Progress ProgressFunc
	// Sink receives accepted trajectories; may be nil.
	Sink TrajectorySink
	// Clock times the run; nil uses the wall clock.
	Clock timeutil.Clock
}

// Result is the outcome of Run.
type Result struct {
	Frames       []int64 // frames that were scheduled
	Cells        []l3grid.Cell
	Peaks        *FramePeakMap
	Trajectories []*l5tracks.Trajectory // every trajectory, accepted or not
	Accepted     []*l5tracks.Trajectory
	Stats        l4peaks.DetectionStats
	Elapsed      time.Duration // detection and linking, excluding archive
}

// New returns a Pipeline over src.
func New(src l1frames.FrameSource, cfg Config) *Pipeline {
	return &Pipeline{Config: cfg, Source: src}
}

// Run processes every non-excluded frame of the configured channel. The
// result is returned even when archiving fails so the caller can retry
// persistence.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	cfg := p.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	clock := timeutil.OrReal(p.Clock)
	start := clock.Now()
	first, last, err := p.Source.FrameRange(cfg.Channel)
	if err != nil {
		return nil, fmt.Errorf("frame range: %w", err)
	}

	var frames []int64
	for t := first; t <= last; t++ {
		if !cfg.Exclude[t] {
			frames = append(frames, t)
		}
	}
	res := &Result{Frames: frames}
	if len(frames) == 0 {
		res.Peaks = NewFramePeakMap(first, last, 0)
		res.Peaks.Seal()
		diagf("no frames to process in [%d,%d]", first, last)
		return res, p.archive(ctx, res)
	}

	region, err := p.region(frames[0])
	if err != nil {
		return nil, err
	}
	cells, err := l3grid.Partition(region, cfg.Grid)
	if err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	res.Cells = cells

	var tasks []Task
	for _, t := range frames {
		for _, c := range cells {
			if !c.Empty() {
				tasks = append(tasks, Task{Frame: t, Cell: c.Index})
			}
		}
	}
	diagf("run: channel %d, frames [%d,%d] (%d scheduled, %d excluded), %dx%d grid, %d tasks",
		cfg.Channel, first, last, len(frames), int(last-first+1)-len(frames),
		cfg.Grid.HCells, cfg.Grid.VCells, len(tasks))

	res.Peaks = NewFramePeakMap(first, last, len(cells))
	sched := &Scheduler{Workers: cfg.Workers, Progress: p.Progress}
	res.Stats, err = sched.Run(ctx, tasks, res.Peaks, p.detectTask(cells, tasks))
	if err != nil {
		return res, fmt.Errorf("detection: %w", err)
	}

	ids := p.IDs
	if ids == nil {
		ids = l5tracks.UUIDGenerator{}
	}
	for _, c := range cells {
		if c.Empty() {
			continue
		}
		lookup := func(t int64) []l4peaks.Peak { return res.Peaks.Cell(t, c.Index) }
		trajs, err := l5tracks.Link(frames, lookup, cfg.Tracker, ids, c.Index)
		if err != nil {
			return res, fmt.Errorf("link cell %d: %w", c.Index, err)
		}
		res.Trajectories = append(res.Trajectories, trajs...)
	}
	res.Accepted = l5tracks.Accepted(res.Trajectories)
	res.Elapsed = clock.Since(start)
	diagf("run: %d peaks, %d trajectories, %d accepted in %v; %s",
		res.Peaks.Len(), len(res.Trajectories), len(res.Accepted), res.Elapsed, res.Stats)

	return res, p.archive(ctx, res)
}

func (p *Pipeline) archive(ctx context.Context, res *Result) error {
	if p.Sink == nil || len(res.Accepted) == 0 {
		return nil
	}
	if err := p.Sink.Archive(ctx, res.Accepted); err != nil {
		return fmt.Errorf("archive trajectories: %w", err)
	}
	return nil
}

// region resolves the detection region, defaulting to the bounds of
// frame t.
func (p *Pipeline) region(t int64) (l1frames.RegionMask, error) {
	if p.Region != nil {
		return p.Region, nil
	}
	buf, err := p.Source.Frame(p.Config.Channel, t)
	if err != nil {
		return nil, fmt.Errorf("load frame %d: %w", t, err)
	}
	return l1frames.WholeFrame(buf), nil
}

// detectTask returns the TaskFunc for a run. Sources that cache frames
// are asked to evict a frame once all of its cells are done.
func (p *Pipeline) detectTask(cells []l3grid.Cell, tasks []Task) TaskFunc {
	remaining := make(map[int64]*atomic.Int32)
	for _, task := range tasks {
		if remaining[task.Frame] == nil {
			remaining[task.Frame] = new(atomic.Int32)
		}
		remaining[task.Frame].Add(1)
	}
	ev, canEvict := p.Source.(evicter)

	return func(ctx context.Context, task Task) ([]l4peaks.Peak, l4peaks.DetectionStats, error) {
		if canEvict {
			defer func() {
				if remaining[task.Frame].Add(-1) == 0 {
					ev.Evict(task.Frame)
				}
			}()
		}
		return p.detect(task.Frame, cells[task.Cell])
	}
}

// detect runs the per-frame stages on one cell. The DoG is computed on
// the cell's padded window, so results inside the cell do not depend on
// the grid layout.
func (p *Pipeline) detect(frame int64, cell l3grid.Cell) ([]l4peaks.Peak, l4peaks.DetectionStats, error) {
	cfg := p.Config
	raw, err := p.Source.Frame(cfg.Channel, frame)
	if err != nil {
		return nil, l4peaks.DetectionStats{}, fmt.Errorf("load frame: %w", err)
	}
	var detectOn l1frames.PixelBuffer = raw
	if cfg.Peaks.Detection.UseDogFilter {
		detectOn = cell.Filter(raw, cfg.Peaks.Detection.DogRadius, 1)
	}
	peaks, stats := l4peaks.Find(raw, detectOn, cell.Region, cell.SampleBounds(), frame, cfg.Channel, cfg.Peaks)
	tracef("frame %d cell %d: %d peaks", frame, cell.Index, len(peaks))
	return peaks, stats, nil
}

// Preview runs detection on a single frame over the whole region, without
// the grid, and gives up after timeout (Config.PreviewTimeout when
// timeout <= 0). On timeout the in-flight computation is abandoned and
// ErrPreviewTimeout is returned.
func (p *Pipeline) Preview(ctx context.Context, frame int64, timeout time.Duration) ([]l4peaks.Peak, l4peaks.DetectionStats, error) {
	if err := p.Config.Peaks.Validate(); err != nil {
		return nil, l4peaks.DetectionStats{}, fmt.Errorf("invalid preview config: %w", err)
	}
	if timeout <= 0 {
		timeout = p.Config.PreviewTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		peaks []l4peaks.Peak
		stats l4peaks.DetectionStats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		region, err := p.region(frame)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		whole := l3grid.Cell{Rect: region.Bounds(), Region: region, Parent: region.Bounds()}
		peaks, stats, err := p.detect(frame, whole)
		done <- outcome{peaks, stats, err}
	}()

	select {
	case out := <-done:
		return out.peaks, out.stats, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			opsf("preview of frame %d exceeded %v", frame, timeout)
			return nil, l4peaks.DetectionStats{}, ErrPreviewTimeout
		}
		return nil, l4peaks.DetectionStats{}, ctx.Err()
	}
}
