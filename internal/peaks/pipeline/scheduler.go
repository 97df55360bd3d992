package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/banshee-data/peaks.report/internal/peaks/l4peaks"
	"golang.org/x/sync/errgroup"
)

// Task identifies one unit of detection work.
type Task struct {
	Frame int64
	Cell  int
}

func (t Task) String() string { return fmt.Sprintf("frame %d cell %d", t.Frame, t.Cell) }

// TaskFunc detects the peaks of one task.
type TaskFunc func(ctx context.Context, task Task) ([]l4peaks.Peak, l4peaks.DetectionStats, error)

// Scheduler runs tasks on a bounded worker pool and fills a FramePeakMap.
type Scheduler struct {
	Workers  int // <= 0 uses GOMAXPROCS
	Progress ProgressFunc
}

// Run executes every task and returns once all of them have finished,
// sealing m. A task that errors or panics is logged once and recorded as
// an empty slot. Cancellation of ctx is checked before each task starts;
// tasks not yet started are skipped and ctx.Err() is returned.
//
// The returned stats are summed in task order.
func (s *Scheduler) Run(ctx context.Context, tasks []Task, m *FramePeakMap, fn TaskFunc) (l4peaks.DetectionStats, error) {
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	prog := newProgress(int64(len(tasks)), s.Progress)
	perTask := make([]l4peaks.DetectionStats, len(tasks))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			peaks, stats := s.runTask(ctx, task, fn)
			perTask[i] = stats
			if err := m.Put(task.Frame, task.Cell, peaks); err != nil {
				opsf("%s: %v", task, err)
			}
			prog.done(task.String())
			return nil
		})
	}
	_ = g.Wait()
	m.Seal()
	prog.close()

	var total l4peaks.DetectionStats
	for _, st := range perTask {
		total.Add(st)
	}
	diagf("scheduled %d tasks on %d workers: %s", len(tasks), workers, total)
	return total, ctx.Err()
}

// runTask calls fn, converting errors and panics into an empty result.
func (s *Scheduler) runTask(ctx context.Context, task Task, fn TaskFunc) (peaks []l4peaks.Peak, stats l4peaks.DetectionStats) {
	defer func() {
		if r := recover(); r != nil {
			opsf("%s: task panicked: %v\n%s", task, r, debug.Stack())
			peaks, stats = nil, l4peaks.DetectionStats{FailedTasks: 1}
		}
	}()
	peaks, stats, err := fn(ctx, task)
	if err != nil {
		opsf("%s: task failed: %v", task, err)
		return nil, l4peaks.DetectionStats{FailedTasks: 1}
	}
	return peaks, stats
}
