package l5tracks

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/banshee-data/peaks.report/internal/peaks/l4peaks"
)

// Linker builds trajectories from per-frame peak lists fed in ascending
// frame order. A Linker is not safe for concurrent use; independent
// regions use independent Linkers.
type Linker struct {
	Config TrackerConfig
	Cell   int

	ids       IDGenerator
	open      []*Trajectory
	closed    []*Trajectory
	nextSeq   int
	lastFrame int64
	started   bool
	finished  bool
}

// NewLinker creates a linker drawing trajectory IDs from ids.
func NewLinker(cfg TrackerConfig, ids IDGenerator) (*Linker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ids == nil {
		return nil, fmt.Errorf("%w: id generator is required", ErrInvalidConfig)
	}
	return &Linker{Config: cfg, ids: ids}, nil
}

type candidate struct {
	traj  int
	peak  int
	dist2 float64
}

// Step links the peaks of frame t. Frames must be strictly increasing;
// skipped frames count as gaps. Open trajectories whose last point is
// more than MaxDeltaT missing frames behind t are closed first. Each
// remaining trajectory may claim one peak inside its gate, nearest pairs
// first; unclaimed peaks open new trajectories.
func (l *Linker) Step(t int64, peaks []l4peaks.Peak) error {
	if l.finished {
		return fmt.Errorf("linker already finished")
	}
	if l.started && t <= l.lastFrame {
		return fmt.Errorf("frame %d is not after frame %d", t, l.lastFrame)
	}
	l.started = true
	l.lastFrame = t

	l.closeStale(t)

	var cands []candidate
	for ti, tr := range l.open {
		last := tr.Last()
		for pi, p := range peaks {
			dx, dy := p.X-last.X, p.Y-last.Y
			if math.Abs(dx) > l.Config.MaxDeltaX || math.Abs(dy) > l.Config.MaxDeltaY {
				continue
			}
			cands = append(cands, candidate{traj: ti, peak: pi, dist2: dx*dx + dy*dy})
		}
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(a.dist2, b.dist2); c != 0 {
			return c
		}
		if c := cmp.Compare(l.open[a.traj].seq, l.open[b.traj].seq); c != 0 {
			return c
		}
		return cmp.Compare(a.peak, b.peak)
	})

	extended := make([]bool, len(l.open))
	claimed := make([]bool, len(peaks))
	for _, c := range cands {
		if extended[c.traj] || claimed[c.peak] {
			continue
		}
		extended[c.traj] = true
		claimed[c.peak] = true
		tr := l.open[c.traj]
		tr.Peaks = append(tr.Peaks, withID(peaks[c.peak], tr.ID))
	}

	opened := 0
	for pi, p := range peaks {
		if claimed[pi] {
			continue
		}
		id := l.ids.NextID()
		l.open = append(l.open, &Trajectory{
			ID:      id,
			Channel: p.Channel,
			Cell:    l.Cell,
			State:   TrackOpen,
			Peaks:   []l4peaks.Peak{withID(p, id)},
			OffsetX: l.Config.OffsetX,
			OffsetY: l.Config.OffsetY,
			seq:     l.nextSeq,
		})
		l.nextSeq++
		opened++
	}
	tracef("cell %d frame %d: %d peaks, %d extended, %d opened, %d open",
		l.Cell, t, len(peaks), len(peaks)-opened, opened, len(l.open))
	return nil
}

// closeStale moves trajectories that can no longer be extended at frame
// t to the closed list, preserving creation order among the open ones.
func (l *Linker) closeStale(t int64) {
	keep := l.open[:0]
	for _, tr := range l.open {
		if t-tr.LastFrame()-1 > int64(l.Config.MaxDeltaT) {
			tr.State = TrackClosed
			l.closed = append(l.closed, tr)
			continue
		}
		keep = append(keep, tr)
	}
	clear(l.open[len(keep):])
	l.open = keep
}

// Finish closes every open trajectory and classifies all of them as
// accepted or discarded by length. The result is in creation order. The
// linker accepts no more frames afterwards.
func (l *Linker) Finish() []*Trajectory {
	if !l.finished {
		for _, tr := range l.open {
			tr.State = TrackClosed
		}
		l.closed = append(l.closed, l.open...)
		l.open = nil
		for _, tr := range l.closed {
			if tr.Len() >= l.Config.MinTrajectoryLength {
				tr.State = TrackAccepted
			} else {
				tr.State = TrackDiscarded
			}
		}
		slices.SortFunc(l.closed, func(a, b *Trajectory) int { return cmp.Compare(a.seq, b.seq) })
		l.finished = true
		accepted := len(Accepted(l.closed))
		diagf("cell %d: %d trajectories, %d accepted, %d discarded",
			l.Cell, len(l.closed), accepted, len(l.closed)-accepted)
	}
	return l.closed
}

// Open returns the number of trajectories currently open.
func (l *Linker) Open() int { return len(l.open) }

func withID(p l4peaks.Peak, id string) l4peaks.Peak {
	p.ID = id
	return p
}

// FrameLookup returns the peaks detected in frame t.
type FrameLookup func(t int64) []l4peaks.Peak

// Link runs a fresh Linker over frames (ascending) and returns all
// trajectories with their final states.
func Link(frames []int64, lookup FrameLookup, cfg TrackerConfig, ids IDGenerator, cell int) ([]*Trajectory, error) {
	l, err := NewLinker(cfg, ids)
	if err != nil {
		return nil, err
	}
	l.Cell = cell
	for _, t := range frames {
		if err := l.Step(t, lookup(t)); err != nil {
			return nil, err
		}
	}
	return l.Finish(), nil
}
