package l5tracks

import (
	"github.com/banshee-data/peaks.report/internal/peaks/l4peaks"
)

// TrackState represents the lifecycle state of a trajectory.
type TrackState string

const (
	TrackOpen      TrackState = "open"      // still being extended
	TrackClosed    TrackState = "closed"    // gap exceeded or range ended
	TrackAccepted  TrackState = "accepted"  // closed and long enough
	TrackDiscarded TrackState = "discarded" // closed and too short
)

// Trajectory is a time-ordered run of peaks sharing one ID. The ID is
// assigned when the trajectory opens and never changes.
type Trajectory struct {
	ID      string
	Channel int
	Cell    int // grid cell the trajectory was linked in
	State   TrackState
	Peaks   []l4peaks.Peak

	OffsetX float64
	OffsetY float64

	seq int // creation order within a Linker
}

// Len is the number of peaks in the trajectory.
func (tr *Trajectory) Len() int { return len(tr.Peaks) }

// Last returns the most recent peak.
func (tr *Trajectory) Last() l4peaks.Peak { return tr.Peaks[len(tr.Peaks)-1] }

// FirstFrame is the frame of the first peak.
func (tr *Trajectory) FirstFrame() int64 { return tr.Peaks[0].Frame }

// LastFrame is the frame of the most recent peak.
func (tr *Trajectory) LastFrame() int64 { return tr.Last().Frame }

// Accepted filters trajectories down to those in TrackAccepted.
func Accepted(trajs []*Trajectory) []*Trajectory {
	out := make([]*Trajectory, 0, len(trajs))
	for _, tr := range trajs {
		if tr.State == TrackAccepted {
			out = append(out, tr)
		}
	}
	return out
}
