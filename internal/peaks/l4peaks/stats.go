package l4peaks

import "fmt"

// DetectionStats counts what happened to candidates across a run. Fit
// failures are only ever reported here.
type DetectionStats struct {
	Candidates  int64 // pixels passing the extremum and threshold tests
	Suppressed  int64 // removed by either suppression pass
	FitRejected int64 // dropped by the localizer
	Peaks       int64 // peaks emitted after integration
	FailedTasks int64 // frame/cell tasks that errored or panicked
}

// Add accumulates o into s.
func (s *DetectionStats) Add(o DetectionStats) {
	s.Candidates += o.Candidates
	s.Suppressed += o.Suppressed
	s.FitRejected += o.FitRejected
	s.Peaks += o.Peaks
	s.FailedTasks += o.FailedTasks
}

func (s DetectionStats) String() string {
	return fmt.Sprintf("candidates=%d suppressed=%d fit_rejected=%d peaks=%d failed_tasks=%d",
		s.Candidates, s.Suppressed, s.FitRejected, s.Peaks, s.FailedTasks)
}
