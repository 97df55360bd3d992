package sqlite

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/peaks.report/internal/peaks/l5tracks"
)

// ArchiveBuilder converts accepted trajectories into archive records and
// persists them. It satisfies pipeline.TrajectorySink.
type ArchiveBuilder struct {
	Store       *ArchiveStore
	MetadataUID string
	PixelSize   float64 // physical size of one pixel; <= 0 means 1
	PixelUnit   string
	ConfigJSON  string

	// RunID is filled on the first Archive call when empty.
	RunID string
}

// NewArchiveBuilder returns a builder writing to store under metadataUID.
func NewArchiveBuilder(store *ArchiveStore, metadataUID string, pixelSize float64, pixelUnit string) *ArchiveBuilder {
	return &ArchiveBuilder{
		Store:       store,
		MetadataUID: metadataUID,
		PixelSize:   pixelSize,
		PixelUnit:   pixelUnit,
	}
}

func (b *ArchiveBuilder) scale() float64 {
	if b.PixelSize <= 0 {
		return 1
	}
	return b.PixelSize
}

// Build converts trajectories into archive records without touching the
// store. Trajectories with no peaks are skipped.
func (b *ArchiveBuilder) Build(trajs []*l5tracks.Trajectory) []ArchivedTrajectory {
	s := b.scale()
	out := make([]ArchivedTrajectory, 0, len(trajs))
	for _, tr := range trajs {
		if tr == nil || tr.Len() == 0 {
			continue
		}
		sum := l5tracks.Summarize(tr)
		at := ArchivedTrajectory{
			UID:           tr.ID,
			RunID:         b.RunID,
			MetadataUID:   b.MetadataUID,
			Channel:       tr.Channel,
			Cell:          tr.Cell,
			OffsetX:       tr.OffsetX * s,
			OffsetY:       tr.OffsetY * s,
			Length:        sum.Length,
			FirstFrame:    sum.FirstFrame,
			LastFrame:     sum.LastFrame,
			MeanIntensity: sum.MeanIntensity,
			MeanStep:      sum.MeanStep * s,
			Points:        make([]ArchivePoint, 0, tr.Len()),
		}
		for _, p := range tr.Peaks {
			pt := ArchivePoint{
				Frame:      p.Frame,
				X:          p.X * s,
				Y:          p.Y * s,
				XPx:        p.X,
				YPx:        p.Y,
				Intensity:  p.Intensity(),
				Background: p.Background(),
			}
			if in := p.Integration; in != nil && in.Verbose {
				pt.MeanBackground = finitePtr(in.MeanBackground)
				pt.UncorrectedIntensity = finitePtr(in.UncorrectedIntensity)
			}
			if p.Fit != nil {
				pt.Sigma = finitePtr(p.Fit.Sigma * s)
				pt.RSquared = finitePtr(p.Fit.RSquared)
			}
			at.Points = append(at.Points, pt)
		}
		out = append(out, at)
	}
	return out
}

// Archive creates the run record on first use and writes all non-empty
// trajectories in one transaction.
func (b *ArchiveBuilder) Archive(ctx context.Context, trajs []*l5tracks.Trajectory) error {
	if b.Store == nil {
		return fmt.Errorf("archive builder has no store")
	}
	if b.RunID == "" {
		run := &ArchiveRun{
			MetadataUID: b.MetadataUID,
			PixelSize:   b.scale(),
			PixelUnit:   b.PixelUnit,
			ConfigJSON:  b.ConfigJSON,
		}
		if err := b.Store.CreateRun(ctx, run); err != nil {
			return err
		}
		b.RunID = run.RunID
	}
	records := b.Build(trajs)
	if len(records) == 0 {
		return nil
	}
	if err := b.Store.InsertTrajectories(ctx, records); err != nil {
		opsf("archive of %d trajectories for %s failed: %v", len(records), b.MetadataUID, err)
		return err
	}
	diagf("archived %d trajectories for %s (run %s)", len(records), b.MetadataUID, b.RunID)
	return nil
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
