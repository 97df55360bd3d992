package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/peaks.report/internal/timeutil"
	"github.com/banshee-data/peaks.report/internal/units"
)

// ArchiveStore provides persistence for archive runs and trajectories.
type ArchiveStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewArchiveStore creates a new ArchiveStore over a migrated database.
func NewArchiveStore(db *sql.DB) *ArchiveStore {
	return &ArchiveStore{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used to stamp new runs.
func (s *ArchiveStore) SetClock(c timeutil.Clock) {
	s.clock = timeutil.OrReal(c)
}

// CreateRun inserts a run. If run.RunID is empty, a new UUID is generated;
// CreatedAt defaults to now.
func (s *ArchiveStore) CreateRun(ctx context.Context, run *ArchiveRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = s.clock.Now().UnixNano()
	}
	if run.PixelUnit == "" {
		run.PixelUnit = "pixel"
	}

	query := `
		INSERT INTO archive_runs (
			run_id, metadata_uid, created_at, pixel_size, pixel_unit, config_json,
			frames_processed, peaks_detected, failed_tasks
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.RunID, run.MetadataUID, run.CreatedAt, run.PixelSize, run.PixelUnit,
		nullString(run.ConfigJSON),
		run.FramesProcessed, run.PeaksDetected, run.FailedTasks,
	)
	if err != nil {
		return fmt.Errorf("insert archive run: %w", err)
	}
	return nil
}

// UpdateRunStats records the detection totals of a run.
func (s *ArchiveStore) UpdateRunStats(ctx context.Context, runID string, frames, peaks, failed int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE archive_runs
		SET frames_processed = ?, peaks_detected = ?, failed_tasks = ?
		WHERE run_id = ?
	`, frames, peaks, failed, runID)
	if err != nil {
		return fmt.Errorf("update run stats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update run stats: run %s not found", runID)
	}
	return nil
}

// GetRun returns a run by ID.
func (s *ArchiveStore) GetRun(ctx context.Context, runID string) (*ArchiveRun, error) {
	r := &ArchiveRun{}
	var configJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, metadata_uid, created_at, pixel_size, pixel_unit, config_json,
		       frames_processed, peaks_detected, failed_tasks
		FROM archive_runs WHERE run_id = ?
	`, runID).Scan(
		&r.RunID, &r.MetadataUID, &r.CreatedAt, &r.PixelSize, &r.PixelUnit, &configJSON,
		&r.FramesProcessed, &r.PeaksDetected, &r.FailedTasks,
	)
	if err != nil {
		return nil, fmt.Errorf("get archive run %s: %w", runID, err)
	}
	if configJSON.Valid {
		r.ConfigJSON = configJSON.String
	}
	return r, nil
}

// InsertTrajectories writes trajectories and all their points in one
// transaction. Either every trajectory is stored or none is.
func (s *ArchiveStore) InsertTrajectories(ctx context.Context, trajs []ArchivedTrajectory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	trajStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trajectories (
			uid, run_id, metadata_uid, channel, cell, offset_x, offset_y,
			length, first_frame, last_frame, mean_intensity, mean_step
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare trajectory insert: %w", err)
	}
	defer trajStmt.Close()

	pointStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trajectory_points (
			uid, frame, x, y, x_px, y_px, intensity, background,
			mean_background, uncorrected_intensity, sigma, r_squared
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare point insert: %w", err)
	}
	defer pointStmt.Close()

	for _, tr := range trajs {
		if _, err := trajStmt.ExecContext(ctx,
			tr.UID, tr.RunID, tr.MetadataUID, tr.Channel, tr.Cell, tr.OffsetX, tr.OffsetY,
			tr.Length, tr.FirstFrame, tr.LastFrame, tr.MeanIntensity, tr.MeanStep,
		); err != nil {
			return fmt.Errorf("insert trajectory %s: %w", tr.UID, err)
		}
		for _, p := range tr.Points {
			if _, err := pointStmt.ExecContext(ctx,
				tr.UID, p.Frame, p.X, p.Y, p.XPx, p.YPx, p.Intensity, p.Background,
				nullFloat64(p.MeanBackground), nullFloat64(p.UncorrectedIntensity),
				nullFloat64(p.Sigma), nullFloat64(p.RSquared),
			); err != nil {
				return fmt.Errorf("insert point %s/%d: %w", tr.UID, p.Frame, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

const trajectoryColumns = `
	uid, run_id, metadata_uid, channel, cell, offset_x, offset_y,
	length, first_frame, last_frame, mean_intensity, mean_step
`

// ListByMetadata returns every trajectory archived for a metadata UID, with
// points, ordered by first frame then UID.
func (s *ArchiveStore) ListByMetadata(ctx context.Context, metadataUID string) ([]ArchivedTrajectory, error) {
	return s.list(ctx, `SELECT `+trajectoryColumns+` FROM trajectories
		WHERE metadata_uid = ? ORDER BY first_frame, uid`, metadataUID)
}

// ListByRun returns every trajectory of a run, with points.
func (s *ArchiveStore) ListByRun(ctx context.Context, runID string) ([]ArchivedTrajectory, error) {
	return s.list(ctx, `SELECT `+trajectoryColumns+` FROM trajectories
		WHERE run_id = ? ORDER BY first_frame, uid`, runID)
}

// ListByMetadataInUnit is ListByMetadata with physical quantities
// converted to unit, so runs archived with different pixel units can be
// compared. Runs archived in pixels are returned unchanged.
func (s *ArchiveStore) ListByMetadataInUnit(ctx context.Context, metadataUID, unit string) ([]ArchivedTrajectory, error) {
	if !units.IsValid(unit) {
		return nil, fmt.Errorf("invalid unit %q: must be one of %s", unit, units.GetValidUnitsString())
	}
	trajs, err := s.ListByMetadata(ctx, metadataUID)
	if err != nil {
		return nil, err
	}
	runUnits := make(map[string]string)
	for i := range trajs {
		tr := &trajs[i]
		from, ok := runUnits[tr.RunID]
		if !ok {
			run, err := s.GetRun(ctx, tr.RunID)
			if err != nil {
				return nil, err
			}
			from = run.PixelUnit
			runUnits[tr.RunID] = from
		}
		convertTrajectory(tr, from, unit)
	}
	return trajs, nil
}

func convertTrajectory(tr *ArchivedTrajectory, from, to string) {
	conv := func(v float64) float64 { return units.ConvertLength(v, from, to) }
	tr.OffsetX, tr.OffsetY = conv(tr.OffsetX), conv(tr.OffsetY)
	tr.MeanStep = conv(tr.MeanStep)
	for j := range tr.Points {
		p := &tr.Points[j]
		p.X, p.Y = conv(p.X), conv(p.Y)
		if p.Sigma != nil {
			v := conv(*p.Sigma)
			p.Sigma = &v
		}
	}
}

// GetTrajectory returns one trajectory with its points.
func (s *ArchiveStore) GetTrajectory(ctx context.Context, uid string) (*ArchivedTrajectory, error) {
	trajs, err := s.list(ctx, `SELECT `+trajectoryColumns+` FROM trajectories WHERE uid = ?`, uid)
	if err != nil {
		return nil, err
	}
	if len(trajs) == 0 {
		return nil, fmt.Errorf("get trajectory %s: %w", uid, sql.ErrNoRows)
	}
	return &trajs[0], nil
}

// DeleteRun removes a run and, by cascade, its trajectories and points.
func (s *ArchiveStore) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM archive_runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete archive run: %w", err)
	}
	return nil
}

func (s *ArchiveStore) list(ctx context.Context, query string, args ...any) ([]ArchivedTrajectory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trajectories: %w", err)
	}
	var trajs []ArchivedTrajectory
	for rows.Next() {
		var tr ArchivedTrajectory
		if err := rows.Scan(
			&tr.UID, &tr.RunID, &tr.MetadataUID, &tr.Channel, &tr.Cell, &tr.OffsetX, &tr.OffsetY,
			&tr.Length, &tr.FirstFrame, &tr.LastFrame, &tr.MeanIntensity, &tr.MeanStep,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan trajectory: %w", err)
		}
		trajs = append(trajs, tr)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate trajectories: %w", err)
	}
	rows.Close()

	// Points are loaded after the trajectory cursor is closed so a
	// single-connection pool is never asked for two cursors at once.
	for i := range trajs {
		pts, err := s.points(ctx, trajs[i].UID)
		if err != nil {
			return nil, err
		}
		trajs[i].Points = pts
	}
	return trajs, nil
}

func (s *ArchiveStore) points(ctx context.Context, uid string) ([]ArchivePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame, x, y, x_px, y_px, intensity, background,
		       mean_background, uncorrected_intensity, sigma, r_squared
		FROM trajectory_points WHERE uid = ? ORDER BY frame
	`, uid)
	if err != nil {
		return nil, fmt.Errorf("list points: %w", err)
	}
	defer rows.Close()

	var pts []ArchivePoint
	for rows.Next() {
		var p ArchivePoint
		var meanBg, uncorrected, sigma, rsq sql.NullFloat64
		if err := rows.Scan(
			&p.Frame, &p.X, &p.Y, &p.XPx, &p.YPx, &p.Intensity, &p.Background,
			&meanBg, &uncorrected, &sigma, &rsq,
		); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		p.MeanBackground = floatPtr(meanBg)
		p.UncorrectedIntensity = floatPtr(uncorrected)
		p.Sigma = floatPtr(sigma)
		p.RSquared = floatPtr(rsq)
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
