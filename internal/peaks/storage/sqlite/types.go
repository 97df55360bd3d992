package sqlite

// ArchiveRun describes one pipeline run written to the archive.
type ArchiveRun struct {
	RunID       string  `json:"run_id"`
	MetadataUID string  `json:"metadata_uid"`
	CreatedAt   int64   `json:"created_at"` // Unix nanos
	PixelSize   float64 `json:"pixel_size"`
	PixelUnit   string  `json:"pixel_unit"`
	ConfigJSON  string  `json:"config_json,omitempty"`

	FramesProcessed int64 `json:"frames_processed"`
	PeaksDetected   int64 `json:"peaks_detected"`
	FailedTasks     int64 `json:"failed_tasks"`
}

// ArchivePoint is one frame of an archived trajectory. X and Y are in
// physical units; XPx and YPx keep the pixel coordinates.
type ArchivePoint struct {
	Frame      int64   `json:"frame"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	XPx        float64 `json:"x_px"`
	YPx        float64 `json:"y_px"`
	Intensity  float64 `json:"intensity"`
	Background float64 `json:"background"`

	MeanBackground       *float64 `json:"mean_background,omitempty"`
	UncorrectedIntensity *float64 `json:"uncorrected_intensity,omitempty"`
	Sigma                *float64 `json:"sigma,omitempty"`
	RSquared             *float64 `json:"r_squared,omitempty"`
}

// ArchivedTrajectory is the persisted form of an accepted trajectory.
type ArchivedTrajectory struct {
	UID           string         `json:"uid"`
	RunID         string         `json:"run_id"`
	MetadataUID   string         `json:"metadata_uid"`
	Channel       int            `json:"channel"`
	Cell          int            `json:"cell"`
	OffsetX       float64        `json:"offset_x"`
	OffsetY       float64        `json:"offset_y"`
	Length        int            `json:"length"`
	FirstFrame    int64          `json:"first_frame"`
	LastFrame     int64          `json:"last_frame"`
	MeanIntensity float64        `json:"mean_intensity"`
	MeanStep      float64        `json:"mean_step"` // physical units
	Points        []ArchivePoint `json:"points"`
}
