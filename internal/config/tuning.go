package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/peaks.report/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for a peak-finding and
// tracking run. The schema is flat so a single JSON file can drive the
// CLI and tests alike.
type TuningConfig struct {
	// Detection params
	Threshold     *float64 `json:"threshold,omitempty"`
	MinSeparation *int     `json:"min_separation,omitempty"`
	FindNegative  *bool    `json:"find_negative,omitempty"`
	UseDogFilter  *bool    `json:"use_dog_filter,omitempty"`
	DogRadius     *float64 `json:"dog_radius,omitempty"`

	// Fit params
	FitRadius        *int     `json:"fit_radius,omitempty"`
	RSquaredMin      *float64 `json:"r_squared_min,omitempty"`
	FitMaxIterations *int     `json:"fit_max_iterations,omitempty"`

	// Integration params
	InnerRadius *int  `json:"inner_radius,omitempty"`
	OuterRadius *int  `json:"outer_radius,omitempty"`
	Verbose     *bool `json:"verbose,omitempty"`

	// Tracker params
	MaxDeltaX           *float64 `json:"max_delta_x,omitempty"`
	MaxDeltaY           *float64 `json:"max_delta_y,omitempty"`
	MaxDeltaT           *int     `json:"max_delta_t,omitempty"`
	MinTrajectoryLength *int     `json:"min_trajectory_length,omitempty"`
	OffsetX             *float64 `json:"offset_x,omitempty"`
	OffsetY             *float64 `json:"offset_y,omitempty"`

	// Grid and scheduling params
	GridHCells *int `json:"grid_h_cells,omitempty"`
	GridVCells *int `json:"grid_v_cells,omitempty"`
	Workers    *int `json:"workers,omitempty"`

	// Run scope
	Channel        *int    `json:"channel,omitempty"`
	ExcludeFrames  *string `json:"exclude_frames,omitempty"`  // frame set like "3,7-9"
	PreviewTimeout *string `json:"preview_timeout,omitempty"` // duration string like "5s"

	// Archive params
	PixelSize *float64 `json:"pixel_size,omitempty"`
	PixelUnit *string  `json:"pixel_unit,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field set to the
// value its getter falls back to.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		Threshold:           ptrFloat64(e.GetThreshold()),
		MinSeparation:       ptrInt(e.GetMinSeparation()),
		FindNegative:        ptrBool(e.GetFindNegative()),
		UseDogFilter:        ptrBool(e.GetUseDogFilter()),
		DogRadius:           ptrFloat64(e.GetDogRadius()),
		FitRadius:           ptrInt(e.GetFitRadius()),
		RSquaredMin:         ptrFloat64(e.GetRSquaredMin()),
		FitMaxIterations:    ptrInt(e.GetFitMaxIterations()),
		InnerRadius:         ptrInt(e.GetInnerRadius()),
		OuterRadius:         ptrInt(e.GetOuterRadius()),
		Verbose:             ptrBool(e.GetVerbose()),
		MaxDeltaX:           ptrFloat64(e.GetMaxDeltaX()),
		MaxDeltaY:           ptrFloat64(e.GetMaxDeltaY()),
		MaxDeltaT:           ptrInt(e.GetMaxDeltaT()),
		MinTrajectoryLength: ptrInt(e.GetMinTrajectoryLength()),
		OffsetX:             ptrFloat64(e.GetOffsetX()),
		OffsetY:             ptrFloat64(e.GetOffsetY()),
		GridHCells:          ptrInt(e.GetGridHCells()),
		GridVCells:          ptrInt(e.GetGridVCells()),
		Workers:             ptrInt(e.GetWorkers()),
		Channel:             ptrInt(e.GetChannel()),
		ExcludeFrames:       ptrString(""),
		PreviewTimeout:      ptrString("5s"),
		PixelSize:           ptrFloat64(e.GetPixelSize()),
		PixelUnit:           ptrString(e.GetPixelUnit()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/peaks/l5tracks/
		"../../../../" + DefaultConfigPath,    // from internal/peaks/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Only set fields
// are checked; cross-field checks use the effective (defaulted) values.
func (c *TuningConfig) Validate() error {
	if c.Threshold != nil && *c.Threshold < 0 {
		return fmt.Errorf("threshold must be non-negative, got %f", *c.Threshold)
	}
	if c.MinSeparation != nil && *c.MinSeparation < 0 {
		return fmt.Errorf("min_separation must be non-negative, got %d", *c.MinSeparation)
	}
	if c.DogRadius != nil && *c.DogRadius < 0 {
		return fmt.Errorf("dog_radius must be non-negative, got %f", *c.DogRadius)
	}
	if c.FitRadius != nil && *c.FitRadius < 1 {
		return fmt.Errorf("fit_radius must be at least 1, got %d", *c.FitRadius)
	}
	if c.RSquaredMin != nil && (*c.RSquaredMin < 0 || *c.RSquaredMin > 1) {
		return fmt.Errorf("r_squared_min must be between 0 and 1, got %f", *c.RSquaredMin)
	}
	if c.InnerRadius != nil && *c.InnerRadius < 0 {
		return fmt.Errorf("inner_radius must be non-negative, got %d", *c.InnerRadius)
	}
	if c.GetOuterRadius() <= c.GetInnerRadius() {
		return fmt.Errorf("outer_radius (%d) must be greater than inner_radius (%d)", c.GetOuterRadius(), c.GetInnerRadius())
	}
	if c.MaxDeltaX != nil && *c.MaxDeltaX < 0 {
		return fmt.Errorf("max_delta_x must be non-negative, got %f", *c.MaxDeltaX)
	}
	if c.MaxDeltaY != nil && *c.MaxDeltaY < 0 {
		return fmt.Errorf("max_delta_y must be non-negative, got %f", *c.MaxDeltaY)
	}
	if c.MaxDeltaT != nil && *c.MaxDeltaT < 0 {
		return fmt.Errorf("max_delta_t must be non-negative, got %d", *c.MaxDeltaT)
	}
	if c.GridHCells != nil && *c.GridHCells < 1 {
		return fmt.Errorf("grid_h_cells must be at least 1, got %d", *c.GridHCells)
	}
	if c.GridVCells != nil && *c.GridVCells < 1 {
		return fmt.Errorf("grid_v_cells must be at least 1, got %d", *c.GridVCells)
	}
	if c.PixelSize != nil && *c.PixelSize <= 0 {
		return fmt.Errorf("pixel_size must be positive, got %f", *c.PixelSize)
	}
	if c.PixelUnit != nil && !units.IsValid(*c.PixelUnit) {
		return fmt.Errorf("invalid pixel_unit '%s': must be one of %s", *c.PixelUnit, units.GetValidUnitsString())
	}
	if c.ExcludeFrames != nil && *c.ExcludeFrames != "" {
		if _, err := ParseFrameSet(*c.ExcludeFrames); err != nil {
			return fmt.Errorf("invalid exclude_frames %q: %w", *c.ExcludeFrames, err)
		}
	}
	if c.PreviewTimeout != nil && *c.PreviewTimeout != "" {
		if _, err := time.ParseDuration(*c.PreviewTimeout); err != nil {
			return fmt.Errorf("invalid preview_timeout '%s': %w", *c.PreviewTimeout, err)
		}
	}
	return nil
}

// GetThreshold returns the threshold value or the default.
func (c *TuningConfig) GetThreshold() float64 {
	if c.Threshold == nil {
		return 50
	}
	return *c.Threshold
}

// GetMinSeparation returns the min_separation value or the default.
func (c *TuningConfig) GetMinSeparation() int {
	if c.MinSeparation == nil {
		return 5
	}
	return *c.MinSeparation
}

// GetFindNegative returns the find_negative value or the default.
func (c *TuningConfig) GetFindNegative() bool {
	if c.FindNegative == nil {
		return false
	}
	return *c.FindNegative
}

// GetUseDogFilter returns the use_dog_filter value or the default.
func (c *TuningConfig) GetUseDogFilter() bool {
	if c.UseDogFilter == nil {
		return true
	}
	return *c.UseDogFilter
}

// GetDogRadius returns the dog_radius value or the default.
func (c *TuningConfig) GetDogRadius() float64 {
	if c.DogRadius == nil {
		return 1.8
	}
	return *c.DogRadius
}

// GetFitRadius returns the fit_radius value or the default.
func (c *TuningConfig) GetFitRadius() int {
	if c.FitRadius == nil {
		return 4
	}
	return *c.FitRadius
}

// GetRSquaredMin returns the r_squared_min value or the default.
func (c *TuningConfig) GetRSquaredMin() float64 {
	if c.RSquaredMin == nil {
		return 0
	}
	return *c.RSquaredMin
}

// GetFitMaxIterations returns the fit_max_iterations value or the default.
func (c *TuningConfig) GetFitMaxIterations() int {
	if c.FitMaxIterations == nil {
		return 100
	}
	return *c.FitMaxIterations
}

// GetInnerRadius returns the inner_radius value or the default.
func (c *TuningConfig) GetInnerRadius() int {
	if c.InnerRadius == nil {
		return 2
	}
	return *c.InnerRadius
}

// GetOuterRadius returns the outer_radius value or the default.
func (c *TuningConfig) GetOuterRadius() int {
	if c.OuterRadius == nil {
		return 4
	}
	return *c.OuterRadius
}

// GetVerbose returns the verbose value or the default.
func (c *TuningConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// GetMaxDeltaX returns the max_delta_x value or the default.
func (c *TuningConfig) GetMaxDeltaX() float64 {
	if c.MaxDeltaX == nil {
		return 1
	}
	return *c.MaxDeltaX
}

// GetMaxDeltaY returns the max_delta_y value or the default.
func (c *TuningConfig) GetMaxDeltaY() float64 {
	if c.MaxDeltaY == nil {
		return 1
	}
	return *c.MaxDeltaY
}

// GetMaxDeltaT returns the max_delta_t value or the default.
func (c *TuningConfig) GetMaxDeltaT() int {
	if c.MaxDeltaT == nil {
		return 1
	}
	return *c.MaxDeltaT
}

// GetMinTrajectoryLength returns the min_trajectory_length value or the default.
func (c *TuningConfig) GetMinTrajectoryLength() int {
	if c.MinTrajectoryLength == nil {
		return 10
	}
	return *c.MinTrajectoryLength
}

// GetOffsetX returns the offset_x value or the default.
func (c *TuningConfig) GetOffsetX() float64 {
	if c.OffsetX == nil {
		return 0
	}
	return *c.OffsetX
}

// GetOffsetY returns the offset_y value or the default.
func (c *TuningConfig) GetOffsetY() float64 {
	if c.OffsetY == nil {
		return 0
	}
	return *c.OffsetY
}

// GetGridHCells returns the grid_h_cells value or the default.
func (c *TuningConfig) GetGridHCells() int {
	if c.GridHCells == nil {
		return 1
	}
	return *c.GridHCells
}

// GetGridVCells returns the grid_v_cells value or the default.
func (c *TuningConfig) GetGridVCells() int {
	if c.GridVCells == nil {
		return 1
	}
	return *c.GridVCells
}

// GetWorkers returns the workers value or the default (0 = GOMAXPROCS).
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetChannel returns the channel value or the default.
func (c *TuningConfig) GetChannel() int {
	if c.Channel == nil {
		return 0
	}
	return *c.Channel
}

// GetExcludeFrames parses and returns the excluded frame set. An invalid
// set yields an empty result; Validate reports it.
func (c *TuningConfig) GetExcludeFrames() map[int64]bool {
	if c.ExcludeFrames == nil || *c.ExcludeFrames == "" {
		return map[int64]bool{}
	}
	set, err := ParseFrameSet(*c.ExcludeFrames)
	if err != nil {
		return map[int64]bool{}
	}
	return set
}

// GetPreviewTimeout parses and returns the PreviewTimeout as a time.Duration.
func (c *TuningConfig) GetPreviewTimeout() time.Duration {
	if c.PreviewTimeout == nil || *c.PreviewTimeout == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.PreviewTimeout)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetPixelSize returns the pixel_size value or the default.
func (c *TuningConfig) GetPixelSize() float64 {
	if c.PixelSize == nil {
		return 1
	}
	return *c.PixelSize
}

// GetPixelUnit returns the pixel_unit value or the default.
func (c *TuningConfig) GetPixelUnit() string {
	if c.PixelUnit == nil || *c.PixelUnit == "" {
		return "pixel"
	}
	return *c.PixelUnit
}
