package l5tracks

import (
	"errors"
	"fmt"

	"github.com/banshee-data/peaks.report/internal/config"
)

// ErrInvalidConfig is wrapped by every TrackerConfig validation error.
var ErrInvalidConfig = errors.New("l5tracks: invalid config")

// TrackerConfig holds the gating window and acceptance rule for linking.
type TrackerConfig struct {
	MaxDeltaX           float64 // max |Δx| in pixels between consecutive points
	MaxDeltaY           float64 // max |Δy| in pixels between consecutive points
	MaxDeltaT           int     // max number of missing frames bridged
	MinSeparation       int     // detection separation the peaks were found with
	MinTrajectoryLength int     // shorter trajectories are discarded

	// Constant spatial offsets recorded on every trajectory, for
	// dual-region acquisitions where a second channel is imaged on a
	// shifted part of the sensor.
	OffsetX float64
	OffsetY float64
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/tuning.defaults.json).
// Panics if the file cannot be found.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.MustLoadDefaultConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		MaxDeltaX:           cfg.GetMaxDeltaX(),
		MaxDeltaY:           cfg.GetMaxDeltaY(),
		MaxDeltaT:           cfg.GetMaxDeltaT(),
		MinSeparation:       cfg.GetMinSeparation(),
		MinTrajectoryLength: cfg.GetMinTrajectoryLength(),
		OffsetX:             cfg.GetOffsetX(),
		OffsetY:             cfg.GetOffsetY(),
	}
}

func (c TrackerConfig) Validate() error {
	if c.MaxDeltaX < 0 || c.MaxDeltaY < 0 {
		return fmt.Errorf("%w: max delta x/y must be non-negative, got (%f, %f)", ErrInvalidConfig, c.MaxDeltaX, c.MaxDeltaY)
	}
	if c.MaxDeltaT < 0 {
		return fmt.Errorf("%w: max delta t must be non-negative, got %d", ErrInvalidConfig, c.MaxDeltaT)
	}
	if c.MinSeparation < 0 {
		return fmt.Errorf("%w: min separation must be non-negative, got %d", ErrInvalidConfig, c.MinSeparation)
	}
	if c.MinTrajectoryLength < 1 {
		return fmt.Errorf("%w: min trajectory length must be at least 1, got %d", ErrInvalidConfig, c.MinTrajectoryLength)
	}
	return nil
}
