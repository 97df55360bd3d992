package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/peaks.report/internal/config"
	"github.com/banshee-data/peaks.report/internal/peaks/l3grid"
	"github.com/banshee-data/peaks.report/internal/peaks/l4peaks"
	"github.com/banshee-data/peaks.report/internal/peaks/l5tracks"
)

// Config is the full configuration of a run.
type Config struct {
	Peaks   l4peaks.Config
	Tracker l5tracks.TrackerConfig
	Grid    l3grid.GridConfig

	Channel        int
	Workers        int            // <= 0 uses GOMAXPROCS
	Exclude        map[int64]bool // frames never scheduled
	PreviewTimeout time.Duration
}

// DefaultConfig returns a Config loaded from the canonical tuning
// defaults file (config/tuning.defaults.json).
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Peaks:          l4peaks.ConfigFromTuning(cfg),
		Tracker:        l5tracks.TrackerConfigFromTuning(cfg),
		Grid:           l3grid.GridConfigFromTuning(cfg),
		Channel:        cfg.GetChannel(),
		Workers:        cfg.GetWorkers(),
		Exclude:        cfg.GetExcludeFrames(),
		PreviewTimeout: cfg.GetPreviewTimeout(),
	}
}

// Validate checks every layer config eagerly and joins all failures.
func (c Config) Validate() error {
	var errs []error
	errs = append(errs, c.Peaks.Validate(), c.Tracker.Validate(), c.Grid.Validate())
	if c.Channel < 0 {
		errs = append(errs, fmt.Errorf("channel must be non-negative, got %d", c.Channel))
	}
	if c.PreviewTimeout < 0 {
		errs = append(errs, fmt.Errorf("preview timeout must be non-negative, got %v", c.PreviewTimeout))
	}
	return errors.Join(errs...)
}
