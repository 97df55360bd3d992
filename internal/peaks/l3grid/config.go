package l3grid

import (
	"fmt"

	"github.com/banshee-data/peaks.report/internal/config"
)

// GridConfig controls grid-partitioned processing. A 1x1 grid is the
// whole region.
type GridConfig struct {
	HCells int // columns (default: 1)
	VCells int // rows (default: 1)
}

// DefaultGridConfig returns a GridConfig loaded from the canonical tuning
// defaults file (config/tuning.defaults.json).
func DefaultGridConfig() GridConfig {
	return GridConfigFromTuning(config.MustLoadDefaultConfig())
}

// GridConfigFromTuning builds a GridConfig from a loaded TuningConfig.
func GridConfigFromTuning(cfg *config.TuningConfig) GridConfig {
	return GridConfig{
		HCells: cfg.GetGridHCells(),
		VCells: cfg.GetGridVCells(),
	}
}

// Validate checks both dimensions are at least one.
func (c GridConfig) Validate() error {
	if c.HCells < 1 || c.VCells < 1 {
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", c.HCells, c.VCells)
	}
	return nil
}

// Enabled reports whether the grid splits the region at all.
func (c GridConfig) Enabled() bool { return c.HCells*c.VCells > 1 }

// Cells is the number of cells in the grid.
func (c GridConfig) Cells() int { return c.HCells * c.VCells }
