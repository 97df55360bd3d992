package l4peaks

import (
	"errors"
	"fmt"

	"github.com/banshee-data/peaks.report/internal/config"
)

// ErrInvalidConfig is wrapped by every configuration validation error.
var ErrInvalidConfig = errors.New("l4peaks: invalid config")

// DetectionConfig controls candidate detection.
type DetectionConfig struct {
	Threshold     float64 // minimum |value| a candidate must exceed
	MinSeparation int     // pixels; accepted peaks are never closer
	FindNegative  bool    // also detect local minima below -Threshold
	UseDogFilter  bool    // detect on the DoG image instead of raw pixels
	DogRadius     float64 // DoG radius in pixels; also seeds the fit sigma
}

// FitConfig controls sub-pixel localization.
type FitConfig struct {
	FitRadius     int     // half-width of the square fit window
	RSquaredMin   float64 // fits below this goodness are dropped
	MaxIterations int     // Levenberg-Marquardt iteration cap
}

// IntegrationConfig controls intensity integration.
type IntegrationConfig struct {
	InnerRadius int  // signal disk radius
	OuterRadius int  // background annulus outer radius
	Verbose     bool // keep mean background and uncorrected intensity
}

// Config bundles the per-frame stage configuration.
type Config struct {
	Detection   DetectionConfig
	Fit         FitConfig
	Integration IntegrationConfig
}

// DefaultConfig returns a Config loaded from the canonical tuning
// defaults file (config/tuning.defaults.json).
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds all stage configs from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Detection:   DetectionConfigFromTuning(cfg),
		Fit:         FitConfigFromTuning(cfg),
		Integration: IntegrationConfigFromTuning(cfg),
	}
}

// DetectionConfigFromTuning builds a DetectionConfig from a loaded TuningConfig.
func DetectionConfigFromTuning(cfg *config.TuningConfig) DetectionConfig {
	return DetectionConfig{
		Threshold:     cfg.GetThreshold(),
		MinSeparation: cfg.GetMinSeparation(),
		FindNegative:  cfg.GetFindNegative(),
		UseDogFilter:  cfg.GetUseDogFilter(),
		DogRadius:     cfg.GetDogRadius(),
	}
}

// FitConfigFromTuning builds a FitConfig from a loaded TuningConfig.
func FitConfigFromTuning(cfg *config.TuningConfig) FitConfig {
	return FitConfig{
		FitRadius:     cfg.GetFitRadius(),
		RSquaredMin:   cfg.GetRSquaredMin(),
		MaxIterations: cfg.GetFitMaxIterations(),
	}
}

// IntegrationConfigFromTuning builds an IntegrationConfig from a loaded TuningConfig.
func IntegrationConfigFromTuning(cfg *config.TuningConfig) IntegrationConfig {
	return IntegrationConfig{
		InnerRadius: cfg.GetInnerRadius(),
		OuterRadius: cfg.GetOuterRadius(),
		Verbose:     cfg.GetVerbose(),
	}
}

func (c DetectionConfig) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("%w: threshold must be non-negative, got %f", ErrInvalidConfig, c.Threshold)
	}
	if c.MinSeparation < 0 {
		return fmt.Errorf("%w: min separation must be non-negative, got %d", ErrInvalidConfig, c.MinSeparation)
	}
	if c.DogRadius < 0 {
		return fmt.Errorf("%w: dog radius must be non-negative, got %f", ErrInvalidConfig, c.DogRadius)
	}
	return nil
}

func (c FitConfig) Validate() error {
	if c.FitRadius < 1 {
		return fmt.Errorf("%w: fit radius must be at least 1, got %d", ErrInvalidConfig, c.FitRadius)
	}
	if c.RSquaredMin < 0 || c.RSquaredMin > 1 {
		return fmt.Errorf("%w: r-squared minimum must be in [0,1], got %f", ErrInvalidConfig, c.RSquaredMin)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be at least 1, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	return nil
}

func (c IntegrationConfig) Validate() error {
	if c.InnerRadius < 0 {
		return fmt.Errorf("%w: inner radius must be non-negative, got %d", ErrInvalidConfig, c.InnerRadius)
	}
	if c.OuterRadius <= c.InnerRadius {
		return fmt.Errorf("%w: outer radius (%d) must be greater than inner radius (%d)",
			ErrInvalidConfig, c.OuterRadius, c.InnerRadius)
	}
	return nil
}

// Validate checks every stage config and joins the failures.
func (c Config) Validate() error {
	return errors.Join(c.Detection.Validate(), c.Fit.Validate(), c.Integration.Validate())
}
