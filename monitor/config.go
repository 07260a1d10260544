package monitor

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig indicates a threshold out of range.
var ErrInvalidConfig = errors.New("monitor: invalid configuration")

// Config holds the alerting thresholds.
type Config struct {
	// MinQualityScore is the lowest sheet quality score that is not alerted.
	MinQualityScore float64 `yaml:"min_quality_score"`

	// MaxFailureRate is the highest share of failed commits per kind that
	// is not alerted.
	MaxFailureRate float64 `yaml:"max_failure_rate"`

	// MaxFailureReasons bounds the failure reasons kept per kind.
	MaxFailureReasons int `yaml:"max_failure_reasons"`

	// DriftAlertPasses is the number of consecutive drifting passes after
	// which a scope is alerted.
	DriftAlertPasses int `yaml:"drift_alert_passes"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinQualityScore:   0.7,
		MaxFailureRate:    0.05,
		MaxFailureReasons: 25,
		DriftAlertPasses:  3,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	switch {
	case c.MinQualityScore < 0 || c.MinQualityScore > 1:
		return fmt.Errorf("%w: min_quality_score must be within [0, 1]", ErrInvalidConfig)
	case c.MaxFailureRate < 0 || c.MaxFailureRate > 1:
		return fmt.Errorf("%w: max_failure_rate must be within [0, 1]", ErrInvalidConfig)
	case c.MaxFailureReasons < 0:
		return fmt.Errorf("%w: max_failure_reasons must not be negative", ErrInvalidConfig)
	case c.DriftAlertPasses <= 0:
		return fmt.Errorf("%w: drift_alert_passes must be positive", ErrInvalidConfig)
	}
	return nil
}
