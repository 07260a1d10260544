package reconcile

import (
	"fmt"
	"time"

	"github.com/poiesic/kbsync/retry"
)

// Config tunes the Reconciler.
type Config struct {
	// Interval is the time between scheduled passes over every scope.
	Interval time.Duration `yaml:"interval"`

	// PageSize is the number of keys fetched per scan page.
	PageSize int `yaml:"page_size"`

	// RepairBatch is the number of documents re-indexed per call.
	RepairBatch int `yaml:"repair_batch"`

	// Debounce delays triggered passes so bursts of changes share one pass.
	Debounce time.Duration `yaml:"debounce"`

	// Concurrency bounds the scopes reconciled at once.
	Concurrency int `yaml:"concurrency"`

	// LeaseTTL bounds how long a crashed holder blocks a scope.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// StoreTimeout bounds each store call.
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// Repair is the backoff policy of failed repairs across passes.
	Repair retry.Policy `yaml:"repair"`

	// WatchChanges subscribes to the document store's change feed when it
	// has one.
	WatchChanges bool `yaml:"watch_changes"`
}

// DefaultConfig returns the Reconciler defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		PageSize:     500,
		RepairBatch:  100,
		Debounce:     2 * time.Second,
		Concurrency:  4,
		LeaseTTL:     10 * time.Minute,
		StoreTimeout: 30 * time.Second,
		Repair: retry.Policy{
			MaxAttempts: 5,
			BaseDelay:   30 * time.Second,
			MaxDelay:    30 * time.Minute,
			Multiplier:  2,
		},
		WatchChanges: true,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	case c.PageSize <= 0:
		return fmt.Errorf("%w: page_size must be positive", ErrInvalidConfig)
	case c.RepairBatch <= 0:
		return fmt.Errorf("%w: repair_batch must be positive", ErrInvalidConfig)
	case c.Concurrency <= 0:
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	case c.LeaseTTL <= 0:
		return fmt.Errorf("%w: lease_ttl must be positive", ErrInvalidConfig)
	case c.Debounce < 0 || c.StoreTimeout < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	if err := c.Repair.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
