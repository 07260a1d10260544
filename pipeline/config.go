package pipeline

import (
	"fmt"

	"github.com/poiesic/kbsync/retry"
)

// Config tunes a Pipeline.
type Config struct {
	// Concurrency bounds the sources read and normalized at once.
	Concurrency int `yaml:"concurrency"`

	// PageSize is the number of keys scanned per page during a full resync.
	PageSize int `yaml:"page_size"`

	// Retry governs prior-state lookups against the document store.
	Retry retry.Policy `yaml:"retry"`
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{Concurrency: 4, PageSize: 500, Retry: retry.DefaultPolicy()}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("%w: page_size must be positive", ErrInvalidConfig)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: retry: %w", ErrInvalidConfig, err)
	}
	return nil
}
