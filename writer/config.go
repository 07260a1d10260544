package writer

import (
	"fmt"
	"time"

	"github.com/poiesic/kbsync/retry"
)

// Config bounds the Writer's batching and store calls.
type Config struct {
	// ChunkSize is the number of records per document store upsert.
	ChunkSize int `yaml:"chunk_size"`

	// EmbedBatchSize is the number of texts per embedding call.
	EmbedBatchSize int `yaml:"embed_batch_size"`

	// EmbedWorkers is the size of the embedding worker pool.
	EmbedWorkers int `yaml:"embed_workers"`

	// StoreTimeout bounds every single store or embedding call. A call that
	// times out counts as failed.
	StoreTimeout time.Duration `yaml:"store_timeout"`

	// Retry governs chunk-level retries of transient failures.
	Retry retry.Policy `yaml:"retry"`
}

// DefaultConfig returns the Writer defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      200,
		EmbedBatchSize: 32,
		EmbedWorkers:   4,
		StoreTimeout:   30 * time.Second,
		Retry:          retry.DefaultPolicy(),
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	case c.EmbedBatchSize <= 0:
		return fmt.Errorf("%w: embed_batch_size must be positive", ErrInvalidConfig)
	case c.EmbedWorkers <= 0:
		return fmt.Errorf("%w: embed_workers must be positive", ErrInvalidConfig)
	case c.StoreTimeout < 0:
		return fmt.Errorf("%w: store_timeout must not be negative", ErrInvalidConfig)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
