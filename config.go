package kbsync

import (
	"errors"
	"fmt"
	"os"

	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/monitor"
	"github.com/poiesic/kbsync/pipeline"
	"github.com/poiesic/kbsync/reconcile"
	"github.com/poiesic/kbsync/storage/qdrant"
	"github.com/poiesic/kbsync/storage/sqldb"
	"github.com/poiesic/kbsync/validate"
	"github.com/poiesic/kbsync/writer"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates a configuration that cannot be opened.
var ErrInvalidConfig = errors.New("kbsync: invalid config")

// Backend names.
const (
	BackendBadger = "badger"
	BackendSQL    = "sql"
	BackendQdrant = "qdrant"
	BackendLocal  = "local"
	BackendRedis  = "redis"
)

// Environment overrides applied by LoadConfig.
const (
	EnvDataDir        = "KBSYNC_DATA_DIR"
	EnvQdrantURL      = "KBSYNC_QDRANT_URL"
	EnvEmbeddingToken = "KBSYNC_EMBEDDING_TOKEN"
	EnvRedisAddr      = "KBSYNC_REDIS_ADDR"
)

// Config is the complete configuration of a System.
type Config struct {
	// DataDir holds the badger database when any store uses badger.
	DataDir string `yaml:"data_dir"`
	// InMemory keeps badger in memory. For tests and dry runs.
	InMemory bool `yaml:"in_memory"`

	Documents DocumentsConfig `yaml:"documents"`
	Index     IndexConfig     `yaml:"index"`
	Lease     LeaseConfig     `yaml:"lease"`

	// SchemaFile overrides the default sheet layout.
	SchemaFile string `yaml:"schema_file"`
	// RulesFile overrides the default cleaning rules.
	RulesFile string `yaml:"rules_file"`
	// Weights blend the defect ratios of the quality score.
	Weights validate.Weights `yaml:"weights"`

	Embedding ai.Config        `yaml:"embedding"`
	Writer    writer.Config    `yaml:"writer"`
	Reconcile reconcile.Config `yaml:"reconcile"`
	Monitor   monitor.Config   `yaml:"monitor"`
	Pipeline  pipeline.Config  `yaml:"pipeline"`
}

// DocumentsConfig selects the system of record. The pending repository
// lives next to it.
type DocumentsConfig struct {
	Backend string       `yaml:"backend"`
	SQL     sqldb.Config `yaml:"sql"`
}

// IndexConfig selects the vector index.
type IndexConfig struct {
	Backend string        `yaml:"backend"`
	Qdrant  qdrant.Config `yaml:"qdrant"`
}

// LeaseConfig selects how reconcile passes are made exclusive.
type LeaseConfig struct {
	Backend string                `yaml:"backend"`
	Redis   reconcile.RedisConfig `yaml:"redis"`
}

// DefaultConfig returns a single-process setup on badger.
func DefaultConfig() Config {
	return Config{
		DataDir:   "kbsync-data",
		Documents: DocumentsConfig{Backend: BackendBadger, SQL: sqldb.Config{Driver: "sqlite"}},
		Index:     IndexConfig{Backend: BackendBadger, Qdrant: qdrant.DefaultConfig()},
		Lease:     LeaseConfig{Backend: BackendLocal},
		Embedding: *ai.DefaultConfig(),
		Writer:    writer.DefaultConfig(),
		Reconcile: reconcile.DefaultConfig(),
		Monitor:   monitor.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Weights:   validate.DefaultWeights(),
	}
}

// LoadConfig reads a YAML file over the defaults and applies environment
// overrides. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := getenv(EnvQdrantURL); v != "" {
		c.Index.Backend = BackendQdrant
		c.Index.Qdrant.URL = v
	}
	if v := getenv(EnvEmbeddingToken); v != "" {
		c.Embedding.Token = v
	}
	if v := getenv(EnvRedisAddr); v != "" {
		c.Lease.Backend = BackendRedis
		c.Lease.Redis.Addr = v
	}
}

func (c Config) usesBadger() bool {
	return c.Documents.Backend == BackendBadger || c.Index.Backend == BackendBadger
}

// Validate checks the backend choices and every component's bounds.
func (c Config) Validate() error {
	switch c.Documents.Backend {
	case BackendBadger, BackendSQL:
	default:
		return fmt.Errorf("%w: unknown documents backend %q", ErrInvalidConfig, c.Documents.Backend)
	}
	switch c.Index.Backend {
	case BackendBadger, BackendQdrant:
	default:
		return fmt.Errorf("%w: unknown index backend %q", ErrInvalidConfig, c.Index.Backend)
	}
	switch c.Lease.Backend {
	case BackendLocal, BackendRedis:
	default:
		return fmt.Errorf("%w: unknown lease backend %q", ErrInvalidConfig, c.Lease.Backend)
	}
	if c.usesBadger() && !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required for badger", ErrInvalidConfig)
	}
	if c.Index.Backend == BackendBadger && c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding dimensions are required for the badger index", ErrInvalidConfig)
	}

	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for _, v := range []interface{ Validate() error }{
		c.Writer, c.Reconcile, c.Monitor, c.Pipeline,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
