package qdrant

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config selects the Qdrant collection that mirrors the document store.
type Config struct {
	URL        string        `yaml:"url"`
	Collection string        `yaml:"collection"`
	VectorDim  int           `yaml:"vector_dim"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`

	// CreateCollection creates a missing collection with cosine distance.
	CreateCollection bool `yaml:"create_collection"`
}

// DefaultConfig returns a configuration for a local Qdrant.
func DefaultConfig() Config {
	return Config{
		URL:              "http://localhost:6333",
		Collection:       "kbsync",
		Timeout:          10 * time.Second,
		CreateCollection: true,
	}
}

type ConfigErrorCode string

const (
	ConfigErrorMissingURL        ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL        ConfigErrorCode = "invalid_url"
	ConfigErrorMissingCollection ConfigErrorCode = "missing_collection"
	ConfigErrorInvalidVectorDim  ConfigErrorCode = "invalid_vector_dim"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid qdrant config"
	}
	switch e.Code {
	case ConfigErrorMissingURL:
		return "qdrant url is required"
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid qdrant url %q; expected absolute URL like http://qdrant:6333", e.Value)
	case ConfigErrorMissingCollection:
		return "qdrant collection is required"
	case ConfigErrorInvalidVectorDim:
		return fmt.Sprintf("invalid qdrant vector_dim %q; expected positive integer", e.Value)
	default:
		return "invalid qdrant config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Validate checks a Qdrant config.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	parsed, err := url.Parse(c.URL)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return &ConfigError{Code: ConfigErrorInvalidURL, Value: c.URL, Cause: err}
	}
	if strings.TrimSpace(c.Collection) == "" {
		return &ConfigError{Code: ConfigErrorMissingCollection}
	}
	if c.VectorDim <= 0 {
		return &ConfigError{Code: ConfigErrorInvalidVectorDim, Value: strconv.Itoa(c.VectorDim)}
	}
	return nil
}
