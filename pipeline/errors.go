package pipeline

import "errors"

var (
	// ErrSchemaRequired is returned when no source schema is provided.
	ErrSchemaRequired = errors.New("schema required")

	// ErrRulesRequired is returned when no normalization rules are provided.
	ErrRulesRequired = errors.New("normalization rules required")

	// ErrDocumentStoreRequired is returned when a document store is not provided.
	ErrDocumentStoreRequired = errors.New("document store required")

	// ErrWriterRequired is returned when a writer is not provided.
	ErrWriterRequired = errors.New("writer required")

	// ErrMonitorRequired is returned when a monitor is not provided.
	ErrMonitorRequired = errors.New("monitor required")

	// ErrNoSources is returned when Run is called without sources.
	ErrNoSources = errors.New("no sources")

	// ErrInvalidConfig indicates a configuration value out of range.
	ErrInvalidConfig = errors.New("pipeline: invalid configuration")
)
