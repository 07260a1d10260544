package writer

import "errors"

var (
	// ErrDocumentStoreRequired is returned when a document store is not provided.
	ErrDocumentStoreRequired = errors.New("document store required")

	// ErrVectorIndexRequired is returned when a vector index is not provided.
	ErrVectorIndexRequired = errors.New("vector index required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrPendingRepositoryRequired is returned when a pending repository is not provided.
	ErrPendingRepositoryRequired = errors.New("pending repository required")

	// ErrKindMismatch is returned when a batch holds records of another kind.
	ErrKindMismatch = errors.New("record kind does not match batch kind")

	// ErrNotEmbeddable is reported for documents whose kind has no index mirror.
	ErrNotEmbeddable = errors.New("kind is not embeddable")

	// ErrInvalidConfig is returned for out-of-range configuration values.
	ErrInvalidConfig = errors.New("invalid writer config")
)
