package reconcile

import "errors"

var (
	// ErrDocumentStoreRequired is returned when a document store is not provided.
	ErrDocumentStoreRequired = errors.New("document store required")

	// ErrIndexerRequired is returned when an indexer is not provided.
	ErrIndexerRequired = errors.New("indexer required")

	// ErrPendingRepositoryRequired is returned when a pending repository is not provided.
	ErrPendingRepositoryRequired = errors.New("pending repository required")

	// ErrLeaseHeld is returned when another process is reconciling the scope.
	ErrLeaseHeld = errors.New("reconcile lease held by another process")

	// ErrInvalidConfig is returned for out-of-range configuration values.
	ErrInvalidConfig = errors.New("invalid reconcile config")
)
