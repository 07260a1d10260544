package storage

import (
	"context"
	"slices"
	"time"

	"github.com/poiesic/kbsync/core"
)

// Status is the per-record result of a store call.
type Status string

const (
	// StatusWritten means the store durably applied the write.
	StatusWritten Status = "written"
	// StatusUnchanged means an identical version was already stored.
	StatusUnchanged Status = "unchanged"
	// StatusSuperseded means the store holds a newer version and kept it.
	StatusSuperseded Status = "superseded"
	// StatusDeleted means the record was removed.
	StatusDeleted Status = "deleted"
	// StatusNotFound means a delete found nothing to remove.
	StatusNotFound Status = "not_found"
	// StatusFailed means the store did not confirm the operation; Err says why.
	StatusFailed Status = "failed"
)

// Outcome reports what happened to one record of a bulk call.
type Outcome struct {
	ID     core.DocID
	Status Status
	Err    error
}

// OK reports whether the store confirmed the operation.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Status != StatusFailed
}

// Failed builds a failed outcome for every ID.
func Failed(err error, ids ...core.DocID) []Outcome {
	out := make([]Outcome, len(ids))
	for i, id := range ids {
		out[i] = Outcome{ID: id, Status: StatusFailed, Err: err}
	}
	return out
}

// KeyRef is the cheap identity of a stored entry: its ID and content hash.
type KeyRef struct {
	ID          core.DocID
	ContentHash string
}

// KeyPage is one page of a key scan. Next is empty on the last page.
type KeyPage struct {
	Refs []KeyRef
	Next string
}

// DocumentPage is one page of a document scan. Next is empty on the last page.
type DocumentPage struct {
	Documents []*core.Document
	Next      string
}

// DocumentStore is the system of record. Implementations must be safe for
// concurrent use.
type DocumentStore interface {
	// UpsertDocuments inserts or replaces documents by ID and returns one
	// outcome per input, in input order. A stored document with a newer
	// processed_at is kept (StatusSuperseded); an identical one is left
	// alone (StatusUnchanged). The error is reserved for failures of the
	// whole call, in which case no outcome may be assumed written.
	UpsertDocuments(ctx context.Context, docs ...*core.Document) ([]Outcome, error)

	// GetDocuments returns the documents that exist, in input order.
	GetDocuments(ctx context.Context, ids ...core.DocID) ([]*core.Document, error)

	// ScanDocuments pages through one scope in ID order.
	ScanDocuments(ctx context.Context, scope core.Scope, cursor string, limit int) (*DocumentPage, error)

	// ScanKeys pages through the IDs and content hashes of one scope in ID
	// order, without decoding documents.
	ScanKeys(ctx context.Context, scope core.Scope, cursor string, limit int) (*KeyPage, error)

	// Exists reports which of the IDs are stored. Missing IDs are absent from
	// the map.
	Exists(ctx context.Context, ids ...core.DocID) (map[core.DocID]bool, error)

	// DeleteDocuments removes documents by ID.
	DeleteDocuments(ctx context.Context, ids ...core.DocID) ([]Outcome, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// ChangeFeed is implemented by document stores that can push changes.
type ChangeFeed interface {
	// Watch calls fn with the ID of every document written or deleted
	// until ctx is done.
	Watch(ctx context.Context, fn func(id core.DocID)) error
}

// Point is a vector index entry. Its ID is the document ID.
type Point struct {
	ID          core.DocID
	Vector      []float32
	ContentHash string
	Payload     map[string]string
}

// QueryFilter narrows a similarity query.
type QueryFilter struct {
	Domain   core.Domain
	Kinds    []core.Kind
	MinScore float32
}

// Accepts reports whether a point ID passes the domain and kind filters.
func (f QueryFilter) Accepts(id core.DocID) bool {
	kind, domain, _, err := id.Parts()
	if err != nil {
		return false
	}
	if f.Domain != "" && domain != f.Domain {
		return false
	}
	return len(f.Kinds) == 0 || slices.Contains(f.Kinds, kind)
}

// Match is a similarity query hit.
type Match struct {
	ID      core.DocID
	Score   float32
	Payload map[string]string
}

// VectorIndex is the derived similarity projection of the document store.
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// UpsertPoints inserts or replaces points by ID, one outcome per input.
	// A point whose ID and content hash are already stored is StatusUnchanged.
	UpsertPoints(ctx context.Context, points ...*Point) ([]Outcome, error)

	// DeletePoints removes points by ID.
	DeletePoints(ctx context.Context, ids ...core.DocID) ([]Outcome, error)

	// ScanPoints pages through the IDs and content hashes of one scope,
	// without loading vectors.
	ScanPoints(ctx context.Context, scope core.Scope, cursor string, limit int) (*KeyPage, error)

	// LookupPoints returns the content hash of each stored point among ids.
	LookupPoints(ctx context.Context, ids ...core.DocID) (map[core.DocID]string, error)

	// Query returns the closest points to vector, best first.
	Query(ctx context.Context, vector []float32, filter QueryFilter, limit int) ([]Match, error)

	// Close releases resources.
	Close() error
}

// PendingOp is the repair a pending item is waiting for.
type PendingOp string

const (
	// OpIndex means the document's point must be (re)written.
	OpIndex PendingOp = "index"
	// OpDelete means an orphaned point must be removed.
	OpDelete PendingOp = "delete"
)

// PendingItem is a repair the Reconciler still owes.
type PendingItem struct {
	ID          core.DocID
	Op          PendingOp
	Reason      string
	Attempts    int
	ContentHash string
	FirstSeen   time.Time
	LastAttempt time.Time
	NextAttempt time.Time

	// Dead items exhausted their retries. They are left alone until the
	// document's content hash changes.
	Dead bool
}

// Scope returns the scope of the item's document.
func (p *PendingItem) Scope() core.Scope {
	return p.ID.Scope()
}

// Due reports whether the item may be retried at now.
func (p *PendingItem) Due(now time.Time) bool {
	return !p.Dead && !now.Before(p.NextAttempt)
}

// PendingRepository persists the repair queue between runs.
type PendingRepository interface {
	// SavePending inserts or replaces items by ID.
	SavePending(ctx context.Context, items ...*PendingItem) error

	// GetPending returns the item for id, or ErrNotFound.
	GetPending(ctx context.Context, id core.DocID) (*PendingItem, error)

	// ListPending returns every item of a scope in ID order.
	ListPending(ctx context.Context, scope core.Scope) ([]*PendingItem, error)

	// DeletePending removes items by ID. Missing IDs are ignored.
	DeletePending(ctx context.Context, ids ...core.DocID) error

	// Close releases resources.
	Close() error
}
