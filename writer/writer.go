package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/retry"
	"github.com/poiesic/kbsync/storage"
)

// Store names a store in a Failure.
type Store string

const (
	StoreDocuments Store = "documents"
	StoreIndex     Store = "index"
)

// StoreCounts tallies one store's side of a write.
type StoreCounts struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Skipped counts points found already in sync with their document.
	Skipped int `json:"skipped"`
}

// Failure names a record the Writer could not confirm in a store.
type Failure struct {
	ID     core.DocID `json:"id"`
	Key    string     `json:"key"`
	Store  Store      `json:"store"`
	Reason string     `json:"reason"`
}

// Result is the structured outcome of one Write call.
type Result struct {
	Kind  core.Kind   `json:"kind"`
	Docs  StoreCounts `json:"docs"`
	Index StoreCounts `json:"index"`

	// Superseded records were older than the stored version and not written.
	Superseded int `json:"superseded"`
	// Unchanged records matched the stored version exactly.
	Unchanged int `json:"unchanged"`
	// Pending counts index failures queued for the Reconciler.
	Pending int `json:"pending"`

	// Committed lists every record the document store confirmed, including
	// unchanged ones.
	Committed []core.DocID `json:"committed"`
	Failures  []Failure    `json:"failures,omitempty"`
}

// PendingScopes returns the scopes that got pending items.
func (r *Result) PendingScopes() []core.Scope {
	seen := make(map[core.Scope]bool)
	var out []core.Scope
	for _, f := range r.Failures {
		if f.Store != StoreIndex {
			continue
		}
		if s := f.ID.Scope(); !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (r *Result) failure(id core.DocID, store Store, err error) {
	r.Failures = append(r.Failures, Failure{ID: id, Key: id.Key(), Store: store, Reason: err.Error()})
}

// Progress receives record counts as chunks complete.
type Progress interface {
	AddTotal(n int)
	Increment(delta int)
}

// Writer is the dual-store writer.
type Writer struct {
	docs     storage.DocumentStore
	pending  storage.PendingRepository
	indexer  *Indexer
	cfg      Config
	clock    retry.Clock
	progress Progress
	logger   *slog.Logger
	call     caller

	locks sync.Map // core.Kind -> *sync.Mutex
}

// Option configures a Writer.
type Option func(*Writer) error

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(w *Writer) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		w.cfg = cfg
		return nil
	}
}

// WithClock sets the clock used for retries and timestamps.
func WithClock(clock retry.Clock) Option {
	return func(w *Writer) error {
		if clock != nil {
			w.clock = clock
		}
		return nil
	}
}

// WithProgress reports record progress as chunks complete.
func WithProgress(p Progress) Option {
	return func(w *Writer) error {
		w.progress = p
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// New creates a Writer. Call Release when done.
func New(
	docs storage.DocumentStore,
	index storage.VectorIndex,
	embedder ai.Embedder,
	pending storage.PendingRepository,
	opts ...Option,
) (*Writer, error) {
	if docs == nil {
		return nil, ErrDocumentStoreRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if pending == nil {
		return nil, ErrPendingRepositoryRequired
	}

	w := &Writer{
		docs:    docs,
		pending: pending,
		cfg:     DefaultConfig(),
		clock:   retry.SystemClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	w.logger = w.logger.With("component", "writer")
	w.call = caller{clock: w.clock, policy: w.cfg.Retry, timeout: w.cfg.StoreTimeout}

	indexer, err := newIndexer(index, embedder, w.cfg, w.call, w.logger)
	if err != nil {
		return nil, err
	}
	w.indexer = indexer
	return w, nil
}

// Indexer returns the Writer's indexer, for components that repair the index.
func (w *Writer) Indexer() *Indexer {
	return w.indexer
}

// Release releases the embedding pool.
// The Writer should not be used after calling Release.
func (w *Writer) Release() {
	w.indexer.Release()
}

func (w *Writer) lock(kind core.Kind) *sync.Mutex {
	mu, _ := w.locks.LoadOrStore(kind, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Write persists a batch of records of one kind. It returns an error only
// when the batch itself is unusable or ctx ends; store failures are
// reported per record in the Result. No record is counted as succeeded
// unless the document store confirmed it.
func (w *Writer) Write(ctx context.Context, kind core.Kind, records []core.Record) (*Result, error) {
	res := &Result{Kind: kind}
	for _, rec := range records {
		if rec == nil || rec.Kind() != kind {
			return nil, fmt.Errorf("%w: want %s", ErrKindMismatch, kind)
		}
	}
	if w.progress != nil {
		w.progress.AddTotal(len(records))
	}
	logger := w.logger.With("kind", kind)

	docs := make([]*core.Document, 0, len(records))
	for _, rec := range records {
		doc, err := core.NewDocument(rec)
		if err != nil {
			res.Docs.Attempted++
			res.Docs.Failed++
			res.failure(core.IDOf(rec), StoreDocuments, err)
			continue
		}
		docs = append(docs, doc)
	}

	for start := 0; start < len(docs); start += w.cfg.ChunkSize {
		chunk := docs[start:min(start+w.cfg.ChunkSize, len(docs))]
		if err := ctx.Err(); err != nil {
			// Unsent chunks are absent from both stores.
			for _, doc := range docs[start:] {
				res.Docs.Attempted++
				res.Docs.Failed++
				res.failure(doc.ID, StoreDocuments, err)
			}
			return res, err
		}
		w.writeChunk(ctx, chunk, res, logger)
		if w.progress != nil {
			w.progress.Increment(len(chunk))
		}
	}

	logger.Info("batch written",
		"records", len(records), "committed", len(res.Committed), "failed", res.Docs.Failed,
		"indexed", res.Index.Succeeded, "pending", res.Pending)
	return res, ctx.Err()
}

// writeChunk upserts one chunk and indexes what the store confirmed.
func (w *Writer) writeChunk(ctx context.Context, chunk []*core.Document, res *Result, logger *slog.Logger) {
	mu := w.lock(res.Kind)
	mu.Lock()
	defer mu.Unlock()

	res.Docs.Attempted += len(chunk)

	var outcomes []storage.Outcome
	err := w.call.do(ctx, func(ctx context.Context) error {
		var err error
		outcomes, err = w.docs.UpsertDocuments(ctx, chunk...)
		return err
	})
	if err != nil {
		logger.Error("chunk upsert failed", "records", len(chunk), "err", err)
		for _, doc := range chunk {
			res.Docs.Failed++
			res.failure(doc.ID, StoreDocuments, err)
		}
		return
	}

	var confirmed []*core.Document
	for i, doc := range chunk {
		o := storage.Outcome{ID: doc.ID, Status: storage.StatusFailed, Err: storage.ErrNotFound}
		if i < len(outcomes) {
			o = outcomes[i]
		}
		switch {
		case !o.OK():
			res.Docs.Failed++
			res.failure(doc.ID, StoreDocuments, outcomeErr(o))
		case o.Status == storage.StatusSuperseded:
			res.Superseded++
		default:
			if o.Status == storage.StatusUnchanged {
				res.Unchanged++
			}
			res.Docs.Succeeded++
			res.Committed = append(res.Committed, doc.ID)
			confirmed = append(confirmed, doc)
		}
	}

	if res.Kind.Embeddable() && len(confirmed) > 0 {
		w.indexChunk(ctx, confirmed, res, logger)
	}
}

// indexChunk mirrors confirmed documents into the index, skipping points
// already in sync. Failures become pending items.
func (w *Writer) indexChunk(ctx context.Context, docs []*core.Document, res *Result, logger *slog.Logger) {
	ids := make([]core.DocID, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	hashes, err := w.indexer.Lookup(ctx, ids...)
	if err != nil {
		logger.Warn("point lookup failed, indexing whole chunk", "err", err)
		hashes = nil
	}

	var (
		todo   []*core.Document
		synced []core.DocID
	)
	for _, d := range docs {
		if h, ok := hashes[d.ID]; ok && h == d.ContentHash {
			synced = append(synced, d.ID)
			continue
		}
		todo = append(todo, d)
	}
	res.Index.Skipped += len(synced)
	res.Index.Attempted += len(todo)

	var failed []*storage.PendingItem
	now := w.call.now()
	for i, o := range w.indexer.Index(ctx, todo...) {
		if o.OK() {
			res.Index.Succeeded++
			synced = append(synced, o.ID)
			continue
		}
		res.Index.Failed++
		res.failure(o.ID, StoreIndex, outcomeErr(o))
		failed = append(failed, &storage.PendingItem{
			ID:          o.ID,
			Op:          storage.OpIndex,
			Reason:      outcomeErr(o).Error(),
			ContentHash: todo[i].ContentHash,
			FirstSeen:   now,
			LastAttempt: now,
			NextAttempt: now,
		})
	}

	if len(failed) > 0 {
		w.queue(ctx, failed, res, logger)
	}
	if len(synced) > 0 {
		if err := w.call.do(ctx, func(ctx context.Context) error {
			return w.pending.DeletePending(ctx, synced...)
		}); err != nil {
			logger.Warn("could not clear resolved pending items", "err", err)
		}
	}
}

// queue saves index failures for the Reconciler. An existing item for the
// same content keeps its history, so quarantined items stay quarantined.
func (w *Writer) queue(ctx context.Context, items []*storage.PendingItem, res *Result, logger *slog.Logger) {
	for _, item := range items {
		prev, err := w.pending.GetPending(ctx, item.ID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				logger.Warn("pending lookup failed", "id", item.ID, "err", err)
			}
			continue
		}
		if prev.ContentHash == item.ContentHash {
			item.FirstSeen = prev.FirstSeen
			item.Attempts = prev.Attempts
			item.Dead = prev.Dead
			if prev.NextAttempt.After(item.NextAttempt) {
				item.NextAttempt = prev.NextAttempt
			}
		}
	}

	err := w.call.do(ctx, func(ctx context.Context) error {
		return w.pending.SavePending(ctx, items...)
	})
	if err != nil {
		// The Reconciler's diff still finds these points missing.
		logger.Error("could not queue pending items", "items", len(items), "err", err)
		return
	}
	res.Pending += len(items)
	for _, item := range items {
		logger.Warn("index write deferred to reconciler", "id", item.ID, "reason", item.Reason)
	}
}

func outcomeErr(o storage.Outcome) error {
	if o.Err != nil {
		return o.Err
	}
	return fmt.Errorf("store reported %s", o.Status)
}
