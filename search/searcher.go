package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// verbatimBoost is added to hits containing every query word.
const verbatimBoost = 0.3

// Hit is one search result, hydrated from the document store.
type Hit struct {
	Document *core.Document `json:"document"`
	Score    float32        `json:"score"`
	Verbatim bool           `json:"verbatim"`
}

// Label names the hit for display, e.g. "Problem STR_04_08".
func (h Hit) Label() string {
	return title(h.Document.Kind) + " " + h.Document.Key
}

// Searcher runs similarity queries over the knowledge base.
type Searcher struct {
	docs     storage.DocumentStore
	index    storage.VectorIndex
	embedder ai.Embedder
	minScore float32
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMinScore sets the similarity floor used when a query's filter has
// none. Default is 0.6.
func WithMinScore(score float32) Option {
	return func(s *Searcher) error {
		s.minScore = score
		return nil
	}
}

// New creates a new searcher.
func New(docs storage.DocumentStore, index storage.VectorIndex, embedder ai.Embedder, opts ...Option) (*Searcher, error) {
	if docs == nil {
		return nil, ErrDocumentStoreRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		docs:     docs,
		index:    index,
		embedder: embedder,
		minScore: 0.6,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// FindSimilar returns up to limit documents similar to query, best first.
func (s *Searcher) FindSimilar(ctx context.Context, query string, filter storage.QueryFilter, limit int) ([]Hit, error) {
	return s.FindSimilarWithMonitor(ctx, query, filter, limit, nil)
}

// FindSimilarWithMonitor is FindSimilar with callbacks at each stage.
func (s *Searcher) FindSimilarWithMonitor(ctx context.Context, query string, filter storage.QueryFilter, limit int, monitor SearchMonitor) ([]Hit, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		return []Hit{}, nil
	}
	if filter.MinScore == 0 {
		filter.MinScore = s.minScore
	}

	monitor.Start(query)

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	// Over-fetch so orphaned points do not shrink the result
	matches, err := s.index.Query(ctx, ai.NormalizeVector(embedding), filter, limit*2)
	if err != nil {
		s.logger.Error("error querying for similar points", "err", err)
		return nil, err
	}
	monitor.AfterQuery(matches)
	if len(matches) == 0 {
		monitor.Finish(nil)
		return []Hit{}, nil
	}

	ids := make([]core.DocID, len(matches))
	scores := make(map[core.DocID]float32, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
		scores[m.ID] = m.Score
	}
	docs, err := s.docs.GetDocuments(ctx, ids...)
	if err != nil {
		s.logger.Error("error retrieving documents", "count", len(ids), "err", err)
		return nil, err
	}
	monitor.AfterHydration(docs)

	found := make(map[core.DocID]bool, len(docs))
	hits := make([]Hit, 0, len(docs))
	for _, doc := range docs {
		found[doc.ID] = true
		hit := Hit{Document: doc, Score: scores[doc.ID]}
		if containsAllQueryWords(core.EmbeddingText(doc.Record), query) {
			hit.Score += verbatimBoost
			hit.Verbatim = true
		}
		hits = append(hits, hit)
	}
	for _, id := range ids {
		if !found[id] {
			s.logger.Debug("skipping point without document", "id", id)
			monitor.SkippedOrphan(id)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	monitor.Finish(hits)
	return hits, nil
}
