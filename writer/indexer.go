// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// PayloadKey is the point payload field holding the natural key.
const PayloadKey = "key"

// Indexer embeds documents and upserts their points. It is shared by the
// Writer and the Reconciler so both draw on one embedding pool.
type Indexer struct {
	index     storage.VectorIndex
	embedder  ai.Embedder
	pool      *ants.Pool
	batchSize int
	call      caller
	logger    *slog.Logger
}

func newIndexer(index storage.VectorIndex, embedder ai.Embedder, cfg Config, call caller, logger *slog.Logger) (*Indexer, error) {
	pool, err := ants.NewPool(cfg.EmbedWorkers)
	if err != nil {
		return nil, err
	}
	return &Indexer{
		index:     index,
		embedder:  embedder,
		pool:      pool,
		batchSize: cfg.EmbedBatchSize,
		call:      call,
		logger:    logger.With("stage", "index"),
	}, nil
}

// Index embeds and upserts docs, returning one outcome per input in input
// order. Batches run on the worker pool; Index blocks until all are done.
func (ix *Indexer) Index(ctx context.Context, docs ...*core.Document) []storage.Outcome {
	out := make([]storage.Outcome, len(docs))
	var wg sync.WaitGroup
	for start := 0; start < len(docs); start += ix.batchSize {
		end := min(start+ix.batchSize, len(docs))
		batch, res := docs[start:end], out[start:end]

		wg.Add(1)
		err := ix.pool.Submit(func() {
			defer wg.Done()
			ix.indexBatch(ctx, batch, res)
		})
		if err != nil {
			wg.Done()
			fail(res, batch, fmt.Errorf("submit embedding batch: %w", err))
		}
	}
	wg.Wait()
	return out
}

// Lookup returns the stored content hash of each point among ids.
func (ix *Indexer) Lookup(ctx context.Context, ids ...core.DocID) (map[core.DocID]string, error) {
	var hashes map[core.DocID]string
	err := ix.call.do(ctx, func(ctx context.Context) error {
		var err error
		hashes, err = ix.index.LookupPoints(ctx, ids...)
		return err
	})
	return hashes, err
}

// Delete removes points by ID.
func (ix *Indexer) Delete(ctx context.Context, ids ...core.DocID) ([]storage.Outcome, error) {
	var outcomes []storage.Outcome
	err := ix.call.do(ctx, func(ctx context.Context) error {
		var err error
		outcomes, err = ix.index.DeletePoints(ctx, ids...)
		return err
	})
	if err != nil {
		return storage.Failed(err, ids...), err
	}
	return outcomes, nil
}

// Scan pages through the point IDs and content hashes of one scope.
func (ix *Indexer) Scan(ctx context.Context, scope core.Scope, cursor string, limit int) (*storage.KeyPage, error) {
	var page *storage.KeyPage
	err := ix.call.do(ctx, func(ctx context.Context) error {
		var err error
		page, err = ix.index.ScanPoints(ctx, scope, cursor, limit)
		return err
	})
	return page, err
}

// Release stops the worker pool.
func (ix *Indexer) Release() {
	ix.pool.Release()
}

func (ix *Indexer) indexBatch(ctx context.Context, docs []*core.Document, out []storage.Outcome) {
	var (
		texts []string
		pos   []int
	)
	for i, doc := range docs {
		out[i] = storage.Outcome{ID: doc.ID}
		if !doc.Kind.Embeddable() {
			out[i].Status, out[i].Err = storage.StatusFailed, ErrNotEmbeddable
			continue
		}
		texts = append(texts, core.EmbeddingText(doc.Record))
		pos = append(pos, i)
	}
	if len(texts) == 0 {
		return
	}

	vectors, errs := ix.embed(ctx, texts)

	points := make([]*storage.Point, 0, len(texts))
	sent := make([]int, 0, len(texts))
	for j, i := range pos {
		if errs[j] != nil {
			out[i].Status, out[i].Err = storage.StatusFailed, fmt.Errorf("embed: %w", errs[j])
			continue
		}
		points = append(points, newPoint(docs[i], vectors[j]))
		sent = append(sent, i)
	}
	if len(points) == 0 {
		return
	}

	var outcomes []storage.Outcome
	err := ix.call.do(ctx, func(ctx context.Context) error {
		var err error
		outcomes, err = ix.index.UpsertPoints(ctx, points...)
		return err
	})
	for j, i := range sent {
		switch {
		case err != nil:
			out[i].Status, out[i].Err = storage.StatusFailed, err
		case j < len(outcomes):
			out[i] = outcomes[j]
		default:
			out[i].Status, out[i].Err = storage.StatusFailed, storage.ErrNotFound
		}
	}
	if err != nil {
		ix.logger.Warn("point upsert failed", "points", len(points), "err", err)
	}
}

// embed embeds a batch, falling back to one text at a time when the batch
// call fails so that one bad text does not sink its neighbours.
func (ix *Indexer) embed(ctx context.Context, texts []string) ([][]float32, []error) {
	vectors := make([][]float32, len(texts))
	errs := make([]error, len(texts))

	err := ix.call.do(ctx, func(ctx context.Context) error {
		vs, err := ix.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if err := ai.CheckVectors(vs, len(texts), 0); err != nil {
			return err
		}
		copy(vectors, vs)
		return nil
	})
	if err == nil {
		return vectors, errs
	}
	if len(texts) == 1 || ctx.Err() != nil {
		for i := range errs {
			errs[i] = err
		}
		return vectors, errs
	}

	ix.logger.Debug("batch embedding failed, embedding one by one", "texts", len(texts), "err", err)
	for i, text := range texts {
		errs[i] = ix.call.do(ctx, func(ctx context.Context) error {
			v, err := ix.embedder.EmbedText(ctx, text)
			if err != nil {
				return err
			}
			if len(v) == 0 {
				return ai.ErrEmptyEmbedding
			}
			vectors[i] = v
			return nil
		})
	}
	return vectors, errs
}

func newPoint(doc *core.Document, vector []float32) *storage.Point {
	return &storage.Point{
		ID:          doc.ID,
		Vector:      ai.NormalizeVector(vector),
		ContentHash: doc.ContentHash,
		Payload:     map[string]string{PayloadKey: doc.Key},
	}
}

func fail(out []storage.Outcome, docs []*core.Document, err error) {
	for i, doc := range docs {
		out[i] = storage.Outcome{ID: doc.ID, Status: storage.StatusFailed, Err: err}
	}
}
