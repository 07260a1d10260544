package badger

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// VectorIndex implements storage.VectorIndex for BadgerDB with a brute
// force similarity scan. It suits a knowledge base of a few thousand
// points; larger deployments use the qdrant backend.
type VectorIndex struct {
	backend    *Backend
	dimensions int
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex creates a VectorIndex. A positive dimensions value makes
// the index reject vectors of any other length.
func NewVectorIndex(backend *Backend, dimensions int) *VectorIndex {
	return &VectorIndex{backend: backend, dimensions: dimensions}
}

// Close is a no-op; the backend owns the database.
func (v *VectorIndex) Close() error {
	return nil
}

// UpsertPoints inserts or replaces points in one transaction.
func (v *VectorIndex) UpsertPoints(ctx context.Context, points ...*storage.Point) ([]storage.Outcome, error) {
	outcomes := make([]storage.Outcome, len(points))
	err := v.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for i, p := range points {
			outcomes[i] = v.upsertOne(tx, p)
		}
		return tx.Commit()
	}, true)
	if err != nil {
		ids := make([]core.DocID, len(points))
		for i, p := range points {
			if p != nil {
				ids[i] = p.ID
			}
		}
		return storage.Failed(err, ids...), err
	}
	return outcomes, nil
}

func (v *VectorIndex) upsertOne(tx *badger.Txn, p *storage.Point) storage.Outcome {
	if p == nil || p.ID == "" {
		return storage.Outcome{Status: storage.StatusFailed, Err: storage.ErrInvalidQuery}
	}
	out := storage.Outcome{ID: p.ID}
	if len(p.Vector) == 0 {
		out.Status, out.Err = storage.StatusFailed, storage.ErrEmptyVector
		return out
	}
	if v.dimensions > 0 && len(p.Vector) != v.dimensions {
		out.Status = storage.StatusFailed
		out.Err = fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(p.Vector), v.dimensions)
		return out
	}

	hashKey := makeKey(pointHashPrefix, p.ID)
	stored, err := getValue(tx, hashKey)
	if err != nil {
		out.Status, out.Err = storage.StatusFailed, err
		return out
	}
	if stored != nil && p.ContentHash != "" && string(stored) == p.ContentHash {
		out.Status = storage.StatusUnchanged
		return out
	}

	if err := tx.Set(makeKey(pointPrefix, p.ID), storage.MarshalPoint(p)); err != nil {
		out.Status, out.Err = storage.StatusFailed, err
		return out
	}
	if err := tx.Set(hashKey, []byte(p.ContentHash)); err != nil {
		out.Status, out.Err = storage.StatusFailed, err
		return out
	}
	out.Status = storage.StatusWritten
	return out
}

// DeletePoints removes points by their IDs.
func (v *VectorIndex) DeletePoints(ctx context.Context, ids ...core.DocID) ([]storage.Outcome, error) {
	outcomes := make([]storage.Outcome, len(ids))
	err := v.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for i, id := range ids {
			outcomes[i] = deleteEntry(tx, id, pointPrefix, pointHashPrefix)
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return storage.Failed(err, ids...), err
	}
	return outcomes, nil
}

// ScanPoints pages through the IDs and content hashes of one scope.
func (v *VectorIndex) ScanPoints(ctx context.Context, scope core.Scope, cursor string, limit int) (*storage.KeyPage, error) {
	if !checkCursor(cursor) {
		return nil, storage.ErrInvalidCursor
	}
	result := &storage.KeyPage{}
	err := v.backend.WithTx(ctx, func(tx *badger.Txn) error {
		next, err := page(tx, makeScopePrefix(pointHashPrefix, scope), cursor, limit, func(key string, item *badger.Item) error {
			return item.Value(func(val []byte) error {
				result.Refs = append(result.Refs, storage.KeyRef{ID: scopeID(scope, key), ContentHash: string(val)})
				return nil
			})
		})
		result.Next = next
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LookupPoints returns the content hash of every stored point among ids.
func (v *VectorIndex) LookupPoints(ctx context.Context, ids ...core.DocID) (map[core.DocID]string, error) {
	found := make(map[core.DocID]string, len(ids))
	err := v.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			hash, err := getValue(tx, makeKey(pointHashPrefix, id))
			if err != nil {
				return err
			}
			if hash != nil {
				found[id] = string(hash)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Query finds the points closest to vector. Vectors are stored unit
// length, so the dot product is the cosine similarity.
func (v *VectorIndex) Query(ctx context.Context, vector []float32, filter storage.QueryFilter, limit int) ([]storage.Match, error) {
	if len(vector) == 0 {
		return nil, storage.ErrEmptyVector
	}
	if v.dimensions > 0 && len(vector) != v.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vector), v.dimensions)
	}
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var results []storage.Match
	err := v.backend.WithTx(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pointPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			id := core.DocID(item.Key()[len(pointPrefix):])
			if !filter.Accepts(id) {
				continue
			}

			var point *storage.Point
			err := item.Value(func(val []byte) error {
				var err error
				point, err = storage.UnmarshalPoint(val)
				return err
			})
			if err != nil {
				return err
			}

			similarity := dotProduct(vector, point.Vector)
			if similarity >= filter.MinScore {
				results = append(results, storage.Match{ID: point.ID, Score: similarity, Payload: point.Payload})
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending
	slices.SortFunc(results, func(a, b storage.Match) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
