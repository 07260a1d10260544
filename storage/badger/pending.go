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


package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// PendingRepository implements storage.PendingRepository for BadgerDB.
type PendingRepository struct {
	backend *Backend
}

var _ storage.PendingRepository = (*PendingRepository)(nil)

// NewPendingRepository creates a new PendingRepository.
func NewPendingRepository(backend *Backend) *PendingRepository {
	return &PendingRepository{backend: backend}
}

// Close is a no-op; the backend owns the database.
func (r *PendingRepository) Close() error {
	return nil
}

// SavePending inserts or replaces items by ID.
func (r *PendingRepository) SavePending(ctx context.Context, items ...*storage.PendingItem) error {
	return r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, item := range items {
			if item == nil || item.ID == "" {
				return fmt.Errorf("%w: pending item without ID", storage.ErrInvalidQuery)
			}
			if err := tx.Set(makeKey(pendingPrefix, item.ID), storage.MarshalPendingItem(item)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetPending retrieves a single item by ID.
func (r *PendingRepository) GetPending(ctx context.Context, id core.DocID) (*storage.PendingItem, error) {
	var result *storage.PendingItem
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		raw, err := getValue(tx, makeKey(pendingPrefix, id))
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		result, err = storage.UnmarshalPendingItem(raw)
		return err
	}, false)
	return result, err
}

// ListPending returns every item of a scope in ID order.
func (r *PendingRepository) ListPending(ctx context.Context, scope core.Scope) ([]*storage.PendingItem, error) {
	var result []*storage.PendingItem
	err := r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeScopePrefix(pendingPrefix, scope)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				item, err := storage.UnmarshalPendingItem(val)
				if err != nil {
					return err
				}
				result = append(result, item)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return result, err
}

// DeletePending removes items by ID. Missing IDs are ignored.
func (r *PendingRepository) DeletePending(ctx context.Context, ids ...core.DocID) error {
	return r.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			if err := tx.Delete(makeKey(pendingPrefix, id)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}
