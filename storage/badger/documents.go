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
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// DocumentStore implements storage.DocumentStore and storage.ChangeFeed
// for BadgerDB. Documents are stored as JSON next to a small content-hash
// entry that key scans read instead of the document.
type DocumentStore struct {
	backend *Backend
	now     func() time.Time
}

var (
	_ storage.DocumentStore = (*DocumentStore)(nil)
	_ storage.ChangeFeed    = (*DocumentStore)(nil)
)

// NewDocumentStore creates a new DocumentStore.
func NewDocumentStore(backend *Backend) *DocumentStore {
	return &DocumentStore{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op; the backend owns the database.
func (s *DocumentStore) Close() error {
	return nil
}

// UpsertDocuments writes all documents in one transaction. If the commit
// fails every outcome is failed, so nothing is reported as durable that the
// database did not confirm.
func (s *DocumentStore) UpsertDocuments(ctx context.Context, docs ...*core.Document) ([]storage.Outcome, error) {
	outcomes := make([]storage.Outcome, len(docs))
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for i, doc := range docs {
			if err := ctx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.upsertOne(tx, doc)
		}
		return tx.Commit()
	}, true)
	if err != nil {
		ids := make([]core.DocID, len(docs))
		for i, doc := range docs {
			if doc != nil {
				ids[i] = doc.ID
			}
		}
		return storage.Failed(err, ids...), err
	}
	return outcomes, nil
}

func (s *DocumentStore) upsertOne(tx *badger.Txn, doc *core.Document) storage.Outcome {
	if doc == nil || doc.Record == nil || doc.ID == "" {
		return storage.Outcome{Status: storage.StatusFailed, Err: core.ErrInvalidDocument}
	}
	out := storage.Outcome{ID: doc.ID}
	key := makeKey(documentPrefix, doc.ID)

	raw, err := getValue(tx, key)
	if err != nil {
		out.Status, out.Err = storage.StatusFailed, err
		return out
	}
	if raw != nil {
		stored, err := storage.UnmarshalDocument(raw)
		if err != nil {
			out.Status, out.Err = storage.StatusFailed, err
			return out
		}
		if stored.ProcessedAt().After(doc.ProcessedAt()) {
			out.Status = storage.StatusSuperseded
			return out
		}
		if same, err := sameRecord(stored, doc); err != nil {
			out.Status, out.Err = storage.StatusFailed, err
			return out
		} else if same {
			doc.UpdatedAt = stored.UpdatedAt
			out.Status = storage.StatusUnchanged
			return out
		}
	}

	doc.UpdatedAt = s.now()
	value, err := storage.MarshalDocument(doc)
	if err != nil {
		out.Status, out.Err = storage.StatusFailed, err
		return out
	}
	if err := tx.Set(key, value); err != nil {
		out.Status, out.Err = storage.StatusFailed, err
		return out
	}
	if err := tx.Set(makeKey(documentHashPrefix, doc.ID), []byte(doc.ContentHash)); err != nil {
		out.Status, out.Err = storage.StatusFailed, err
		return out
	}
	out.Status = storage.StatusWritten
	return out
}

func sameRecord(a, b *core.Document) (bool, error) {
	if a.ContentHash != b.ContentHash {
		return false, nil
	}
	ra, err := a.RecordJSON()
	if err != nil {
		return false, err
	}
	rb, err := b.RecordJSON()
	if err != nil {
		return false, err
	}
	return bytes.Equal(ra, rb), nil
}

// GetDocuments retrieves the documents that exist among ids, in input order.
func (s *DocumentStore) GetDocuments(ctx context.Context, ids ...core.DocID) ([]*core.Document, error) {
	var result []*core.Document
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			raw, err := getValue(tx, makeKey(documentPrefix, id))
			if err != nil {
				return err
			}
			if raw == nil {
				continue
			}
			doc, err := storage.UnmarshalDocument(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			result = append(result, doc)
		}
		return nil
	}, false)
	return result, err
}

// ScanDocuments pages through the documents of one scope in ID order.
func (s *DocumentStore) ScanDocuments(ctx context.Context, scope core.Scope, cursor string, limit int) (*storage.DocumentPage, error) {
	if !checkCursor(cursor) {
		return nil, storage.ErrInvalidCursor
	}
	result := &storage.DocumentPage{}
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		next, err := page(tx, makeScopePrefix(documentPrefix, scope), cursor, limit, func(_ string, item *badger.Item) error {
			return item.Value(func(val []byte) error {
				doc, err := storage.UnmarshalDocument(val)
				if err != nil {
					return err
				}
				result.Documents = append(result.Documents, doc)
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

// ScanKeys pages through the IDs and content hashes of one scope.
func (s *DocumentStore) ScanKeys(ctx context.Context, scope core.Scope, cursor string, limit int) (*storage.KeyPage, error) {
	if !checkCursor(cursor) {
		return nil, storage.ErrInvalidCursor
	}
	result := &storage.KeyPage{}
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		next, err := page(tx, makeScopePrefix(documentHashPrefix, scope), cursor, limit, func(key string, item *badger.Item) error {
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

// Exists reports which of the IDs are stored.
func (s *DocumentStore) Exists(ctx context.Context, ids ...core.DocID) (map[core.DocID]bool, error) {
	found := make(map[core.DocID]bool, len(ids))
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for _, id := range ids {
			_, err := tx.Get(makeKey(documentHashPrefix, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			found[id] = true
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return found, nil
}

// DeleteDocuments removes documents by their IDs.
func (s *DocumentStore) DeleteDocuments(ctx context.Context, ids ...core.DocID) ([]storage.Outcome, error) {
	outcomes := make([]storage.Outcome, len(ids))
	err := s.backend.WithTx(ctx, func(tx *badger.Txn) error {
		for i, id := range ids {
			outcomes[i] = deleteEntry(tx, id, documentPrefix, documentHashPrefix)
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return storage.Failed(err, ids...), err
	}
	return outcomes, nil
}

// deleteEntry removes the primary and hash keys of one entry.
func deleteEntry(tx *badger.Txn, id core.DocID, primary, hash string) storage.Outcome {
	out := storage.Outcome{ID: id}
	key := makeKey(primary, id)
	if _, err := tx.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
		out.Status = storage.StatusNotFound
		return out
	} else if err != nil {
		out.Status, out.Err = storage.StatusFailed, err
		return out
	}
	if err := tx.Delete(key); err != nil {
		out.Status, out.Err = storage.StatusFailed, err
		return out
	}
	if err := tx.Delete(makeKey(hash, id)); err != nil {
		out.Status, out.Err = storage.StatusFailed, err
		return out
	}
	out.Status = storage.StatusDeleted
	return out
}

// Watch calls fn with the ID of every document written or deleted until
// ctx is done.
func (s *DocumentStore) Watch(ctx context.Context, fn func(id core.DocID)) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	prefix := []byte(documentPrefix)
	err := s.backend.db.Subscribe(ctx, func(kvs *pb.KVList) error {
		for _, kv := range kvs.Kv {
			if !bytes.HasPrefix(kv.Key, prefix) {
				continue
			}
			fn(core.DocID(kv.Key[len(prefix):]))
		}
		return nil
	}, []pb.Match{{Prefix: prefix}})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
