package sqldb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultPageSize = 500

// DocumentStore implements storage.DocumentStore with gorm.
type DocumentStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ storage.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates a DocumentStore over an opened database.
func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the underlying connection pool.
func (s *DocumentStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertDocuments writes all documents in one transaction. If the
// transaction fails every outcome is failed.
func (s *DocumentStore) UpsertDocuments(ctx context.Context, docs ...*core.Document) ([]storage.Outcome, error) {
	outcomes := make([]storage.Outcome, len(docs))
	ids := make([]core.DocID, len(docs))
	for i, doc := range docs {
		if doc != nil {
			ids[i] = doc.ID
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := loadRows(tx, ids)
		if err != nil {
			return err
		}

		pending := make(map[string]*documentRow)
		var order []string
		for i, doc := range docs {
			if doc == nil || doc.Record == nil || doc.ID == "" {
				outcomes[i] = storage.Outcome{ID: ids[i], Status: storage.StatusFailed, Err: core.ErrInvalidDocument}
				continue
			}
			outcomes[i].ID = doc.ID
			body, err := doc.RecordJSON()
			if err != nil {
				outcomes[i].Status, outcomes[i].Err = storage.StatusFailed, err
				continue
			}

			prev := stored[string(doc.ID)]
			if w, ok := pending[string(doc.ID)]; ok {
				prev = w
			}
			if prev != nil {
				stored, err := prev.document()
				if err != nil {
					outcomes[i].Status, outcomes[i].Err = storage.StatusFailed, err
					continue
				}
				if stored.ProcessedAt().After(doc.ProcessedAt()) {
					outcomes[i].Status = storage.StatusSuperseded
					continue
				}
				// Compare re-encoded bodies: jsonb does not preserve bytes.
				storedBody, err := stored.RecordJSON()
				if err == nil && stored.ContentHash == doc.ContentHash && bytes.Equal(storedBody, body) {
					doc.UpdatedAt = stored.UpdatedAt
					outcomes[i].Status = storage.StatusUnchanged
					continue
				}
			}

			doc.UpdatedAt = s.now()
			row := &documentRow{
				ID:          string(doc.ID),
				Scope:       doc.ID.Scope().String(),
				Key:         doc.Key,
				Kind:        string(doc.Kind),
				Domain:      string(doc.Domain),
				ContentHash: doc.ContentHash,
				ProcessedAt: doc.ProcessedAt().UTC(),
				Body:        datatypes.JSON(body),
				UpdatedAt:   doc.UpdatedAt,
			}
			if _, seen := pending[row.ID]; !seen {
				order = append(order, row.ID)
			}
			pending[row.ID] = row
			outcomes[i].Status = storage.StatusWritten
		}

		if len(order) == 0 {
			return nil
		}
		rows := make([]*documentRow, len(order))
		for i, id := range order {
			rows[i] = pending[id]
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&rows).Error
	})
	if err != nil {
		return storage.Failed(err, ids...), err
	}
	return outcomes, nil
}

func loadRows(tx *gorm.DB, ids []core.DocID) (map[string]*documentRow, error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			keys = append(keys, string(id))
		}
	}
	out := make(map[string]*documentRow, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var rows []*documentRow
	if err := tx.Where("id IN ?", keys).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

func (r *documentRow) document() (*core.Document, error) {
	rec, err := core.NewRecord(core.Kind(r.Kind))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(r.Body, rec); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", r.ID, storage.ErrSerializationFailed, err)
	}
	return &core.Document{
		ID:          core.DocID(r.ID),
		Kind:        core.Kind(r.Kind),
		Domain:      core.Domain(r.Domain),
		Key:         r.Key,
		ContentHash: r.ContentHash,
		Record:      rec,
		UpdatedAt:   r.UpdatedAt.UTC(),
	}, nil
}

// GetDocuments returns the documents that exist, in input order.
func (s *DocumentStore) GetDocuments(ctx context.Context, ids ...core.DocID) ([]*core.Document, error) {
	rows, err := loadRows(s.db.WithContext(ctx), ids)
	if err != nil {
		return nil, err
	}
	var out []*core.Document
	for _, id := range ids {
		row, ok := rows[string(id)]
		if !ok {
			continue
		}
		doc, err := row.document()
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *DocumentStore) pageQuery(ctx context.Context, scope core.Scope, cursor string, limit int) *gorm.DB {
	q := s.db.WithContext(ctx).Where("scope = ?", scope.String())
	if cursor != "" {
		q = q.Where("key > ?", cursor)
	}
	return q.Order("key").Limit(limit + 1)
}

// ScanDocuments pages through one scope in key order.
func (s *DocumentStore) ScanDocuments(ctx context.Context, scope core.Scope, cursor string, limit int) (*storage.DocumentPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	var rows []*documentRow
	if err := s.pageQuery(ctx, scope, cursor, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	page := &storage.DocumentPage{}
	if len(rows) > limit {
		rows = rows[:limit]
		page.Next = rows[limit-1].Key
	}
	for _, row := range rows {
		doc, err := row.document()
		if err != nil {
			return nil, err
		}
		page.Documents = append(page.Documents, doc)
	}
	return page, nil
}

// ScanKeys pages through the IDs and content hashes of one scope.
func (s *DocumentStore) ScanKeys(ctx context.Context, scope core.Scope, cursor string, limit int) (*storage.KeyPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	var rows []*documentRow
	if err := s.pageQuery(ctx, scope, cursor, limit).Select("id", "key", "content_hash").Find(&rows).Error; err != nil {
		return nil, err
	}
	page := &storage.KeyPage{}
	if len(rows) > limit {
		rows = rows[:limit]
		page.Next = rows[limit-1].Key
	}
	for _, row := range rows {
		page.Refs = append(page.Refs, storage.KeyRef{ID: core.DocID(row.ID), ContentHash: row.ContentHash})
	}
	return page, nil
}

// Exists reports which of the IDs are stored.
func (s *DocumentStore) Exists(ctx context.Context, ids ...core.DocID) (map[core.DocID]bool, error) {
	found := make(map[core.DocID]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	var present []string
	if err := s.db.WithContext(ctx).Model(&documentRow{}).Where("id IN ?", keys).Pluck("id", &present).Error; err != nil {
		return nil, err
	}
	for _, id := range present {
		found[core.DocID(id)] = true
	}
	return found, nil
}

// DeleteDocuments removes documents by their IDs.
func (s *DocumentStore) DeleteDocuments(ctx context.Context, ids ...core.DocID) ([]storage.Outcome, error) {
	outcomes := make([]storage.Outcome, len(ids))
	if len(ids) == 0 {
		return outcomes, nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := NewDocumentStore(tx).Exists(ctx, ids...)
		if err != nil {
			return err
		}
		var doomed []string
		for i, id := range ids {
			outcomes[i].ID = id
			if !found[id] {
				outcomes[i].Status = storage.StatusNotFound
				continue
			}
			outcomes[i].Status = storage.StatusDeleted
			doomed = append(doomed, string(id))
		}
		if len(doomed) == 0 {
			return nil
		}
		return tx.Where("id IN ?", doomed).Delete(&documentRow{}).Error
	})
	if err != nil {
		return storage.Failed(err, ids...), err
	}
	return outcomes, nil
}
