package sqldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PendingRepository implements storage.PendingRepository with gorm.
type PendingRepository struct {
	db *gorm.DB
}

var _ storage.PendingRepository = (*PendingRepository)(nil)

// NewPendingRepository creates a PendingRepository over an opened database.
func NewPendingRepository(db *gorm.DB) *PendingRepository {
	return &PendingRepository{db: db}
}

// Close is a no-op; the document store owns the connection pool.
func (r *PendingRepository) Close() error {
	return nil
}

// SavePending inserts or replaces items by ID.
func (r *PendingRepository) SavePending(ctx context.Context, items ...*storage.PendingItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]*pendingRow, len(items))
	for i, item := range items {
		if item == nil || item.ID == "" {
			return fmt.Errorf("%w: pending item without ID", storage.ErrInvalidQuery)
		}
		rows[i] = &pendingRow{
			ID:          string(item.ID),
			Scope:       item.Scope().String(),
			Key:         item.ID.Key(),
			Op:          string(item.Op),
			Reason:      item.Reason,
			Attempts:    item.Attempts,
			ContentHash: item.ContentHash,
			FirstSeen:   item.FirstSeen,
			LastAttempt: item.LastAttempt,
			NextAttempt: item.NextAttempt,
			Dead:        item.Dead,
		}
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rows).Error
}

// GetPending returns the item for id, or storage.ErrNotFound.
func (r *PendingRepository) GetPending(ctx context.Context, id core.DocID) (*storage.PendingItem, error) {
	var row pendingRow
	err := r.db.WithContext(ctx).Where("id = ?", string(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.item(), nil
}

// ListPending returns every item of a scope in ID order.
func (r *PendingRepository) ListPending(ctx context.Context, scope core.Scope) ([]*storage.PendingItem, error) {
	var rows []*pendingRow
	if err := r.db.WithContext(ctx).Where("scope = ?", scope.String()).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*storage.PendingItem, len(rows))
	for i, row := range rows {
		out[i] = row.item()
	}
	return out, nil
}

// DeletePending removes items by ID. Missing IDs are ignored.
func (r *PendingRepository) DeletePending(ctx context.Context, ids ...core.DocID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	return r.db.WithContext(ctx).Where("id IN ?", keys).Delete(&pendingRow{}).Error
}

func (r *pendingRow) item() *storage.PendingItem {
	return &storage.PendingItem{
		ID:          core.DocID(r.ID),
		Op:          storage.PendingOp(r.Op),
		Reason:      r.Reason,
		Attempts:    r.Attempts,
		ContentHash: r.ContentHash,
		FirstSeen:   utc(r.FirstSeen),
		LastAttempt: utc(r.LastAttempt),
		NextAttempt: utc(r.NextAttempt),
		Dead:        r.Dead,
	}
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
