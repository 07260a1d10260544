package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

var problemScope = core.Scope{Domain: core.DomainStress, Kind: core.KindProblem}

func problemDoc(t *testing.T, key, name string, at time.Time) *core.Document {
	t.Helper()
	doc, err := core.NewDocument(&core.Problem{
		Base:          core.Base{Domain: core.DomainStress, Lineage: core.Lineage{ProcessedAt: at}},
		CategoryID:    core.CategoryOf(key),
		SubCategoryID: key,
		Name:          name,
	})
	require.NoError(t, err)
	return doc
}

func newStores(t *testing.T) *Stores {
	t.Helper()
	stores, err := NewMemoryStores(0)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

func statuses(outcomes []storage.Outcome) []storage.Status {
	out := make([]storage.Status, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.Status
	}
	return out
}

func TestDocumentStore_UpsertAndGet(t *testing.T) {
	docs := newStores(t).Documents
	ctx := context.Background()

	outcomes, err := docs.UpsertDocuments(ctx, problemDoc(t, "STR_04_08", "Work overload", t0), problemDoc(t, "STR_04_09", "Deadlines", t0))
	require.NoError(t, err)
	assert.Equal(t, []storage.Status{storage.StatusWritten, storage.StatusWritten}, statuses(outcomes))

	got, err := docs.GetDocuments(ctx, "problem/STR/STR_04_09", "problem/STR/MISSING", "problem/STR/STR_04_08")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Deadlines", got[0].Record.(*core.Problem).Name)
	assert.Equal(t, "Work overload", got[1].Record.(*core.Problem).Name)
	assert.False(t, got[0].UpdatedAt.IsZero())
}

func TestDocumentStore_UpsertIsIdempotent(t *testing.T) {
	docs := newStores(t).Documents
	ctx := context.Background()

	_, err := docs.UpsertDocuments(ctx, problemDoc(t, "STR_04_08", "Work overload", t0))
	require.NoError(t, err)
	first, err := docs.GetDocuments(ctx, "problem/STR/STR_04_08")
	require.NoError(t, err)

	outcomes, err := docs.UpsertDocuments(ctx, problemDoc(t, "STR_04_08", "Work overload", t0))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusUnchanged, outcomes[0].Status)

	second, err := docs.GetDocuments(ctx, "problem/STR/STR_04_08")
	require.NoError(t, err)
	assert.Equal(t, first[0].UpdatedAt, second[0].UpdatedAt)
}

func TestDocumentStore_OlderVersionIsSuperseded(t *testing.T) {
	docs := newStores(t).Documents
	ctx := context.Background()

	_, err := docs.UpsertDocuments(ctx, problemDoc(t, "STR_04_08", "newer", t0.Add(time.Hour)))
	require.NoError(t, err)

	outcomes, err := docs.UpsertDocuments(ctx, problemDoc(t, "STR_04_08", "older", t0))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSuperseded, outcomes[0].Status)
	assert.True(t, outcomes[0].OK())

	got, err := docs.GetDocuments(ctx, "problem/STR/STR_04_08")
	require.NoError(t, err)
	assert.Equal(t, "newer", got[0].Record.(*core.Problem).Name)

	outcomes, err = docs.UpsertDocuments(ctx, problemDoc(t, "STR_04_08", "newest", t0.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusWritten, outcomes[0].Status)
}

func TestDocumentStore_InvalidDocumentFailsAlone(t *testing.T) {
	docs := newStores(t).Documents
	ctx := context.Background()

	outcomes, err := docs.UpsertDocuments(ctx, problemDoc(t, "STR_01_01", "ok", t0), &core.Document{})
	require.NoError(t, err)
	assert.Equal(t, storage.StatusWritten, outcomes[0].Status)
	assert.Equal(t, storage.StatusFailed, outcomes[1].Status)
	assert.ErrorIs(t, outcomes[1].Err, core.ErrInvalidDocument)
}

func TestDocumentStore_ScanPagination(t *testing.T) {
	docs := newStores(t).Documents
	ctx := context.Background()

	var batch []*core.Document
	for i := 1; i <= 7; i++ {
		batch = append(batch, problemDoc(t, fmt.Sprintf("STR_01_%02d", i), "p", t0))
	}
	other, err := core.NewDocument(&core.NextAction{Base: core.Base{Domain: core.DomainStress}, ActionID: "STR_ACT_01"})
	require.NoError(t, err)
	batch = append(batch, other)
	_, err = docs.UpsertDocuments(ctx, batch...)
	require.NoError(t, err)

	var keys []core.DocID
	cursor := ""
	pages := 0
	for {
		page, err := docs.ScanKeys(ctx, problemScope, cursor, 3)
		require.NoError(t, err)
		for _, ref := range page.Refs {
			keys = append(keys, ref.ID)
			assert.NotEmpty(t, ref.ContentHash)
		}
		pages++
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}
	assert.Equal(t, 3, pages)
	require.Len(t, keys, 7)
	assert.Equal(t, core.DocID("problem/STR/STR_01_01"), keys[0])
	assert.Equal(t, core.DocID("problem/STR/STR_01_07"), keys[6])

	full, err := docs.ScanDocuments(ctx, problemScope, "", 0)
	require.NoError(t, err)
	assert.Len(t, full.Documents, 7)
	assert.Empty(t, full.Next)

	_, err = docs.ScanKeys(ctx, problemScope, "problem/STR/x", 3)
	assert.ErrorIs(t, err, storage.ErrInvalidCursor)
}

func TestDocumentStore_ExistsAndDelete(t *testing.T) {
	docs := newStores(t).Documents
	ctx := context.Background()

	_, err := docs.UpsertDocuments(ctx, problemDoc(t, "STR_01_01", "a", t0))
	require.NoError(t, err)

	found, err := docs.Exists(ctx, "problem/STR/STR_01_01", "problem/STR/STR_01_02")
	require.NoError(t, err)
	assert.Equal(t, map[core.DocID]bool{"problem/STR/STR_01_01": true}, found)

	outcomes, err := docs.DeleteDocuments(ctx, "problem/STR/STR_01_01", "problem/STR/STR_01_02")
	require.NoError(t, err)
	assert.Equal(t, []storage.Status{storage.StatusDeleted, storage.StatusNotFound}, statuses(outcomes))

	found, err = docs.Exists(ctx, "problem/STR/STR_01_01")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDocumentStore_Watch(t *testing.T) {
	docs := newStores(t).Documents
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []core.DocID
	done := make(chan error, 1)
	go func() {
		done <- docs.Watch(ctx, func(id core.DocID) {
			mu.Lock()
			seen = append(seen, id)
			mu.Unlock()
		})
	}()

	// Subscribe registers asynchronously; keep writing until an event lands.
	require.Eventually(t, func() bool {
		now := time.Now()
		_, _ = docs.UpsertDocuments(context.Background(), problemDoc(t, "STR_01_01", now.String(), now))
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, core.DocID("problem/STR/STR_01_01"), seen[0])
}
