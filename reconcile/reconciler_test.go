package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/kbsync/ai/mock"
	"github.com/poiesic/kbsync/alert"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/retry"
	"github.com/poiesic/kbsync/storage"
	"github.com/poiesic/kbsync/storage/badger"
	"github.com/poiesic/kbsync/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0    = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	scope = core.Scope{Domain: core.DomainStress, Kind: core.KindProblem}
)

// flakyIndex rejects upserts of chosen IDs.
type flakyIndex struct {
	storage.VectorIndex

	mu      sync.Mutex
	failIDs map[core.DocID]bool
}

func (f *flakyIndex) setFailing(ids ...core.DocID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failIDs = make(map[core.DocID]bool)
	for _, id := range ids {
		f.failIDs[id] = true
	}
}

func (f *flakyIndex) UpsertPoints(ctx context.Context, points ...*storage.Point) ([]storage.Outcome, error) {
	f.mu.Lock()
	var keep []*storage.Point
	var pos []int
	out := make([]storage.Outcome, len(points))
	for i, p := range points {
		if f.failIDs[p.ID] {
			out[i] = storage.Outcome{ID: p.ID, Status: storage.StatusFailed, Err: errors.New("point rejected")}
			continue
		}
		keep = append(keep, p)
		pos = append(pos, i)
	}
	f.mu.Unlock()

	res, err := f.VectorIndex.UpsertPoints(ctx, keep...)
	if err != nil {
		return nil, err
	}
	for j, i := range pos {
		out[i] = res[j]
	}
	return out, nil
}

// blockingLease is held by someone else.
type blockingLease struct{}

func (blockingLease) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

type fixture struct {
	stores     *badger.Stores
	index      *flakyIndex
	embedder   *mock.MockEmbedder
	writer     *writer.Writer
	clock      *retry.FakeClock
	alerts     *alert.Recorder
	reconciler *Reconciler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	stores, err := badger.NewMemoryStores(8)
	require.NoError(t, err)
	t.Cleanup(func() {
		if !stores.Backend.IsClosed() {
			stores.Close()
		}
	})

	f := &fixture{
		stores:   stores,
		index:    &flakyIndex{VectorIndex: stores.Index},
		embedder: mock.NewMockEmbedder(8),
		clock:    retry.NewFakeClock(t0),
		alerts:   &alert.Recorder{},
	}
	w, err := writer.New(stores.Documents, f.index, f.embedder, stores.Pending, writer.WithClock(f.clock))
	require.NoError(t, err)
	t.Cleanup(w.Release)
	f.writer = w

	cfg := DefaultConfig()
	cfg.PageSize = 7
	cfg.RepairBatch = 5
	opts = append([]Option{WithConfig(cfg), WithClock(f.clock), WithAlerter(f.alerts), WithScopes(scope)}, opts...)
	r, err := New(stores.Documents, w.Indexer(), stores.Pending, opts...)
	require.NoError(t, err)
	f.reconciler = r
	return f
}

func problem(i int) *core.Problem {
	key := fmt.Sprintf("STR_%02d_%02d", i/50+1, i%50+1)
	return &core.Problem{
		Base:          core.Base{Domain: core.DomainStress, Lineage: core.Lineage{ProcessedAt: t0}},
		CategoryID:    core.CategoryOf(key),
		SubCategoryID: key,
		Name:          "Problem " + key,
	}
}

func problems(from, to int) []core.Record {
	var out []core.Record
	for i := from; i < to; i++ {
		out = append(out, problem(i))
	}
	return out
}

// pointIDs returns every point ID in the scope.
func (f *fixture) pointIDs(t *testing.T) map[core.DocID]string {
	t.Helper()
	out := make(map[core.DocID]string)
	cursor := ""
	for {
		page, err := f.stores.Index.ScanPoints(context.Background(), scope, cursor, 100)
		require.NoError(t, err)
		for _, ref := range page.Refs {
			out[ref.ID] = ref.ContentHash
		}
		if page.Next == "" {
			return out
		}
		cursor = page.Next
	}
}

// seedDocs writes documents without touching the index.
func (f *fixture) seedDocs(t *testing.T, recs []core.Record) []*core.Document {
	t.Helper()
	docs := make([]*core.Document, len(recs))
	for i, r := range recs {
		doc, err := core.NewDocument(r)
		require.NoError(t, err)
		docs[i] = doc
	}
	_, err := f.stores.Documents.UpsertDocuments(context.Background(), docs...)
	require.NoError(t, err)
	return docs
}

// seedPoints writes points directly, bypassing the documents.
func (f *fixture) seedPoints(t *testing.T, recs []core.Record) {
	t.Helper()
	points := make([]*storage.Point, len(recs))
	for i, r := range recs {
		points[i] = &storage.Point{
			ID:          core.IDOf(r),
			Vector:      mock.Vector(core.EmbeddingText(r), 8),
			ContentHash: core.ContentHash(r),
		}
	}
	_, err := f.stores.Index.UpsertPoints(context.Background(), points...)
	require.NoError(t, err)
}

func expectedPoints(docs []*core.Document) map[core.DocID]string {
	out := make(map[core.DocID]string, len(docs))
	for _, d := range docs {
		out[d.ID] = d.ContentHash
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	stores, err := badger.NewMemoryStores(0)
	require.NoError(t, err)
	defer stores.Close()
	w, err := writer.New(stores.Documents, stores.Index, mock.NewMockEmbedder(4), stores.Pending)
	require.NoError(t, err)
	defer w.Release()

	_, err = New(nil, w.Indexer(), stores.Pending)
	assert.ErrorIs(t, err, ErrDocumentStoreRequired)
	_, err = New(stores.Documents, nil, stores.Pending)
	assert.ErrorIs(t, err, ErrIndexerRequired)
	_, err = New(stores.Documents, w.Indexer(), nil)
	assert.ErrorIs(t, err, ErrPendingRepositoryRequired)

	cfg := DefaultConfig()
	cfg.PageSize = 0
	_, err = New(stores.Documents, w.Indexer(), stores.Pending, WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReconcile_ConvergesFromAnyDrift(t *testing.T) {
	tests := []struct {
		name   string
		docs   [2]int
		points [2]int
	}{
		{name: "empty stores", docs: [2]int{0, 0}, points: [2]int{0, 0}},
		{name: "index empty", docs: [2]int{0, 23}, points: [2]int{0, 0}},
		{name: "index subset", docs: [2]int{0, 23}, points: [2]int{5, 12}},
		{name: "index superset", docs: [2]int{0, 10}, points: [2]int{0, 30}},
		{name: "disjoint", docs: [2]int{0, 10}, points: [2]int{10, 20}},
		{name: "documents empty", docs: [2]int{0, 0}, points: [2]int{0, 9}},
		{name: "already converged", docs: [2]int{0, 15}, points: [2]int{0, 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			docs := f.seedDocs(t, problems(tt.docs[0], tt.docs[1]))
			f.seedPoints(t, problems(tt.points[0], tt.points[1]))

			rep, err := f.reconciler.Reconcile(context.Background(), scope)
			require.NoError(t, err)
			assert.Equal(t, expectedPoints(docs), f.pointIDs(t))
			assert.True(t, rep.Converged())
			assert.Equal(t, StateIdle, f.reconciler.State(scope))

			again, err := f.reconciler.Reconcile(context.Background(), scope)
			require.NoError(t, err)
			assert.Zero(t, again.Drift(), "second pass finds nothing")
		})
	}
}

func TestReconcile_ReportCounts(t *testing.T) {
	f := newFixture(t)
	docs := f.seedDocs(t, problems(0, 10))
	f.seedPoints(t, problems(5, 15))

	// One point carries a stale hash
	stale := problem(6)
	stale.Name = "outdated"
	f.seedPoints(t, []core.Record{stale})

	rep, err := f.reconciler.Reconcile(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, 10, rep.Documents)
	assert.Equal(t, 10, rep.Points)
	assert.Equal(t, 5, rep.Missing)
	assert.Equal(t, 1, rep.Stale)
	assert.Equal(t, 5, rep.Orphaned)
	assert.Equal(t, 6, rep.Repaired)
	assert.Equal(t, 5, rep.Deleted)
	assert.Equal(t, expectedPoints(docs), f.pointIDs(t))
}

func TestReconcile_HealsWriterIndexFailure(t *testing.T) {
	f := newFixture(t)
	recs := problems(0, 100)
	broken := core.IDOf(recs[99])
	f.index.setFailing(broken)

	res, err := f.writer.Write(context.Background(), core.KindProblem, recs)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Docs.Succeeded)
	assert.Equal(t, 99, res.Index.Succeeded)
	assert.Len(t, f.pointIDs(t), 99)

	f.index.setFailing()
	rep, err := f.reconciler.Reconcile(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Missing)
	assert.Equal(t, 1, rep.Repaired)
	assert.Len(t, f.pointIDs(t), 100)

	_, err = f.stores.Pending.GetPending(context.Background(), broken)
	assert.ErrorIs(t, err, storage.ErrNotFound, "the pending item is cleared")
}

func TestReconcile_BackoffThenQuarantine(t *testing.T) {
	f := newFixture(t)
	docs := f.seedDocs(t, problems(0, 3))
	broken := docs[1].ID
	f.index.setFailing(broken)
	ctx := context.Background()
	policy := DefaultConfig().Repair

	rep, err := f.reconciler.Reconcile(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Repaired)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []string{docs[1].Key}, rep.FailedKeys)

	item, err := f.stores.Pending.GetPending(ctx, broken)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Attempts)
	assert.False(t, item.Dead)
	assert.Equal(t, policy.Delay(1), item.NextAttempt.Sub(item.LastAttempt))

	// Not due yet: deferred, not retried
	rep, err = f.reconciler.Reconcile(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deferred)
	assert.Zero(t, rep.Failed)

	for attempt := 2; attempt <= policy.MaxAttempts; attempt++ {
		f.clock.Advance(policy.MaxDelay)
		rep, err = f.reconciler.Reconcile(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Failed, "attempt %d", attempt)
	}

	item, err = f.stores.Pending.GetPending(ctx, broken)
	require.NoError(t, err)
	assert.True(t, item.Dead)
	assert.Equal(t, policy.MaxAttempts, item.Attempts)

	alerts := f.alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.CodePersistentFailure, alerts[0].Code)
	assert.Equal(t, scope, alerts[0].Scope)
	assert.Equal(t, []string{docs[1].Key}, alerts[0].Keys)

	// Quarantined: never retried, no more alerts
	f.clock.Advance(24 * time.Hour)
	rep, err = f.reconciler.Reconcile(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Quarantined)
	assert.Zero(t, rep.Failed)
	assert.Len(t, f.alerts.Alerts(), 1)

	// A content change lifts the quarantine
	f.index.setFailing()
	changed := problem(1)
	changed.Name = "renamed"
	f.seedDocs(t, []core.Record{changed})
	rep, err = f.reconciler.Reconcile(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Repaired)
	_, err = f.stores.Pending.GetPending(ctx, broken)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReconcile_Requeue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	docs := f.seedDocs(t, problems(0, 1))
	require.NoError(t, f.stores.Pending.SavePending(ctx, &storage.PendingItem{
		ID: docs[0].ID, Op: storage.OpIndex, ContentHash: docs[0].ContentHash,
		Attempts: 5, Dead: true, FirstSeen: t0, NextAttempt: t0,
	}))

	rep, err := f.reconciler.Reconcile(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Quarantined)

	n, err := f.reconciler.Requeue(ctx, docs[0].ID, "problem/STR/STR_99_99")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rep, err = f.reconciler.Reconcile(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Repaired)
}

func TestReconcile_ResolvesStalePendingItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recs := problems(0, 2)
	f.seedDocs(t, recs)
	f.seedPoints(t, recs)
	require.NoError(t, f.stores.Pending.SavePending(ctx, &storage.PendingItem{
		ID: core.IDOf(recs[0]), Op: storage.OpIndex, ContentHash: core.ContentHash(recs[0]), NextAttempt: t0,
	}))

	rep, err := f.reconciler.Reconcile(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Resolved)

	items, err := f.stores.Pending.ListPending(ctx, scope)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestReconcile_NonEmbeddableScopePrunesEverything(t *testing.T) {
	f := newFixture(t)
	actions := core.Scope{Domain: core.DomainStress, Kind: core.KindNextAction}
	_, err := f.stores.Index.UpsertPoints(context.Background(), &storage.Point{
		ID: "next_action/STR/STR_ACT_01", Vector: mock.Vector("x", 8), ContentHash: "abc",
	})
	require.NoError(t, err)

	rep, err := f.reconciler.Reconcile(context.Background(), actions)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deleted)
	assert.Zero(t, rep.Documents)
}

func TestReconcile_LeaseHeldElsewhere(t *testing.T) {
	f := newFixture(t, WithLease(blockingLease{}))
	_, err := f.reconciler.Reconcile(context.Background(), scope)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	reports, err := f.reconciler.ReconcileAll(context.Background(), []core.Scope{scope})
	require.NoError(t, err, "a busy scope is not a failure")
	assert.Nil(t, reports[0])
}

func TestReconcileAll_ScopesInOrder(t *testing.T) {
	f := newFixture(t)
	f.seedDocs(t, problems(0, 3))
	anxiety := core.Scope{Domain: core.DomainAnxiety, Kind: core.KindProblem}

	reports, err := f.reconciler.ReconcileAll(context.Background(), []core.Scope{scope, anxiety})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, scope, reports[0].Scope)
	assert.Equal(t, 3, reports[0].Repaired)
	assert.Equal(t, anxiety, reports[1].Scope)
	assert.Zero(t, reports[1].Documents)
}

func TestReconcile_ReportHook(t *testing.T) {
	var got []*Report
	var mu sync.Mutex
	f := newFixture(t, WithReportHook(func(_ context.Context, r *Report) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r)
	}))
	_, err := f.reconciler.Reconcile(context.Background(), scope)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReconcile_ClosedStoreFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.stores.Close())

	_, err := f.reconciler.Reconcile(context.Background(), scope)
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.Equal(t, StateIdle, f.reconciler.State(scope))
}
