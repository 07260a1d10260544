package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/kbsync/ai/mock"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/retry"
	"github.com/poiesic/kbsync/storage"
	"github.com/poiesic/kbsync/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

// flakyIndex fails upserts for chosen IDs and whole calls on demand.
type flakyIndex struct {
	storage.VectorIndex

	mu        sync.Mutex
	failIDs   map[core.DocID]bool
	failCalls int
	upserts   int
}

func (f *flakyIndex) UpsertPoints(ctx context.Context, points ...*storage.Point) ([]storage.Outcome, error) {
	f.mu.Lock()
	f.upserts++
	if f.failCalls > 0 {
		f.failCalls--
		f.mu.Unlock()
		return nil, errors.New("index unavailable")
	}
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

// flakyDocs fails whole upsert calls on demand and counts calls.
type flakyDocs struct {
	storage.DocumentStore

	mu        sync.Mutex
	failCalls int
	calls     int
}

func (f *flakyDocs) UpsertDocuments(ctx context.Context, docs ...*core.Document) ([]storage.Outcome, error) {
	f.mu.Lock()
	f.calls++
	if f.failCalls != 0 {
		if f.failCalls > 0 {
			f.failCalls--
		}
		f.mu.Unlock()
		err := errors.New("connection reset")
		ids := make([]core.DocID, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		return storage.Failed(err, ids...), err
	}
	f.mu.Unlock()
	return f.DocumentStore.UpsertDocuments(ctx, docs...)
}

type countingProgress struct {
	mu           sync.Mutex
	total, count int
}

func (c *countingProgress) AddTotal(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += n
}

func (c *countingProgress) Increment(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count += n
}

type fixture struct {
	stores   *badger.Stores
	docs     *flakyDocs
	index    *flakyIndex
	embedder *mock.MockEmbedder
	writer   *Writer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	stores, err := badger.NewMemoryStores(8)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	f := &fixture{
		stores:   stores,
		docs:     &flakyDocs{DocumentStore: stores.Documents},
		index:    &flakyIndex{VectorIndex: stores.Index, failIDs: map[core.DocID]bool{}},
		embedder: mock.NewMockEmbedder(8),
	}
	opts = append([]Option{WithClock(retry.NewFakeClock(t0))}, opts...)
	w, err := New(f.docs, f.index, f.embedder, stores.Pending, opts...)
	require.NoError(t, err)
	t.Cleanup(w.Release)
	f.writer = w
	return f
}

func problems(n int, at time.Time) []core.Record {
	out := make([]core.Record, n)
	for i := range out {
		key := fmt.Sprintf("STR_%02d_%02d", i/50+1, i%50+1)
		out[i] = &core.Problem{
			Base:          core.Base{Domain: core.DomainStress, Lineage: core.Lineage{ProcessedAt: at}},
			CategoryID:    core.CategoryOf(key),
			SubCategoryID: key,
			Name:          "Problem " + key,
		}
	}
	return out
}

func (f *fixture) points(t *testing.T, ids ...core.DocID) map[core.DocID]string {
	t.Helper()
	got, err := f.stores.Index.LookupPoints(context.Background(), ids...)
	require.NoError(t, err)
	return got
}

func TestNew_RequiresCollaborators(t *testing.T) {
	stores, err := badger.NewMemoryStores(0)
	require.NoError(t, err)
	defer stores.Close()
	embedder := mock.NewMockEmbedder(4)

	_, err = New(nil, stores.Index, embedder, stores.Pending)
	assert.ErrorIs(t, err, ErrDocumentStoreRequired)
	_, err = New(stores.Documents, nil, embedder, stores.Pending)
	assert.ErrorIs(t, err, ErrVectorIndexRequired)
	_, err = New(stores.Documents, stores.Index, nil, stores.Pending)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = New(stores.Documents, stores.Index, embedder, nil)
	assert.ErrorIs(t, err, ErrPendingRepositoryRequired)

	cfg := DefaultConfig()
	cfg.ChunkSize = 0
	_, err = New(stores.Documents, stores.Index, embedder, stores.Pending, WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWrite_CommitsAndIndexes(t *testing.T) {
	progress := &countingProgress{}
	f := newFixture(t, WithProgress(progress))
	recs := problems(5, t0)

	res, err := f.writer.Write(context.Background(), core.KindProblem, recs)
	require.NoError(t, err)

	assert.Equal(t, StoreCounts{Attempted: 5, Succeeded: 5}, res.Docs)
	assert.Equal(t, StoreCounts{Attempted: 5, Succeeded: 5}, res.Index)
	assert.Len(t, res.Committed, 5)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 5, progress.total)
	assert.Equal(t, 5, progress.count)

	for _, rec := range recs {
		id := core.IDOf(rec)
		got, err := f.stores.Documents.GetDocuments(context.Background(), id)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, rec.(*core.Problem).Name, got[0].Record.(*core.Problem).Name)
		assert.Equal(t, core.ContentHash(rec), f.points(t, id)[id])
	}
}

func TestWrite_OneIndexFailureBecomesPending(t *testing.T) {
	f := newFixture(t)
	recs := problems(100, t0)
	broken := core.IDOf(recs[42])
	f.index.failIDs[broken] = true

	res, err := f.writer.Write(context.Background(), core.KindProblem, recs)
	require.NoError(t, err)

	assert.Equal(t, 100, res.Docs.Succeeded)
	assert.Equal(t, 99, res.Index.Succeeded)
	assert.Equal(t, 1, res.Index.Failed)
	assert.Equal(t, 1, res.Pending)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, broken, res.Failures[0].ID)
	assert.Equal(t, StoreIndex, res.Failures[0].Store)
	assert.Equal(t, []core.Scope{{Domain: core.DomainStress, Kind: core.KindProblem}}, res.PendingScopes())

	exists, err := f.stores.Documents.Exists(context.Background(), broken)
	require.NoError(t, err)
	assert.True(t, exists[broken], "the document write is not rolled back")

	item, err := f.stores.Pending.GetPending(context.Background(), broken)
	require.NoError(t, err)
	assert.Equal(t, storage.OpIndex, item.Op)
	assert.Equal(t, core.ContentHash(recs[42]), item.ContentHash)
	assert.Zero(t, item.Attempts)
	assert.Contains(t, item.Reason, "point rejected")
	assert.NotContains(t, f.points(t, broken), broken)
}

func TestWrite_Idempotent(t *testing.T) {
	f := newFixture(t)
	recs := problems(5, t0)
	ctx := context.Background()

	_, err := f.writer.Write(ctx, core.KindProblem, recs)
	require.NoError(t, err)
	embedded := f.embedder.TextCount()

	res, err := f.writer.Write(ctx, core.KindProblem, problems(5, t0))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Unchanged)
	assert.Equal(t, 5, res.Docs.Succeeded)
	assert.Equal(t, 5, res.Index.Skipped)
	assert.Zero(t, res.Index.Attempted)
	assert.Equal(t, embedded, f.embedder.TextCount(), "no re-embedding of unchanged content")

	page, err := f.stores.Index.ScanPoints(ctx, core.Scope{Domain: core.DomainStress, Kind: core.KindProblem}, "", 100)
	require.NoError(t, err)
	assert.Len(t, page.Refs, 5)
}

func TestWrite_ResolvesPendingOnSuccess(t *testing.T) {
	f := newFixture(t)
	recs := problems(3, t0)
	broken := core.IDOf(recs[1])
	f.index.failIDs[broken] = true
	ctx := context.Background()

	_, err := f.writer.Write(ctx, core.KindProblem, recs)
	require.NoError(t, err)

	f.index.failIDs = map[core.DocID]bool{}
	res, err := f.writer.Write(ctx, core.KindProblem, recs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index.Succeeded)
	assert.Equal(t, 2, res.Index.Skipped)

	_, err = f.stores.Pending.GetPending(ctx, broken)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWrite_DocumentFailureAbortsIndexing(t *testing.T) {
	f := newFixture(t)
	f.docs.failCalls = -1

	res, err := f.writer.Write(context.Background(), core.KindProblem, problems(3, t0))
	require.NoError(t, err)

	assert.Equal(t, StoreCounts{Attempted: 3, Failed: 3}, res.Docs)
	assert.Zero(t, res.Index.Attempted)
	assert.Empty(t, res.Committed)
	require.Len(t, res.Failures, 3)
	assert.Equal(t, StoreDocuments, res.Failures[0].Store)
	assert.Contains(t, res.Failures[0].Reason, "connection reset")
	assert.Equal(t, DefaultConfig().Retry.MaxAttempts, f.docs.calls)
	assert.Zero(t, f.embedder.CallCount(), "nothing is indexed that is not stored")
}

func TestWrite_TransientDocumentFailureRetried(t *testing.T) {
	f := newFixture(t)
	f.docs.failCalls = 1

	res, err := f.writer.Write(context.Background(), core.KindProblem, problems(3, t0))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Docs.Succeeded)
	assert.Equal(t, 2, f.docs.calls)
}

func TestWrite_TransientIndexFailureRetried(t *testing.T) {
	f := newFixture(t)
	f.index.failCalls = 1

	res, err := f.writer.Write(context.Background(), core.KindProblem, problems(3, t0))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Index.Succeeded)
	assert.Zero(t, res.Pending)
}

func TestWrite_EmbeddingFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	recs := problems(4, t0)
	f.embedder.FailOn(core.EmbeddingText(recs[2]), errors.New("model overloaded"))

	res, err := f.writer.Write(context.Background(), core.KindProblem, recs)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Docs.Succeeded)
	assert.Equal(t, 3, res.Index.Succeeded)
	assert.Equal(t, 1, res.Pending)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, core.IDOf(recs[2]), res.Failures[0].ID)
	assert.Contains(t, res.Failures[0].Reason, "model overloaded")
}

func TestWrite_Superseded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	newer := problems(1, t0.Add(time.Hour))
	newer[0].(*core.Problem).Name = "newer"

	_, err := f.writer.Write(ctx, core.KindProblem, newer)
	require.NoError(t, err)

	res, err := f.writer.Write(ctx, core.KindProblem, problems(1, t0))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Superseded)
	assert.Empty(t, res.Committed)

	got, err := f.stores.Documents.GetDocuments(ctx, core.IDOf(newer[0]))
	require.NoError(t, err)
	assert.Equal(t, "newer", got[0].Record.(*core.Problem).Name)
}

func TestWrite_NonEmbeddableKindSkipsIndex(t *testing.T) {
	f := newFixture(t)
	action := &core.NextAction{Base: core.Base{Domain: core.DomainStress}, ActionID: "STR_ACT_01", ActionType: core.ActionEndSession}

	res, err := f.writer.Write(context.Background(), core.KindNextAction, []core.Record{action})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Docs.Succeeded)
	assert.Zero(t, res.Index.Attempted)
	assert.Zero(t, f.embedder.CallCount())
}

func TestWrite_KindMismatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.writer.Write(context.Background(), core.KindAssessment, problems(1, t0))
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestWrite_EmptyKeyFailsRecordOnly(t *testing.T) {
	f := newFixture(t)
	recs := problems(2, t0)
	recs[0].(*core.Problem).SubCategoryID = ""

	res, err := f.writer.Write(context.Background(), core.KindProblem, recs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Docs.Succeeded)
	assert.Equal(t, 1, res.Docs.Failed)
}

func TestWrite_Chunking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkSize = 2
	cfg.EmbedBatchSize = 1
	f := newFixture(t, WithConfig(cfg))

	res, err := f.writer.Write(context.Background(), core.KindProblem, problems(5, t0))
	require.NoError(t, err)
	assert.Equal(t, 3, f.docs.calls)
	assert.Equal(t, 5, f.index.upserts)
	assert.Equal(t, 5, res.Index.Succeeded)
}

func TestWrite_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.writer.Write(ctx, core.KindProblem, problems(3, t0))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Docs.Failed)
	assert.Empty(t, res.Committed)

	exists, err := f.stores.Documents.Exists(context.Background(), core.IDOf(problems(1, t0)[0]))
	require.NoError(t, err)
	assert.Empty(t, exists)
}

func TestWrite_KindsRunConcurrently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], _ = f.writer.Write(ctx, core.KindProblem, problems(20, t0))
	}()
	go func() {
		defer wg.Done()
		actions := []core.Record{&core.NextAction{Base: core.Base{Domain: core.DomainStress}, ActionID: "STR_ACT_01"}}
		results[1], _ = f.writer.Write(ctx, core.KindNextAction, actions)
	}()
	wg.Wait()

	assert.Equal(t, 20, results[0].Docs.Succeeded)
	assert.Equal(t, 1, results[1].Docs.Succeeded)
}
