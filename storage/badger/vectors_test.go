package badger

import (
	"context"
	"testing"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(id core.DocID, hash string, vec ...float32) *storage.Point {
	return &storage.Point{ID: id, ContentHash: hash, Vector: vec, Payload: map[string]string{"key": id.Key()}}
}

func TestVectorIndex_UpsertIsIdempotent(t *testing.T) {
	index := newStores(t).Index
	ctx := context.Background()

	outcomes, err := index.UpsertPoints(ctx, point("problem/STR/STR_01_01", "h1", 1, 0))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusWritten, outcomes[0].Status)

	outcomes, err = index.UpsertPoints(ctx, point("problem/STR/STR_01_01", "h1", 1, 0))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusUnchanged, outcomes[0].Status)

	outcomes, err = index.UpsertPoints(ctx, point("problem/STR/STR_01_01", "h2", 0, 1))
	require.NoError(t, err)
	assert.Equal(t, storage.StatusWritten, outcomes[0].Status)

	hashes, err := index.LookupPoints(ctx, "problem/STR/STR_01_01", "problem/STR/STR_01_02")
	require.NoError(t, err)
	assert.Equal(t, map[core.DocID]string{"problem/STR/STR_01_01": "h2"}, hashes)
}

func TestVectorIndex_DimensionCheck(t *testing.T) {
	stores, err := NewMemoryStores(2)
	require.NoError(t, err)
	defer stores.Close()
	ctx := context.Background()

	outcomes, err := stores.Index.UpsertPoints(ctx,
		point("problem/STR/STR_01_01", "h", 1, 0),
		point("problem/STR/STR_01_02", "h", 1, 0, 0),
		point("problem/STR/STR_01_03", "h"),
	)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusWritten, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[1].Err, storage.ErrDimensionMismatch)
	assert.ErrorIs(t, outcomes[2].Err, storage.ErrEmptyVector)

	_, err = stores.Index.Query(ctx, []float32{1, 0, 0}, storage.QueryFilter{}, 5)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestVectorIndex_ScanAndDelete(t *testing.T) {
	index := newStores(t).Index
	ctx := context.Background()

	_, err := index.UpsertPoints(ctx,
		point("problem/STR/STR_01_01", "a", 1, 0),
		point("problem/STR/STR_01_02", "b", 0, 1),
		point("assessment/STR/STR_01_01_Q01", "c", 1, 1),
	)
	require.NoError(t, err)

	page, err := index.ScanPoints(ctx, problemScope, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []storage.KeyRef{
		{ID: "problem/STR/STR_01_01", ContentHash: "a"},
		{ID: "problem/STR/STR_01_02", ContentHash: "b"},
	}, page.Refs)

	outcomes, err := index.DeletePoints(ctx, "problem/STR/STR_01_01", "problem/STR/STR_09_09")
	require.NoError(t, err)
	assert.Equal(t, []storage.Status{storage.StatusDeleted, storage.StatusNotFound}, statuses(outcomes))

	page, err = index.ScanPoints(ctx, problemScope, "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Refs, 1)
}

func TestVectorIndex_Query(t *testing.T) {
	index := newStores(t).Index
	ctx := context.Background()

	_, err := index.UpsertPoints(ctx,
		point("problem/STR/STR_01_01", "a", 1, 0),
		point("problem/STR/STR_01_02", "b", 0.6, 0.8),
		point("problem/ANX/ANX_01_01", "c", 1, 0),
		point("suggestion/STR/STR_01_01_S01", "d", 0, 1),
	)
	require.NoError(t, err)

	matches, err := index.Query(ctx, []float32{1, 0}, storage.QueryFilter{Domain: core.DomainStress}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, core.DocID("problem/STR/STR_01_01"), matches[0].ID)
	assert.Equal(t, core.DocID("problem/STR/STR_01_02"), matches[1].ID)
	assert.Equal(t, "STR_01_01", matches[0].Payload["key"])

	matches, err = index.Query(ctx, []float32{1, 0}, storage.QueryFilter{
		Kinds:    []core.Kind{core.KindProblem},
		MinScore: 0.9,
	}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = index.Query(ctx, []float32{1, 0}, storage.QueryFilter{}, 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = index.Query(ctx, []float32{1, 0}, storage.QueryFilter{}, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}
