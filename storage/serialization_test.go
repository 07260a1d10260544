package storage

import (
	"testing"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointRoundTrip(t *testing.T) {
	p := &Point{
		ID:          "problem/STR/STR_04_08",
		Vector:      []float32{0.5, -0.25, 0, 1},
		ContentHash: "00ff00ff00ff00ff",
		Payload:     map[string]string{"domain": "STR", "kind": "problem"},
	}
	got, err := UnmarshalPoint(MarshalPoint(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPointWithoutPayload(t *testing.T) {
	p := &Point{ID: "problem/STR/STR_04_08", Vector: []float32{1}}
	got, err := UnmarshalPoint(MarshalPoint(p))
	require.NoError(t, err)
	assert.Nil(t, got.Payload)
	assert.Equal(t, p.Vector, got.Vector)
}

func TestPendingItemRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	item := &PendingItem{
		ID:          "suggestion/ANX/ANX_01_02_S01",
		Op:          OpIndex,
		Reason:      "missing_point",
		Attempts:    2,
		ContentHash: "abc",
		FirstSeen:   now,
		LastAttempt: now.Add(time.Minute),
		NextAttempt: now.Add(5 * time.Minute),
		Dead:        true,
	}
	got, err := UnmarshalPendingItem(MarshalPendingItem(item))
	require.NoError(t, err)
	assert.Equal(t, item, got)
}

func TestPendingItemZeroTimes(t *testing.T) {
	item := &PendingItem{ID: "problem/STR/STR_01_01", Op: OpDelete}
	got, err := UnmarshalPendingItem(MarshalPendingItem(item))
	require.NoError(t, err)
	assert.True(t, got.FirstSeen.IsZero())
	assert.True(t, got.NextAttempt.IsZero())
	assert.True(t, got.Due(time.Now()))
}

func TestUnmarshalTruncated(t *testing.T) {
	data := MarshalPendingItem(&PendingItem{ID: "problem/STR/STR_01_01", Op: OpIndex, Reason: "stale"})
	_, err := UnmarshalPendingItem(data[:len(data)/2])
	assert.ErrorIs(t, err, ErrSerializationFailed)

	_, err = UnmarshalPoint(nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestDocumentRoundTrip(t *testing.T) {
	doc, err := core.NewDocument(&core.Problem{
		Base:          core.Base{Domain: core.DomainStress},
		CategoryID:    "STR_04",
		SubCategoryID: "STR_04_08",
		Name:          "Work overload",
	})
	require.NoError(t, err)

	data, err := MarshalDocument(doc)
	require.NoError(t, err)
	got, err := UnmarshalDocument(data)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, "Work overload", got.Record.(*core.Problem).Name)

	_, err = UnmarshalDocument([]byte("{"))
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestPendingDue(t *testing.T) {
	now := time.Now()
	item := &PendingItem{NextAttempt: now.Add(time.Minute)}
	assert.False(t, item.Due(now))
	assert.True(t, item.Due(now.Add(time.Minute)))
	item.Dead = true
	assert.False(t, item.Due(now.Add(time.Hour)))
}
