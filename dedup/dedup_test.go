package dedup

import (
	"testing"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t1 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func problem(key, name string, at time.Time, imputed ...string) *core.Problem {
	return &core.Problem{
		Base: core.Base{
			Domain:  core.DomainStress,
			Lineage: core.Lineage{ProcessedAt: at, Imputed: imputed},
		},
		SubCategoryID: key,
		Name:          name,
	}
}

func TestDeduplicate_LatestTimestampWins(t *testing.T) {
	t2 := t1.Add(time.Hour)
	kept, dropped := Deduplicate([]core.Record{
		problem("STR_04_08", "newer", t2),
		problem("STR_04_08", "older", t1),
	})
	require.Len(t, kept, 1)
	assert.Equal(t, "newer", kept[0].(*core.Problem).Name)
	require.Len(t, dropped, 1)
	assert.Equal(t, "older", dropped[0].(*core.Problem).Name)

	kept, _ = Deduplicate([]core.Record{
		problem("STR_04_08", "older", t1),
		problem("STR_04_08", "newer", t2),
	})
	assert.Equal(t, "newer", kept[0].(*core.Problem).Name, "input order does not matter")
}

func TestDeduplicate_CompletenessTiebreak(t *testing.T) {
	kept, _ := Deduplicate([]core.Record{
		problem("STR_04_08", "complete", t1),
		problem("STR_04_08", "imputed", t1, core.FieldCategoryID),
	})
	assert.Equal(t, "complete", kept[0].(*core.Problem).Name)

	kept, _ = Deduplicate([]core.Record{
		problem("STR_04_08", "imputed", t1, core.FieldCategoryID),
		problem("STR_04_08", "complete", t1),
	})
	assert.Equal(t, "complete", kept[0].(*core.Problem).Name)
}

func TestDeduplicate_LastWinsOnFullTie(t *testing.T) {
	kept, dropped := Deduplicate([]core.Record{
		problem("STR_04_08", "first", t1),
		problem("STR_04_08", "second", t1),
	})
	assert.Equal(t, "second", kept[0].(*core.Problem).Name)
	assert.Len(t, dropped, 1)
}

func TestDeduplicate_KeysAreScopedByKindAndDomain(t *testing.T) {
	other := problem("STR_04_08", "anxiety", t1)
	other.Domain = core.DomainAnxiety
	action := &core.NextAction{Base: core.Base{Domain: core.DomainStress}, ActionID: "STR_04_08"}

	kept, dropped := Deduplicate([]core.Record{problem("STR_04_08", "stress", t1), other, action})
	assert.Len(t, kept, 3)
	assert.Empty(t, dropped)
}

func TestDeduplicate_Idempotent(t *testing.T) {
	input := []core.Record{
		problem("STR_01_01", "a", t1),
		problem("STR_01_02", "b", t1),
		problem("STR_01_01", "c", t1.Add(time.Minute)),
	}
	once, _ := Deduplicate(input)
	twice, dropped := Deduplicate(once)
	assert.Equal(t, once, twice)
	assert.Empty(t, dropped)
	assert.Equal(t, "STR_01_01", once[0].NaturalKey(), "first-appearance order")
}
