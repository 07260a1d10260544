package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFromContent(t *testing.T) {
	assert.Equal(t, IDFromContent("test content"), IDFromContent("test content"))
	assert.Equal(t, IDFromContent(""), IDFromContent(""))
	assert.NotEqual(t, IDFromContent("content1"), IDFromContent("content2"))
	assert.Len(t, IDFromContent("x").Hex(), 16)
}

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name   string
		domain Domain
		raw    string
		want   string
	}{
		{name: "already canonical", domain: DomainStress, raw: "STR_04_08", want: "STR_04_08"},
		{name: "lower case with hyphens", domain: DomainStress, raw: "str-4-8", want: "STR_04_08"},
		{name: "dots and spaces", domain: DomainStress, raw: " Str 04.08 ", want: "STR_04_08"},
		{name: "missing prefix", domain: DomainAnxiety, raw: "4.8", want: "ANX_04_08"},
		{name: "glued prefix", domain: DomainSleep, raw: "slp04", want: "SLP_04"},
		{name: "alphanumeric token", domain: DomainStress, raw: "str_04_08_q3", want: "STR_04_08_Q03"},
		{name: "other domain prefix kept", domain: DomainStress, raw: "anx_01", want: "ANX_01"},
		{name: "non-numeric suffix", domain: DomainDepression, raw: "act continue", want: "DEP_ACT_CONTINUE"},
		{name: "empty", domain: DomainStress, raw: "  ", want: ""},
		{name: "leading zeros collapse", domain: DomainStress, raw: "STR_004_8", want: "STR_04_08"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalID(tt.domain, tt.raw))
		})
	}
}

func TestCanonicalID_Idempotent(t *testing.T) {
	for _, raw := range []string{"str-4-8", "q3", "STR 12 1 a7", "act_01"} {
		once := CanonicalID(DomainStress, raw)
		assert.Equal(t, once, CanonicalID(DomainStress, once), raw)
	}
}

func TestLooksLikeSubCategoryID(t *testing.T) {
	assert.True(t, LooksLikeSubCategoryID(DomainStress, "str 4 8"))
	assert.True(t, LooksLikeSubCategoryID(DomainStress, "STR_04_08"))
	assert.False(t, LooksLikeSubCategoryID(DomainStress, "work stress"))
	assert.False(t, LooksLikeSubCategoryID(DomainStress, "ANX_04_08"))
	assert.False(t, LooksLikeSubCategoryID(DomainStress, "STR"))
	assert.False(t, LooksLikeSubCategoryID(DomainStress, "STR_04"), "category level")
	assert.False(t, LooksLikeSubCategoryID(DomainStress, "STR_04_08_01"))
}

func TestSyntheticID(t *testing.T) {
	assert.Equal(t, "STR_SYN_PRB_0007", SyntheticID(DomainStress, KindProblem, 7))
	assert.Equal(t, SyntheticID(DomainSleep, KindAssessment, 12), SyntheticID(DomainSleep, KindAssessment, 12))
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, "STR_04", CategoryOf("STR_04_08"))
	assert.Equal(t, "STR_04", CategoryOf("STR_04"))
	assert.Equal(t, "STR", CategoryOf("STR"))
}

func TestDocID(t *testing.T) {
	id := NewDocID(KindAssessment, DomainStress, "STR_04_08_Q01")
	assert.Equal(t, DocID("assessment/STR/STR_04_08_Q01"), id)

	kind, domain, key, err := id.Parts()
	require.NoError(t, err)
	assert.Equal(t, KindAssessment, kind)
	assert.Equal(t, DomainStress, domain)
	assert.Equal(t, "STR_04_08_Q01", key)
	assert.Equal(t, Scope{Domain: DomainStress, Kind: KindAssessment}, id.Scope())

	_, err = ParseDocID("bogus/STR/X")
	assert.ErrorIs(t, err, ErrInvalidDocID)
	_, err = ParseDocID("problem/STR")
	assert.ErrorIs(t, err, ErrInvalidDocID)
}
