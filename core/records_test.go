package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProblem() *Problem {
	return &Problem{
		Base: Base{
			Domain: DomainStress,
			Lineage: Lineage{
				SourceFile:  "kb.xlsx",
				SheetName:   "Problems",
				Row:         2,
				ProcessedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			},
		},
		CategoryID:    "STR_04",
		SubCategoryID: "STR_04_08",
		Name:          "Work deadlines",
		Description:   "Pressure from deadlines at work",
	}
}

func TestKinds(t *testing.T) {
	for _, k := range AllKinds {
		rec, err := NewRecord(k)
		require.NoError(t, err)
		assert.Equal(t, k, rec.Kind())

		parsed, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	k, err := ParseKind("Feedback Prompt")
	require.NoError(t, err)
	assert.Equal(t, KindFeedbackPrompt, k)

	_, err = ParseKind("journal")
	assert.ErrorIs(t, err, ErrUnknownKind)

	assert.True(t, KindProblem.Embeddable())
	assert.False(t, KindNextAction.Embeddable())
	assert.True(t, KindNextAction.Root())
	assert.False(t, KindAssessment.Root())
}

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain("str")
	require.NoError(t, err)
	assert.Equal(t, DomainStress, d)

	d, err = ParseDomain("Relationships")
	require.NoError(t, err)
	assert.Equal(t, DomainRelationships, d)

	_, err = ParseDomain("finance")
	assert.ErrorIs(t, err, ErrUnknownDomain)
}

func TestEnumParsing(t *testing.T) {
	assert.Equal(t, ResponseMultipleChoice, ParseResponseType("Multiple Choice"))
	assert.Equal(t, ResponseYesNo, ParseResponseType("yes/no"))
	assert.Equal(t, ResponseScale, ParseResponseType(" SCALE "))
	assert.Equal(t, ResponseUnrecognized, ParseResponseType("slider"))
	assert.False(t, ResponseUnrecognized.Recognized())
	assert.True(t, ResponseText.Recognized())

	assert.Equal(t, StagePostSuggestion, ParseStage("post-suggestion"))
	assert.Equal(t, StageUnrecognized, ParseStage(""))

	assert.Equal(t, ActionScheduleFollowup, ParseActionType("Schedule Followup"))
	assert.Equal(t, ActionUnrecognized, ParseActionType("reboot"))
}

func TestReferences(t *testing.T) {
	a := &Assessment{Base: Base{Domain: DomainStress}, QuestionID: "STR_04_08_Q01", SubCategoryID: "STR_04_08"}
	refs := References(a)
	require.Len(t, refs, 1)
	assert.Equal(t, FieldSubCategoryID, refs[0].Field)
	assert.Equal(t, DocID("problem/STR/STR_04_08"), refs[0].Target)

	fp := &FeedbackPrompt{Base: Base{Domain: DomainStress}, PromptID: "STR_FB_01", NextAction: "STR_ACT_01"}
	refs = References(fp)
	require.Len(t, refs, 1)
	assert.Equal(t, DocID("next_action/STR/STR_ACT_01"), refs[0].Target)

	te := &TrainingExample{Base: Base{Domain: DomainStress}, ID: "STR_TR_01", Problem: "feeling overwhelmed"}
	assert.Empty(t, References(te))
	te.ProblemRef = "STR_04_08"
	assert.Len(t, References(te), 1)

	assert.Empty(t, References(sampleProblem()))
}

func TestContentHash_IgnoresLineage(t *testing.T) {
	p1 := sampleProblem()
	p2 := sampleProblem()
	p2.Lineage.ProcessedAt = p2.Lineage.ProcessedAt.Add(time.Hour)
	p2.Lineage.Row = 99
	assert.Equal(t, ContentHash(p1), ContentHash(p2))

	p2.Description = "changed"
	assert.NotEqual(t, ContentHash(p1), ContentHash(p2))
}

func TestEmbeddingText(t *testing.T) {
	assert.Equal(t, "Work deadlines\nPressure from deadlines at work", EmbeddingText(sampleProblem()))
	assert.Equal(t, "Try a short walk", EmbeddingText(&Suggestion{SuggestionText: "Try a short walk"}))
	assert.Empty(t, EmbeddingText(&NextAction{ActionID: "STR_ACT_01"}))
}

func TestDocumentJSONRoundTrip(t *testing.T) {
	doc, err := NewDocument(sampleProblem())
	require.NoError(t, err)
	doc.UpdatedAt = time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var decoded Document
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, doc.ID, decoded.ID)
	assert.Equal(t, doc.ContentHash, decoded.ContentHash)
	assert.True(t, doc.UpdatedAt.Equal(decoded.UpdatedAt))

	p, ok := decoded.Record.(*Problem)
	require.True(t, ok)
	assert.Equal(t, "Work deadlines", p.Name)
	assert.Equal(t, DomainStress, p.Domain)
	assert.True(t, doc.ProcessedAt().Equal(decoded.ProcessedAt()))
}

func TestNewDocument_Errors(t *testing.T) {
	_, err := NewDocument(nil)
	assert.ErrorIs(t, err, ErrNilRecord)

	_, err = NewDocument(&Problem{Base: Base{Domain: DomainStress}})
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestLineageCompleteness(t *testing.T) {
	full := Lineage{}
	imputed := Lineage{Imputed: []string{FieldCluster}}
	synthetic := Lineage{Synthetic: true, Imputed: []string{FieldCluster}}
	assert.Greater(t, full.Completeness(), imputed.Completeness())
	assert.Greater(t, imputed.Completeness(), synthetic.Completeness())
}
