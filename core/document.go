package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Document is a record as held by the document store.
type Document struct {
	ID          DocID
	Kind        Kind
	Domain      Domain
	Key         string
	ContentHash string
	Record      Record
	UpdatedAt   time.Time
}

// NewDocument wraps a record in its storage envelope.
func NewDocument(r Record) (*Document, error) {
	if r == nil {
		return nil, ErrNilRecord
	}
	key := r.NaturalKey()
	if key == "" {
		return nil, ErrEmptyKey
	}
	return &Document{
		ID:          IDOf(r),
		Kind:        r.Kind(),
		Domain:      r.Common().Domain,
		Key:         key,
		ContentHash: ContentHash(r),
		Record:      r,
	}, nil
}

// ProcessedAt returns the lineage timestamp of the wrapped record.
func (d *Document) ProcessedAt() time.Time {
	if d.Record == nil {
		return time.Time{}
	}
	return d.Record.Common().Lineage.ProcessedAt
}

// contentFields lists a record's content in a fixed order. Lineage is
// excluded so that re-imports of unchanged content hash identically.
func contentFields(r Record) []string {
	switch v := r.(type) {
	case *Problem:
		return []string{v.CategoryID, v.SubCategoryID, v.Name, v.Description}
	case *Assessment:
		return []string{v.QuestionID, v.SubCategoryID, v.BatchID, v.QuestionText,
			string(v.ResponseType), v.NextStep, v.Cluster, formatFloat(v.Weight)}
	case *Suggestion:
		return []string{v.SuggestionID, v.SubCategoryID, v.Cluster, v.SuggestionText,
			v.ResourceLink, formatFloat(v.Priority)}
	case *FeedbackPrompt:
		return []string{v.PromptID, string(v.Stage), v.PromptText, v.NextAction}
	case *NextAction:
		return []string{v.ActionID, string(v.ActionType)}
	case *TrainingExample:
		return []string{v.ID, v.Problem, v.ProblemRef, v.ConversationID, v.Prompt, v.Completion}
	}
	return nil
}

// ContentHash returns the hex content hash of a record.
func ContentHash(r Record) string {
	fields := append([]string{string(r.Kind()), string(r.Common().Domain)}, contentFields(r)...)
	return IDFromContent(strings.Join(fields, "\x1f")).Hex()
}

// EmbeddingText returns the text embedded for the vector index, or "" for
// kinds that are not embedded.
func EmbeddingText(r Record) string {
	switch v := r.(type) {
	case *Problem:
		return joinNonEmpty(v.Name, v.Description)
	case *Assessment:
		return joinNonEmpty(v.QuestionText, v.Cluster)
	case *Suggestion:
		return joinNonEmpty(v.SuggestionText, v.Cluster)
	}
	return ""
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

type documentEnvelope struct {
	ID          DocID           `json:"id"`
	Kind        Kind            `json:"kind"`
	Domain      Domain          `json:"domain"`
	Key         string          `json:"key"`
	ContentHash string          `json:"content_hash"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Record      json.RawMessage `json:"record"`
}

// MarshalJSON encodes the document with its record inline.
func (d *Document) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(d.Record)
	if err != nil {
		return nil, err
	}
	return json.Marshal(documentEnvelope{
		ID:          d.ID,
		Kind:        d.Kind,
		Domain:      d.Domain,
		Key:         d.Key,
		ContentHash: d.ContentHash,
		UpdatedAt:   d.UpdatedAt,
		Record:      body,
	})
}

// UnmarshalJSON decodes a document, restoring the concrete record type
// from the kind field.
func (d *Document) UnmarshalJSON(data []byte) error {
	var env documentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	rec, err := NewRecord(env.Kind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := json.Unmarshal(env.Record, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	*d = Document{
		ID:          env.ID,
		Kind:        env.Kind,
		Domain:      env.Domain,
		Key:         env.Key,
		ContentHash: env.ContentHash,
		UpdatedAt:   env.UpdatedAt,
		Record:      rec,
	}
	return nil
}

// RecordJSON encodes only the record, which is what stores compare to
// decide whether an upsert changes anything.
func (d *Document) RecordJSON() ([]byte, error) {
	return json.Marshal(d.Record)
}
