package source

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/poiesic/kbsync/core"
	"gopkg.in/yaml.v3"
)

// SheetSchema describes how one entity kind is laid out in a source.
type SheetSchema struct {
	// Names are the accepted sheet names. Matching ignores case, spaces
	// and punctuation.
	Names []string `yaml:"names"`

	// Columns maps a field name to its accepted header aliases. The field
	// name itself is always accepted.
	Columns map[string][]string `yaml:"columns"`

	// Required lists fields whose column must be present.
	Required []string `yaml:"required"`
}

// Schema maps sheets to entity kinds and headers to fields.
type Schema struct {
	Sheets map[core.Kind]SheetSchema `yaml:"sheets"`

	// Ignore lists sheet names that are skipped without error.
	Ignore []string `yaml:"ignore"`
}

// DefaultSchema returns the layout used by the knowledge base exports.
func DefaultSchema() *Schema {
	return &Schema{
		Sheets: map[core.Kind]SheetSchema{
			core.KindProblem: {
				Names: []string{"Problems", "Problem", "Problem Taxonomy", "Taxonomy"},
				Columns: map[string][]string{
					core.FieldCategoryID:    {"Category ID", "Category"},
					core.FieldSubCategoryID: {"Sub Category ID", "Subcategory ID", "Sub Category", "Subcategory"},
					core.FieldProblemName:   {"Problem Name", "Name", "Problem"},
					core.FieldDescription:   {"Description", "Details"},
					core.FieldProcessedAt:   {"Processed At", "Updated At", "Timestamp"},
				},
				Required: []string{core.FieldSubCategoryID, core.FieldProblemName},
			},
			core.KindAssessment: {
				Names: []string{"Assessments", "Assessment", "Assessment Questions", "Questions"},
				Columns: map[string][]string{
					core.FieldQuestionID:    {"Question ID", "QID"},
					core.FieldSubCategoryID: {"Sub Category ID", "Subcategory ID", "Sub Category", "Subcategory"},
					core.FieldBatchID:       {"Batch ID", "Batch"},
					core.FieldQuestionText:  {"Question Text", "Question"},
					core.FieldResponseType:  {"Response Type", "Answer Type", "Type"},
					core.FieldNextStep:      {"Next Step"},
					core.FieldCluster:       {"Cluster"},
					core.FieldWeight:        {"Weight", "Score Weight"},
					core.FieldProcessedAt:   {"Processed At", "Updated At", "Timestamp"},
				},
				Required: []string{core.FieldQuestionID, core.FieldSubCategoryID, core.FieldQuestionText, core.FieldResponseType},
			},
			core.KindSuggestion: {
				Names: []string{"Suggestions", "Suggestion", "Therapeutic Suggestions"},
				Columns: map[string][]string{
					core.FieldSuggestionID:   {"Suggestion ID", "SID"},
					core.FieldSubCategoryID:  {"Sub Category ID", "Subcategory ID", "Sub Category", "Subcategory"},
					core.FieldCluster:        {"Cluster"},
					core.FieldSuggestionText: {"Suggestion Text", "Suggestion"},
					core.FieldResourceLink:   {"Resource Link", "Link", "URL", "Resource"},
					core.FieldPriority:       {"Priority", "Rank"},
					core.FieldProcessedAt:    {"Processed At", "Updated At", "Timestamp"},
				},
				Required: []string{core.FieldSuggestionID, core.FieldSubCategoryID, core.FieldSuggestionText},
			},
			core.KindFeedbackPrompt: {
				Names: []string{"Feedback Prompts", "Feedback Prompt", "Feedback"},
				Columns: map[string][]string{
					core.FieldPromptID:    {"Prompt ID"},
					core.FieldStage:       {"Stage"},
					core.FieldPromptText:  {"Prompt Text", "Prompt"},
					core.FieldNextAction:  {"Next Action", "Next Action ID"},
					core.FieldProcessedAt: {"Processed At", "Updated At", "Timestamp"},
				},
				Required: []string{core.FieldPromptID, core.FieldStage, core.FieldPromptText, core.FieldNextAction},
			},
			core.KindNextAction: {
				Names: []string{"Next Actions", "Next Action", "Actions"},
				Columns: map[string][]string{
					core.FieldActionID:    {"Action ID"},
					core.FieldActionType:  {"Action Type", "Type", "Action"},
					core.FieldProcessedAt: {"Processed At", "Updated At", "Timestamp"},
				},
				Required: []string{core.FieldActionID, core.FieldActionType},
			},
			core.KindTrainingExample: {
				Names: []string{"Training Examples", "Training Data", "Training", "Fine Tuning"},
				Columns: map[string][]string{
					core.FieldID:             {"ID", "Example ID"},
					core.FieldProblem:        {"Problem", "Problem ID"},
					core.FieldConversationID: {"Conversation ID", "Conversation"},
					core.FieldPrompt:         {"Prompt", "Input"},
					core.FieldCompletion:     {"Completion", "Output", "Response"},
					core.FieldProcessedAt:    {"Processed At", "Updated At", "Timestamp"},
				},
				Required: []string{core.FieldID, core.FieldPrompt, core.FieldCompletion},
			},
		},
		Ignore: []string{"README", "Notes", "Summary", "Instructions", "Changelog"},
	}
}

// LoadSchema reads a YAML schema file. Kinds it does not mention keep
// their default layout.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	var loaded Schema
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", path, err)
	}

	schema := DefaultSchema()
	for kind, ss := range loaded.Sheets {
		if !kind.Valid() {
			return nil, fmt.Errorf("schema %s: %w: %q", path, core.ErrUnknownKind, string(kind))
		}
		schema.Sheets[kind] = ss
	}
	if loaded.Ignore != nil {
		schema.Ignore = loaded.Ignore
	}
	return schema, nil
}

// Resolve maps a sheet name to its kind. ignored is true for sheets that
// should be skipped.
func (s *Schema) Resolve(sheetName string) (kind core.Kind, ignored bool, err error) {
	name := foldName(sheetName)
	for _, ig := range s.Ignore {
		if foldName(ig) == name {
			return "", true, nil
		}
	}
	for _, k := range core.AllKinds {
		ss, ok := s.Sheets[k]
		if !ok {
			continue
		}
		if foldName(string(k)) == name {
			return k, false, nil
		}
		for _, n := range ss.Names {
			if foldName(n) == name {
				return k, false, nil
			}
		}
	}
	return "", false, fmt.Errorf("%w: %q", ErrUnknownSheet, sheetName)
}

// Binding resolves a sheet's header against a kind's columns.
type Binding struct {
	Kind    core.Kind
	columns map[string]int
}

// Bind matches the sheet header to the kind's fields. A missing required
// column is a SchemaError.
func (s *Schema) Bind(kind core.Kind, sheet *Sheet) (*Binding, error) {
	ss, ok := s.Sheets[kind]
	if !ok {
		return nil, &SchemaError{File: sheet.File, Sheet: sheet.Name, Err: fmt.Errorf("%w: %s", core.ErrUnknownKind, kind)}
	}
	if len(sheet.Header) == 0 {
		return nil, &SchemaError{File: sheet.File, Sheet: sheet.Name, Err: ErrEmptySheet}
	}

	headers := make(map[string]int, len(sheet.Header))
	for i, h := range sheet.Header {
		key := foldName(h)
		if _, dup := headers[key]; !dup && key != "" {
			headers[key] = i
		}
	}

	b := &Binding{Kind: kind, columns: make(map[string]int)}
	for field, aliases := range ss.Columns {
		candidates := append([]string{field}, aliases...)
		for _, c := range candidates {
			if i, ok := headers[foldName(c)]; ok {
				b.columns[field] = i
				break
			}
		}
	}

	var missing []string
	for _, field := range ss.Required {
		if _, ok := b.columns[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{
			File:  sheet.File,
			Sheet: sheet.Name,
			Err:   fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", ")),
		}
	}
	return b, nil
}

// Has reports whether the sheet has a column for field.
func (b *Binding) Has(field string) bool {
	_, ok := b.columns[field]
	return ok
}

// Value returns the raw cell for field in row. Absent columns and short
// rows read as "".
func (b *Binding) Value(row []string, field string) string {
	i, ok := b.columns[field]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// foldName reduces a sheet or header name to lower-case letters and digits.
func foldName(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
