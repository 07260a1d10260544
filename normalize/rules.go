package normalize

import (
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/poiesic/kbsync/core"
	"gopkg.in/yaml.v3"
)

// FieldType selects the cleaning and null policy of a field.
type FieldType string

const (
	// TypeKey is the natural key. Null keys are synthesized.
	TypeKey FieldType = "key"
	// TypeIdentifier is a non-key identifier. It is canonicalized; nulls stay empty
	// unless they can be derived.
	TypeIdentifier FieldType = "identifier"
	// TypeReference is a foreign key. It is canonicalized; nulls stay empty.
	TypeReference FieldType = "reference"
	// TypeText is free text. Nulls stay empty.
	TypeText FieldType = "text"
	// TypeCategorical is a label. Nulls become Rules.UnknownValue.
	TypeCategorical FieldType = "categorical"
	// TypeNumeric is a number. Nulls take the median of the category group.
	TypeNumeric FieldType = "numeric"
	// TypeEnum is a closed set. Unknown values become the unrecognized variant.
	TypeEnum FieldType = "enum"
	// TypeURI is an optional link.
	TypeURI FieldType = "uri"
)

// Case is a casing rule for text fields.
type Case string

const (
	CaseKeep  Case = ""
	CaseLower Case = "lower"
	CaseUpper Case = "upper"
	CaseTitle Case = "title"
)

// FieldPolicy is the cleaning policy of one field.
type FieldPolicy struct {
	Type FieldType `yaml:"type"`
	Case Case      `yaml:"case"`

	// Critical fields count toward the critical-null ratio of the quality score.
	Critical bool `yaml:"critical"`
}

// Rules is the full cleaning configuration. A Normalizer never mutates it,
// so different rule sets can run side by side.
type Rules struct {
	// NullTokens are cell values treated as null, compared case-insensitively
	// after whitespace cleanup. The empty string is always null.
	NullTokens []string `yaml:"null_tokens"`

	// UnknownValue replaces null categorical values.
	UnknownValue string `yaml:"unknown_value"`

	// EnumAliases maps folded enum spellings to canonical tokens, for
	// example "mcq" to "multiple_choice".
	EnumAliases map[string]string `yaml:"enum_aliases"`

	// TimeLayouts are tried in order for processed_at values.
	TimeLayouts []string `yaml:"time_layouts"`

	// Fields holds the per-kind field policies.
	Fields map[core.Kind]map[string]FieldPolicy `yaml:"fields"`
}

// DefaultRules returns the cleaning policy of the knowledge base exports.
func DefaultRules() *Rules {
	key := FieldPolicy{Type: TypeKey}
	ref := FieldPolicy{Type: TypeReference}
	text := FieldPolicy{Type: TypeText}
	critical := FieldPolicy{Type: TypeText, Critical: true}
	cluster := FieldPolicy{Type: TypeCategorical, Case: CaseTitle}

	return &Rules{
		NullTokens:   []string{"n/a", "na", "null", "none", "nil", "-", "--", "nan", "#n/a", "?"},
		UnknownValue: "Unknown",
		EnumAliases: map[string]string{
			"mcq":                string(core.ResponseMultipleChoice),
			"multiplechoice":     string(core.ResponseMultipleChoice),
			"choice":             string(core.ResponseMultipleChoice),
			"yesno":              string(core.ResponseYesNo),
			"boolean":            string(core.ResponseYesNo),
			"likert":             string(core.ResponseScale),
			"rating":             string(core.ResponseScale),
			"free_text":          string(core.ResponseText),
			"open":               string(core.ResponseText),
			"postsuggestion":     string(core.StagePostSuggestion),
			"after_suggestion":   string(core.StagePostSuggestion),
			"continue":           string(core.ActionContinueSame),
			"menu":               string(core.ActionShowProblemMenu),
			"end":                string(core.ActionEndSession),
			"followup":           string(core.ActionScheduleFollowup),
			"follow_up":          string(core.ActionScheduleFollowup),
			"schedule_follow_up": string(core.ActionScheduleFollowup),
		},
		TimeLayouts: []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02 15:04",
			"2006-01-02",
			"01/02/2006 15:04:05",
			"1/2/2006 15:04",
			"01/02/2006",
			"1/2/2006",
		},
		Fields: map[core.Kind]map[string]FieldPolicy{
			core.KindProblem: {
				core.FieldCategoryID:    {Type: TypeIdentifier},
				core.FieldSubCategoryID: key,
				core.FieldProblemName:   {Type: TypeText, Case: CaseTitle, Critical: true},
				core.FieldDescription:   text,
			},
			core.KindAssessment: {
				core.FieldQuestionID:    key,
				core.FieldSubCategoryID: {Type: TypeReference, Critical: true},
				core.FieldBatchID:       {Type: TypeCategorical, Case: CaseUpper},
				core.FieldQuestionText:  critical,
				core.FieldResponseType:  {Type: TypeEnum, Critical: true},
				core.FieldNextStep:      text,
				core.FieldCluster:       cluster,
				core.FieldWeight:        {Type: TypeNumeric},
			},
			core.KindSuggestion: {
				core.FieldSuggestionID:   key,
				core.FieldSubCategoryID:  {Type: TypeReference, Critical: true},
				core.FieldCluster:        cluster,
				core.FieldSuggestionText: critical,
				core.FieldResourceLink:   {Type: TypeURI},
				core.FieldPriority:       {Type: TypeNumeric},
			},
			core.KindFeedbackPrompt: {
				core.FieldPromptID:   key,
				core.FieldStage:      {Type: TypeEnum},
				core.FieldPromptText: critical,
				core.FieldNextAction: ref,
			},
			core.KindNextAction: {
				core.FieldActionID:   key,
				core.FieldActionType: {Type: TypeEnum, Critical: true},
			},
			core.KindTrainingExample: {
				core.FieldID:             key,
				core.FieldProblem:        text,
				core.FieldConversationID: text,
				core.FieldPrompt:         critical,
				core.FieldCompletion:     critical,
			},
		},
	}
}

// LoadRules reads a YAML rules file and lays it over DefaultRules. Lists
// in the file replace the defaults; enum aliases and field policies are
// merged entry by entry.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules %s: %w", path, err)
	}
	var loaded Rules
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse rules %s: %w", path, err)
	}

	rules := DefaultRules()
	if loaded.NullTokens != nil {
		rules.NullTokens = loaded.NullTokens
	}
	if loaded.UnknownValue != "" {
		rules.UnknownValue = loaded.UnknownValue
	}
	if loaded.TimeLayouts != nil {
		rules.TimeLayouts = loaded.TimeLayouts
	}
	maps.Copy(rules.EnumAliases, loaded.EnumAliases)
	for kind, fields := range loaded.Fields {
		if !kind.Valid() {
			return nil, fmt.Errorf("rules %s: %w: %q", path, core.ErrUnknownKind, string(kind))
		}
		for field, policy := range fields {
			if !policy.Type.valid() {
				return nil, fmt.Errorf("rules %s: %w: %s.%s has type %q", path, ErrInvalidRules, kind, field, policy.Type)
			}
			if rules.Fields[kind] == nil {
				rules.Fields[kind] = make(map[string]FieldPolicy)
			}
			rules.Fields[kind][field] = policy
		}
	}
	return rules, nil
}

func (t FieldType) valid() bool {
	switch t {
	case TypeKey, TypeIdentifier, TypeReference, TypeText, TypeCategorical, TypeNumeric, TypeEnum, TypeURI:
		return true
	}
	return false
}

// policy returns the policy of a field, defaulting to plain text.
func (r *Rules) policy(kind core.Kind, field string) FieldPolicy {
	if fields, ok := r.Fields[kind]; ok {
		if p, ok := fields[field]; ok {
			return p
		}
	}
	return FieldPolicy{Type: TypeText}
}
