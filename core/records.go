package core

import "time"

// Field names shared by the schema, the normalizer and the validator.
const (
	FieldCategoryID     = "category_id"
	FieldSubCategoryID  = "sub_category_id"
	FieldProblemName    = "problem_name"
	FieldDescription    = "description"
	FieldQuestionID     = "question_id"
	FieldBatchID        = "batch_id"
	FieldQuestionText   = "question_text"
	FieldResponseType   = "response_type"
	FieldNextStep       = "next_step"
	FieldCluster        = "cluster"
	FieldWeight         = "weight"
	FieldSuggestionID   = "suggestion_id"
	FieldSuggestionText = "suggestion_text"
	FieldResourceLink   = "resource_link"
	FieldPriority       = "priority"
	FieldPromptID       = "prompt_id"
	FieldStage          = "stage"
	FieldPromptText     = "prompt_text"
	FieldNextAction     = "next_action"
	FieldActionID       = "action_id"
	FieldActionType     = "action_type"
	FieldID             = "id"
	FieldProblem        = "problem"
	FieldConversationID = "conversation_id"
	FieldPrompt         = "prompt"
	FieldCompletion     = "completion"
	FieldProcessedAt    = "processed_at"
)

// Lineage records where a record came from and how much of it was repaired.
type Lineage struct {
	SourceFile       string    `json:"source_file"`
	SheetName        string    `json:"sheet_name"`
	Row              int       `json:"row"`
	ProcessedAt      time.Time `json:"processed_at"`
	DataQualityScore float64   `json:"data_quality_score"`
	Imputed          []string  `json:"imputed,omitempty"`
	Synthetic        bool      `json:"synthetic,omitempty"`
}

// Completeness ranks the lineage for duplicate resolution. Higher is more
// complete: every imputed field and a synthesized key count against it.
func (l *Lineage) Completeness() int {
	score := -len(l.Imputed)
	if l.Synthetic {
		score--
	}
	return score
}

// Base carries the attributes every record kind shares.
type Base struct {
	Domain  Domain  `json:"domain"`
	Lineage Lineage `json:"lineage"`
}

// Common returns the shared attributes.
func (b *Base) Common() *Base { return b }

// Record is one of the six entity variants. The set is closed: only the
// types in this package implement it.
type Record interface {
	Kind() Kind
	NaturalKey() string
	Common() *Base
	isRecord()
}

// Problem is a sub-category of a domain's problem taxonomy.
type Problem struct {
	Base
	CategoryID    string `json:"category_id"`
	SubCategoryID string `json:"sub_category_id"`
	Name          string `json:"problem_name"`
	Description   string `json:"description"`
}

// Assessment is a question asked to narrow down a problem.
type Assessment struct {
	Base
	QuestionID    string       `json:"question_id"`
	SubCategoryID string       `json:"sub_category_id"`
	BatchID       string       `json:"batch_id"`
	QuestionText  string       `json:"question_text"`
	ResponseType  ResponseType `json:"response_type"`
	NextStep      string       `json:"next_step"`
	Cluster       string       `json:"cluster"`
	Weight        float64      `json:"weight"`
}

// Suggestion is a therapeutic suggestion attached to a problem.
type Suggestion struct {
	Base
	SuggestionID   string  `json:"suggestion_id"`
	SubCategoryID  string  `json:"sub_category_id"`
	Cluster        string  `json:"cluster"`
	SuggestionText string  `json:"suggestion_text"`
	ResourceLink   string  `json:"resource_link,omitempty"`
	Priority       float64 `json:"priority"`
}

// FeedbackPrompt asks the user how a suggestion worked and branches to a
// next action.
type FeedbackPrompt struct {
	Base
	PromptID   string `json:"prompt_id"`
	Stage      Stage  `json:"stage"`
	PromptText string `json:"prompt_text"`
	NextAction string `json:"next_action"`
}

// NextAction is a branch target of a feedback prompt.
type NextAction struct {
	Base
	ActionID   string     `json:"action_id"`
	ActionType ActionType `json:"action_type"`
}

// TrainingExample is a prompt/completion pair for fine-tuning.
// ProblemRef is set when Problem names a sub-category rather than free text.
type TrainingExample struct {
	Base
	ID             string `json:"id"`
	Problem        string `json:"problem"`
	ProblemRef     string `json:"problem_ref,omitempty"`
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt"`
	Completion     string `json:"completion"`
}

func (*Problem) Kind() Kind         { return KindProblem }
func (*Assessment) Kind() Kind      { return KindAssessment }
func (*Suggestion) Kind() Kind      { return KindSuggestion }
func (*FeedbackPrompt) Kind() Kind  { return KindFeedbackPrompt }
func (*NextAction) Kind() Kind      { return KindNextAction }
func (*TrainingExample) Kind() Kind { return KindTrainingExample }

func (r *Problem) NaturalKey() string         { return r.SubCategoryID }
func (r *Assessment) NaturalKey() string      { return r.QuestionID }
func (r *Suggestion) NaturalKey() string      { return r.SuggestionID }
func (r *FeedbackPrompt) NaturalKey() string  { return r.PromptID }
func (r *NextAction) NaturalKey() string      { return r.ActionID }
func (r *TrainingExample) NaturalKey() string { return r.ID }

func (*Problem) isRecord()         {}
func (*Assessment) isRecord()      {}
func (*Suggestion) isRecord()      {}
func (*FeedbackPrompt) isRecord()  {}
func (*NextAction) isRecord()      {}
func (*TrainingExample) isRecord() {}

// NewRecord returns an empty record of the given kind.
func NewRecord(kind Kind) (Record, error) {
	switch kind {
	case KindProblem:
		return &Problem{}, nil
	case KindAssessment:
		return &Assessment{}, nil
	case KindSuggestion:
		return &Suggestion{}, nil
	case KindFeedbackPrompt:
		return &FeedbackPrompt{}, nil
	case KindNextAction:
		return &NextAction{}, nil
	case KindTrainingExample:
		return &TrainingExample{}, nil
	}
	return nil, ErrUnknownKind
}

// IDOf returns the document ID of a record.
func IDOf(r Record) DocID {
	return NewDocID(r.Kind(), r.Common().Domain, r.NaturalKey())
}

// Reference is a foreign key held by a record.
type Reference struct {
	Field  string
	Target DocID
}

// References lists the foreign keys a record holds. Empty reference values
// are omitted; missing values are a required-field problem, not a
// reference problem.
func References(r Record) []Reference {
	d := r.Common().Domain
	var refs []Reference
	add := func(field string, kind Kind, key string) {
		if key != "" {
			refs = append(refs, Reference{Field: field, Target: NewDocID(kind, d, key)})
		}
	}
	switch v := r.(type) {
	case *Problem, *NextAction:
	case *Assessment:
		add(FieldSubCategoryID, KindProblem, v.SubCategoryID)
	case *Suggestion:
		add(FieldSubCategoryID, KindProblem, v.SubCategoryID)
	case *FeedbackPrompt:
		add(FieldNextAction, KindNextAction, v.NextAction)
	case *TrainingExample:
		add(FieldProblem, KindProblem, v.ProblemRef)
	}
	return refs
}
