package core

import (
	"fmt"
	"strings"
)

// Kind identifies one of the six entity types in the knowledge base.
type Kind string

const (
	KindProblem         Kind = "problem"
	KindAssessment      Kind = "assessment"
	KindSuggestion      Kind = "suggestion"
	KindFeedbackPrompt  Kind = "feedback_prompt"
	KindNextAction      Kind = "next_action"
	KindTrainingExample Kind = "training_example"
)

// AllKinds lists every kind in dependency order: kinds that others
// reference come first.
var AllKinds = []Kind{
	KindProblem,
	KindNextAction,
	KindAssessment,
	KindSuggestion,
	KindFeedbackPrompt,
	KindTrainingExample,
}

// EmbeddableKinds lists the kinds that are mirrored into the vector index.
var EmbeddableKinds = []Kind{
	KindProblem,
	KindAssessment,
	KindSuggestion,
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindProblem, KindAssessment, KindSuggestion,
		KindFeedbackPrompt, KindNextAction, KindTrainingExample:
		return true
	}
	return false
}

// Embeddable reports whether records of this kind get a vector index entry.
func (k Kind) Embeddable() bool {
	switch k {
	case KindProblem, KindAssessment, KindSuggestion:
		return true
	}
	return false
}

// Root reports whether the kind has no outgoing references and can be
// written before every other kind.
func (k Kind) Root() bool {
	return k == KindProblem || k == KindNextAction
}

// code is the short tag used in synthesized keys.
func (k Kind) code() string {
	switch k {
	case KindProblem:
		return "PRB"
	case KindAssessment:
		return "ASM"
	case KindSuggestion:
		return "SUG"
	case KindFeedbackPrompt:
		return "FBP"
	case KindNextAction:
		return "ACT"
	case KindTrainingExample:
		return "TRN"
	}
	return "UNK"
}

// ParseKind parses a kind name. Hyphens, spaces and case are ignored, so
// "Feedback Prompt" and "feedback-prompt" both resolve to KindFeedbackPrompt.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	k := Kind(norm)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}
