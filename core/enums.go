package core

import "strings"

// ResponseType describes how an assessment question is answered.
type ResponseType string

const (
	ResponseScale          ResponseType = "scale"
	ResponseText           ResponseType = "text"
	ResponseMultipleChoice ResponseType = "multiple_choice"
	ResponseYesNo          ResponseType = "yes_no"
	ResponseUnrecognized   ResponseType = "unrecognized"
)

// Stage is the point in a session at which a feedback prompt is shown.
type Stage string

const (
	StagePostSuggestion Stage = "post_suggestion"
	StageOngoing        Stage = "ongoing"
	StageUnrecognized   Stage = "unrecognized"
)

// ActionType is the follow-up behavior attached to a next action.
type ActionType string

const (
	ActionContinueSame     ActionType = "continue_same"
	ActionShowProblemMenu  ActionType = "show_problem_menu"
	ActionEndSession       ActionType = "end_session"
	ActionEscalate         ActionType = "escalate"
	ActionScheduleFollowup ActionType = "schedule_followup"
	ActionUnrecognized     ActionType = "unrecognized"
)

var (
	responseTypes = []ResponseType{ResponseScale, ResponseText, ResponseMultipleChoice, ResponseYesNo}
	stages        = []Stage{StagePostSuggestion, StageOngoing}
	actionTypes   = []ActionType{ActionContinueSame, ActionShowProblemMenu, ActionEndSession, ActionEscalate, ActionScheduleFollowup}
)

// EnumToken folds a raw enum value into the token form used by the enum
// constants: lower case, with spaces, hyphens and slashes as underscores.
func EnumToken(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

// ParseResponseType maps raw text to a ResponseType, falling back to
// ResponseUnrecognized.
func ParseResponseType(raw string) ResponseType {
	return parseEnum(raw, responseTypes, ResponseUnrecognized)
}

// ParseStage maps raw text to a Stage, falling back to StageUnrecognized.
func ParseStage(raw string) Stage {
	return parseEnum(raw, stages, StageUnrecognized)
}

// ParseActionType maps raw text to an ActionType, falling back to
// ActionUnrecognized.
func ParseActionType(raw string) ActionType {
	return parseEnum(raw, actionTypes, ActionUnrecognized)
}

// Recognized reports whether the value is a member of the closed set.
func (r ResponseType) Recognized() bool {
	return r != ResponseUnrecognized && containsEnum(responseTypes, r)
}

// Recognized reports whether the value is a member of the closed set.
func (s Stage) Recognized() bool {
	return s != StageUnrecognized && containsEnum(stages, s)
}

// Recognized reports whether the value is a member of the closed set.
func (a ActionType) Recognized() bool {
	return a != ActionUnrecognized && containsEnum(actionTypes, a)
}

func parseEnum[T ~string](raw string, members []T, fallback T) T {
	token := EnumToken(raw)
	for _, m := range members {
		if string(m) == token {
			return m
		}
	}
	return fallback
}

func containsEnum[T ~string](members []T, v T) bool {
	for _, m := range members {
		if m == v {
			return true
		}
	}
	return false
}
