package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/normalize"
)

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonMissingRequiredField Reason = "missing_required_field"
	ReasonUnresolvedReference  Reason = "unresolved_reference"
	ReasonInvalidEnum          Reason = "invalid_enum"
	ReasonMalformedURI         Reason = "malformed_uri"
)

var (
	// ErrLookupFailed indicates the prior-state lookup could not be served.
	ErrLookupFailed = errors.New("validate: reference lookup failed")

	// ErrInvalidWeights indicates quality score weights out of range.
	ErrInvalidWeights = errors.New("validate: weights must not be negative")
)

// Lookup answers whether documents were committed by earlier runs.
type Lookup interface {
	Exists(ctx context.Context, ids ...core.DocID) (map[core.DocID]bool, error)
}

// Origin identifies a source/sheet combination.
type Origin struct {
	SourceFile string `json:"source_file"`
	Sheet      string `json:"sheet"`
}

func (o Origin) String() string {
	return o.SourceFile + "#" + o.Sheet
}

// Sheet is the normalized output of one sheet.
type Sheet struct {
	Origin  Origin
	Kind    core.Kind
	Records []core.Record
	Stats   normalize.Stats
}

// Rejection explains why a record was dropped.
type Rejection struct {
	ID     core.DocID  `json:"id"`
	Kind   core.Kind   `json:"kind"`
	Domain core.Domain `json:"domain"`
	Key    string      `json:"key"`
	Reason Reason      `json:"reason"`
	Field  string      `json:"field"`
	Detail string      `json:"detail"`
	Origin Origin      `json:"origin"`
	Row    int         `json:"row"`
}

// Score is the quality score of one source/sheet combination.
type Score struct {
	Origin            Origin    `json:"origin"`
	Kind              core.Kind `json:"kind"`
	Rows              int       `json:"rows"`
	NullRatio         float64   `json:"null_ratio"`
	DuplicateRatio    float64   `json:"duplicate_ratio"`
	OrphanRatio       float64   `json:"orphan_ratio"`
	CriticalNullRatio float64   `json:"critical_null_ratio"`
	Value             float64   `json:"value"`
}

// Result partitions a batch.
type Result struct {
	Valid   []core.Record
	Invalid []Rejection
	Scores  []Score
}

// Weights blend the defect ratios of the quality score.
type Weights struct {
	Nulls      float64 `yaml:"nulls"`
	Duplicates float64 `yaml:"duplicates"`
	Orphans    float64 `yaml:"orphans"`
}

// Validate checks that no weight is negative.
func (w Weights) Validate() error {
	if w.Nulls < 0 || w.Duplicates < 0 || w.Orphans < 0 {
		return ErrInvalidWeights
	}
	return nil
}

// DefaultWeights is the documented scoring policy.
func DefaultWeights() Weights {
	return Weights{Nulls: 0.4, Duplicates: 0.3, Orphans: 0.3}
}

// Validator enforces field rules and cross-entity references.
type Validator struct {
	lookup  Lookup
	weights Weights
	logger  *slog.Logger
}

// Option is a functional option for configuring a Validator.
type Option func(*Validator) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) error {
		v.logger = logger
		return nil
	}
}

// WithWeights overrides the quality score weights.
func WithWeights(w Weights) Option {
	return func(v *Validator) error {
		if err := w.Validate(); err != nil {
			return err
		}
		v.weights = w
		return nil
	}
}

// New creates a Validator. lookup may be nil when there is no prior state.
func New(lookup Lookup, opts ...Option) (*Validator, error) {
	v := &Validator{
		lookup:  lookup,
		weights: DefaultWeights(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	v.logger = v.logger.With("component", "validator")
	return v, nil
}

type candidate struct {
	rec    core.Record
	sheet  int
	reject *Rejection
}

// Validate checks a whole import batch. All kinds must be passed together:
// references resolve against valid records of the batch first and against
// the Lookup second.
func (v *Validator) Validate(ctx context.Context, sheets []Sheet) (*Result, error) {
	var cands []*candidate
	for i, s := range sheets {
		for _, rec := range s.Records {
			c := &candidate{rec: rec, sheet: i}
			if field, reason, detail, ok := checkFields(rec); !ok {
				c.reject = v.rejection(rec, s.Origin, reason, field, detail)
			}
			cands = append(cands, c)
		}
	}

	// First pass: keys introduced by valid records of this batch
	introduced := make(map[core.DocID]bool)
	for _, c := range cands {
		if c.reject == nil {
			introduced[core.IDOf(c.rec)] = true
		}
	}

	var unresolved []core.DocID
	seen := make(map[core.DocID]bool)
	for _, c := range cands {
		if c.reject != nil {
			continue
		}
		for _, ref := range core.References(c.rec) {
			if !introduced[ref.Target] && !seen[ref.Target] {
				seen[ref.Target] = true
				unresolved = append(unresolved, ref.Target)
			}
		}
	}

	prior := map[core.DocID]bool{}
	if len(unresolved) > 0 && v.lookup != nil {
		found, err := v.lookup.Exists(ctx, unresolved...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
		}
		prior = found
	}

	// Second pass: dependents
	orphans := make([]int, len(sheets))
	for _, c := range cands {
		if c.reject != nil {
			continue
		}
		for _, ref := range core.References(c.rec) {
			if introduced[ref.Target] || prior[ref.Target] {
				continue
			}
			c.reject = v.rejection(c.rec, sheets[c.sheet].Origin, ReasonUnresolvedReference, ref.Field,
				fmt.Sprintf("%s does not exist in this batch or in committed state", ref.Target))
			orphans[c.sheet]++
			break
		}
	}

	res := &Result{}
	for i, s := range sheets {
		res.Scores = append(res.Scores, v.score(s, orphans[i]))
	}
	for _, c := range cands {
		if c.reject != nil {
			res.Invalid = append(res.Invalid, *c.reject)
			v.logger.Warn("record rejected",
				"kind", c.reject.Kind, "key", c.reject.Key, "reason", c.reject.Reason,
				"field", c.reject.Field, "source", c.reject.Origin.String(), "row", c.reject.Row,
				"detail", c.reject.Detail)
			continue
		}
		c.rec.Common().Lineage.DataQualityScore = res.Scores[c.sheet].Value
		res.Valid = append(res.Valid, c.rec)
	}

	v.logger.Info("batch validated",
		"sheets", len(sheets), "valid", len(res.Valid), "invalid", len(res.Invalid))
	return res, nil
}

func (v *Validator) rejection(rec core.Record, origin Origin, reason Reason, field, detail string) *Rejection {
	base := rec.Common()
	return &Rejection{
		ID:     core.IDOf(rec),
		Kind:   rec.Kind(),
		Domain: base.Domain,
		Key:    rec.NaturalKey(),
		Reason: reason,
		Field:  field,
		Detail: detail,
		Origin: origin,
		Row:    base.Lineage.Row,
	}
}

// score computes 1 - max(weighted defect rate, critical-null ratio).
func (v *Validator) score(s Sheet, orphans int) Score {
	rows := len(s.Records)
	sc := Score{
		Origin:            s.Origin,
		Kind:              s.Kind,
		Rows:              rows,
		NullRatio:         s.Stats.NullRatio(),
		CriticalNullRatio: s.Stats.CriticalNullRatio(),
	}
	if rows > 0 {
		keys := make(map[core.DocID]struct{}, rows)
		for _, r := range s.Records {
			keys[core.IDOf(r)] = struct{}{}
		}
		sc.DuplicateRatio = float64(rows-len(keys)) / float64(rows)
		sc.OrphanRatio = float64(orphans) / float64(rows)
	}
	defect := v.weights.Nulls*sc.NullRatio + v.weights.Duplicates*sc.DuplicateRatio + v.weights.Orphans*sc.OrphanRatio
	defect = max(defect, sc.CriticalNullRatio)
	sc.Value = clamp(1-defect, 0, 1)
	return sc
}

func clamp(f, lo, hi float64) float64 {
	return min(max(f, lo), hi)
}

// checkFields validates one record's own fields: required values first,
// then enums and links.
func checkFields(rec core.Record) (field string, reason Reason, detail string, ok bool) {
	var required [][2]string

	switch r := rec.(type) {
	case *core.Problem:
		required = [][2]string{{core.FieldSubCategoryID, r.SubCategoryID}, {core.FieldProblemName, r.Name}}
	case *core.Assessment:
		required = [][2]string{{core.FieldQuestionID, r.QuestionID}, {core.FieldSubCategoryID, r.SubCategoryID},
			{core.FieldQuestionText, r.QuestionText}}
	case *core.Suggestion:
		required = [][2]string{{core.FieldSuggestionID, r.SuggestionID}, {core.FieldSubCategoryID, r.SubCategoryID},
			{core.FieldSuggestionText, r.SuggestionText}}
	case *core.FeedbackPrompt:
		required = [][2]string{{core.FieldPromptID, r.PromptID}, {core.FieldPromptText, r.PromptText},
			{core.FieldNextAction, r.NextAction}}
	case *core.NextAction:
		required = [][2]string{{core.FieldActionID, r.ActionID}}
	case *core.TrainingExample:
		required = [][2]string{{core.FieldID, r.ID}, {core.FieldPrompt, r.Prompt}, {core.FieldCompletion, r.Completion}}
	default:
		return "", ReasonMissingRequiredField, fmt.Sprintf("unsupported record type %T", rec), false
	}

	var missing []string
	for _, rq := range required {
		if strings.TrimSpace(rq[1]) == "" {
			missing = append(missing, rq[0])
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return missing[0], ReasonMissingRequiredField, "missing " + strings.Join(missing, ", "), false
	}

	switch r := rec.(type) {
	case *core.Assessment:
		if !r.ResponseType.Recognized() {
			return core.FieldResponseType, ReasonInvalidEnum, fmt.Sprintf("response_type %q", r.ResponseType), false
		}
	case *core.Suggestion:
		if r.ResourceLink != "" {
			if err := checkURI(r.ResourceLink); err != nil {
				return core.FieldResourceLink, ReasonMalformedURI, err.Error(), false
			}
		}
	case *core.FeedbackPrompt:
		if !r.Stage.Recognized() {
			return core.FieldStage, ReasonInvalidEnum, fmt.Sprintf("stage %q", r.Stage), false
		}
	case *core.NextAction:
		if !r.ActionType.Recognized() {
			return core.FieldActionType, ReasonInvalidEnum, fmt.Sprintf("action_type %q", r.ActionType), false
		}
	}
	return "", "", "", true
}

var allowedSchemes = []string{"http", "https"}

func checkURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !slices.Contains(allowedSchemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("%q is not an absolute http(s) URI", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
