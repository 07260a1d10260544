package normalize

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/source"
)

// Warning codes.
const (
	WarnNullDefaulted        = "null_defaulted"
	WarnMedianImputed        = "median_imputed"
	WarnSyntheticID          = "synthetic_id"
	WarnDerivedValue         = "derived_value"
	WarnUnrecognizedEnum     = "unrecognized_enum"
	WarnUnparseableNumber    = "unparseable_number"
	WarnUnparseableTimestamp = "unparseable_timestamp"
	WarnForeignDomainPrefix  = "foreign_domain_prefix"
	WarnInvalidEncoding      = "invalid_encoding"
)

var (
	// ErrNilRules indicates a Normalizer created without rules.
	ErrNilRules = errors.New("normalize: rules are required")

	// ErrInvalidInput indicates an Input missing its sheet, binding or domain.
	ErrInvalidInput = errors.New("normalize: sheet, binding and domain are required")

	// ErrInvalidRules indicates a rules file with an unknown field type.
	ErrInvalidRules = errors.New("normalize: invalid rules")
)

// Warning is a non-fatal note about one cell.
type Warning struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Input is one bound sheet of a source.
type Input struct {
	Sheet      *source.Sheet
	Binding    *source.Binding
	Domain     core.Domain
	SourceFile string

	// ProcessedAt stamps rows without a processed_at value. Callers pass
	// the source's modification time so re-runs stay deterministic.
	ProcessedAt time.Time
}

// Stats summarizes null handling for a sheet. They feed the quality score.
type Stats struct {
	Rows             int
	TrackedCells     int
	NullCells        int
	CriticalNullRows int
}

// NullRatio is the share of tracked cells that were null.
func (s Stats) NullRatio() float64 {
	if s.TrackedCells == 0 {
		return 0
	}
	return float64(s.NullCells) / float64(s.TrackedCells)
}

// CriticalNullRatio is the share of rows with a null critical field.
func (s Stats) CriticalNullRatio() float64 {
	if s.Rows == 0 {
		return 0
	}
	return float64(s.CriticalNullRows) / float64(s.Rows)
}

// Normalizer turns bound sheets into typed records.
type Normalizer struct {
	rules  *Rules
	nulls  map[string]struct{}
	logger *slog.Logger
}

// Option is a functional option for configuring a Normalizer.
type Option func(*Normalizer) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) error {
		n.logger = logger
		return nil
	}
}

// New creates a Normalizer for a rule set.
func New(rules *Rules, opts ...Option) (*Normalizer, error) {
	if rules == nil {
		return nil, ErrNilRules
	}
	n := &Normalizer{
		rules:  rules,
		nulls:  make(map[string]struct{}, len(rules.NullTokens)),
		logger: slog.Default(),
	}
	for _, tok := range rules.NullTokens {
		n.nulls[strings.ToLower(tok)] = struct{}{}
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	n.logger = n.logger.With("component", "normalizer")
	return n, nil
}

// Batch is the normalized view of one sheet. Records are built lazily;
// iterating twice yields the same records.
type Batch struct {
	Kind       core.Kind
	Domain     core.Domain
	SourceFile string
	SheetName  string
	Stats      Stats

	n       *Normalizer
	in      Input
	medians map[string]map[string]float64
	overall map[string]float64
}

// Normalize prepares a sheet. It scans the rows once for null statistics
// and per-group medians; records are produced by Batch.All.
func (n *Normalizer) Normalize(in Input) (*Batch, error) {
	if in.Sheet == nil || in.Binding == nil || in.Domain == "" {
		return nil, ErrInvalidInput
	}
	if in.SourceFile == "" {
		in.SourceFile = in.Sheet.File
	}
	b := &Batch{
		Kind:       in.Binding.Kind,
		Domain:     in.Domain,
		SourceFile: in.SourceFile,
		SheetName:  in.Sheet.Name,
		n:          n,
		in:         in,
		medians:    make(map[string]map[string]float64),
		overall:    make(map[string]float64),
	}
	b.scan()
	n.logger.Debug("sheet prepared",
		"file", b.SourceFile, "sheet", b.SheetName, "kind", b.Kind,
		"rows", b.Stats.Rows, "nullRatio", b.Stats.NullRatio())
	return b, nil
}

// All yields each record with the warnings raised while building it.
func (b *Batch) All() iter.Seq2[core.Record, []Warning] {
	return func(yield func(core.Record, []Warning) bool) {
		for i, row := range b.in.Sheet.Rows {
			if row == nil {
				continue
			}
			rec, warnings := b.build(b.in.Sheet.RowNumber(i), row)
			if !yield(rec, warnings) {
				return
			}
		}
	}
}

// Collect materializes the batch.
func (b *Batch) Collect() ([]core.Record, []Warning) {
	var (
		records  []core.Record
		warnings []Warning
	)
	for rec, w := range b.All() {
		records = append(records, rec)
		warnings = append(warnings, w...)
	}
	return records, warnings
}

func (b *Batch) fields() []string {
	fields := make([]string, 0, len(b.n.rules.Fields[b.Kind]))
	for f := range b.n.rules.Fields[b.Kind] {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}

func (b *Batch) scan() {
	fields := b.fields()
	samples := make(map[string]map[string][]float64)

	for _, row := range b.in.Sheet.Rows {
		if row == nil {
			continue
		}
		b.Stats.Rows++
		criticalNull := false
		group := b.group(row)

		for _, f := range fields {
			if !b.in.Binding.Has(f) {
				continue
			}
			p := b.n.rules.policy(b.Kind, f)
			v, null := b.n.cell(b.in.Binding.Value(row, f))
			b.Stats.TrackedCells++
			if null {
				b.Stats.NullCells++
				if p.Critical {
					criticalNull = true
				}
				continue
			}
			if p.Type == TypeNumeric {
				if num, ok := parseNumber(v); ok {
					if samples[f] == nil {
						samples[f] = make(map[string][]float64)
					}
					samples[f][group] = append(samples[f][group], num)
				}
			}
		}
		if criticalNull {
			b.Stats.CriticalNullRows++
		}
	}

	for f, groups := range samples {
		b.medians[f] = make(map[string]float64, len(groups))
		var all []float64
		for g, vals := range groups {
			b.medians[f][g] = median(vals)
			all = append(all, vals...)
		}
		b.overall[f] = median(all)
	}
}

// group is the category a row belongs to for median imputation.
func (b *Batch) group(row []string) string {
	if !b.in.Binding.Has(core.FieldSubCategoryID) {
		return ""
	}
	v, null := b.n.cell(b.in.Binding.Value(row, core.FieldSubCategoryID))
	if null {
		return ""
	}
	return core.CategoryOf(core.CanonicalID(b.Domain, v))
}

// cell cleans a raw value and reports whether it is null.
func (n *Normalizer) cell(raw string) (string, bool) {
	v, _ := cleanText(raw)
	if v == "" {
		return "", true
	}
	if _, ok := n.nulls[strings.ToLower(v)]; ok {
		return "", true
	}
	return v, false
}

// rowBuilder accumulates lineage and warnings for one row.
type rowBuilder struct {
	b        *Batch
	row      []string
	rowNum   int
	group    string
	lineage  core.Lineage
	warnings []Warning
}

func (b *Batch) build(rowNum int, row []string) (core.Record, []Warning) {
	r := &rowBuilder{
		b:      b,
		row:    row,
		rowNum: rowNum,
		group:  b.group(row),
		lineage: core.Lineage{
			SourceFile: b.SourceFile,
			SheetName:  b.SheetName,
			Row:        rowNum,
		},
	}
	r.lineage.ProcessedAt = r.processedAt()

	var rec core.Record
	switch b.Kind {
	case core.KindProblem:
		p := &core.Problem{
			SubCategoryID: r.str(core.FieldSubCategoryID),
			CategoryID:    r.str(core.FieldCategoryID),
			Name:          r.str(core.FieldProblemName),
			Description:   r.str(core.FieldDescription),
		}
		if p.CategoryID == "" && !r.lineage.Synthetic {
			p.CategoryID = core.CategoryOf(p.SubCategoryID)
			r.derived(core.FieldCategoryID, p.CategoryID)
		}
		rec = p
	case core.KindAssessment:
		rec = &core.Assessment{
			QuestionID:    r.str(core.FieldQuestionID),
			SubCategoryID: r.str(core.FieldSubCategoryID),
			BatchID:       r.str(core.FieldBatchID),
			QuestionText:  r.str(core.FieldQuestionText),
			ResponseType:  core.ParseResponseType(r.enum(core.FieldResponseType)),
			NextStep:      r.str(core.FieldNextStep),
			Cluster:       r.str(core.FieldCluster),
			Weight:        r.number(core.FieldWeight),
		}
	case core.KindSuggestion:
		rec = &core.Suggestion{
			SuggestionID:   r.str(core.FieldSuggestionID),
			SubCategoryID:  r.str(core.FieldSubCategoryID),
			Cluster:        r.str(core.FieldCluster),
			SuggestionText: r.str(core.FieldSuggestionText),
			ResourceLink:   r.str(core.FieldResourceLink),
			Priority:       r.number(core.FieldPriority),
		}
	case core.KindFeedbackPrompt:
		rec = &core.FeedbackPrompt{
			PromptID:   r.str(core.FieldPromptID),
			Stage:      core.ParseStage(r.enum(core.FieldStage)),
			PromptText: r.str(core.FieldPromptText),
			NextAction: r.str(core.FieldNextAction),
		}
	case core.KindNextAction:
		rec = &core.NextAction{
			ActionID:   r.str(core.FieldActionID),
			ActionType: core.ParseActionType(r.enum(core.FieldActionType)),
		}
	case core.KindTrainingExample:
		te := &core.TrainingExample{
			ID:             r.str(core.FieldID),
			Problem:        r.str(core.FieldProblem),
			ConversationID: r.str(core.FieldConversationID),
			Prompt:         r.str(core.FieldPrompt),
			Completion:     r.str(core.FieldCompletion),
		}
		if core.LooksLikeSubCategoryID(b.Domain, te.Problem) {
			te.ProblemRef = core.CanonicalID(b.Domain, te.Problem)
		}
		rec = te
	}

	base := rec.Common()
	base.Domain = b.Domain
	base.Lineage = r.lineage
	return rec, r.warnings
}

func (r *rowBuilder) warn(field, code, format string, args ...any) {
	r.warnings = append(r.warnings, Warning{
		Row:     r.rowNum,
		Field:   field,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	})
}

func (r *rowBuilder) impute(field string) {
	r.lineage.Imputed = append(r.lineage.Imputed, field)
}

func (r *rowBuilder) derived(field, value string) {
	r.impute(field)
	r.warn(field, WarnDerivedValue, "derived %s as %q", field, value)
}

// raw returns the cleaned cell and whether it is null.
func (r *rowBuilder) raw(field string) (string, bool) {
	cellValue := r.b.in.Binding.Value(r.row, field)
	v, repaired := cleanText(cellValue)
	if repaired {
		r.warn(field, WarnInvalidEncoding, "replaced invalid UTF-8 in %s", field)
	}
	return r.b.n.cell(v)
}

// str applies the field's policy to a string-valued field.
func (r *rowBuilder) str(field string) string {
	p := r.b.n.rules.policy(r.b.Kind, field)
	v, null := r.raw(field)

	switch p.Type {
	case TypeKey:
		if null {
			id := core.SyntheticID(r.b.Domain, r.b.Kind, r.rowNum)
			r.lineage.Synthetic = true
			r.warn(field, WarnSyntheticID, "empty %s replaced with %s", field, id)
			return id
		}
		return r.identifier(field, v)
	case TypeIdentifier, TypeReference:
		if null {
			return ""
		}
		return r.identifier(field, v)
	case TypeCategorical:
		if null {
			r.impute(field)
			r.warn(field, WarnNullDefaulted, "empty %s set to %q", field, r.b.n.rules.UnknownValue)
			return r.b.n.rules.UnknownValue
		}
		return applyCase(v, p.Case)
	default:
		if null {
			return ""
		}
		return applyCase(v, p.Case)
	}
}

func (r *rowBuilder) identifier(field, v string) string {
	id := core.CanonicalID(r.b.Domain, v)
	if prefix, _, _ := strings.Cut(id, "_"); prefix != string(r.b.Domain) {
		r.warn(field, WarnForeignDomainPrefix, "%s %q carries domain prefix %s in a %s sheet", field, id, prefix, r.b.Domain)
	}
	return id
}

// enum returns the folded enum token with aliases applied, or "" for null.
func (r *rowBuilder) enum(field string) string {
	v, null := r.raw(field)
	if null {
		r.warn(field, WarnUnrecognizedEnum, "empty %s", field)
		return ""
	}
	tok := core.EnumToken(v)
	if alias, ok := r.b.n.rules.EnumAliases[tok]; ok {
		tok = alias
	} else if alias, ok := r.b.n.rules.EnumAliases[strings.ReplaceAll(tok, "_", "")]; ok {
		tok = alias
	}
	if !recognized(r.b.Kind, tok) {
		r.warn(field, WarnUnrecognizedEnum, "%s %q is not recognized", field, v)
	}
	return tok
}

func recognized(kind core.Kind, tok string) bool {
	switch kind {
	case core.KindAssessment:
		return core.ParseResponseType(tok).Recognized()
	case core.KindFeedbackPrompt:
		return core.ParseStage(tok).Recognized()
	case core.KindNextAction:
		return core.ParseActionType(tok).Recognized()
	}
	return false
}

// number parses a numeric field, imputing the group median for nulls and
// unparseable values.
func (r *rowBuilder) number(field string) float64 {
	if !r.b.in.Binding.Has(field) {
		return 0
	}
	v, null := r.raw(field)
	if !null {
		if num, ok := parseNumber(v); ok {
			return num
		}
		r.warn(field, WarnUnparseableNumber, "%s %q is not a number", field, v)
	}
	m, ok := r.b.medians[field][r.group]
	if !ok {
		m = r.b.overall[field]
	}
	r.impute(field)
	r.warn(field, WarnMedianImputed, "%s imputed as %g", field, m)
	return m
}

func (r *rowBuilder) processedAt() time.Time {
	fallback := r.b.in.ProcessedAt.UTC()
	if !r.b.in.Binding.Has(core.FieldProcessedAt) {
		return fallback
	}
	v, null := r.raw(core.FieldProcessedAt)
	if null {
		return fallback
	}
	if t, ok := parseTime(v, r.b.n.rules.TimeLayouts); ok {
		return t
	}
	r.warn(core.FieldProcessedAt, WarnUnparseableTimestamp, "processed_at %q is not a timestamp", v)
	return fallback
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// excelEpoch is day zero of spreadsheet serial dates.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

func parseTime(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	// Spreadsheet serial date, e.g. 45352.5
	if days, err := strconv.ParseFloat(s, 64); err == nil && days > 0 && days < 2958466 {
		return excelEpoch.Add(time.Duration(days * float64(24*time.Hour))).Truncate(time.Second), true
	}
	return time.Time{}, false
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
