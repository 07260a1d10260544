package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/poiesic/kbsync/alert"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/reconcile"
	"github.com/poiesic/kbsync/retry"
	"github.com/poiesic/kbsync/validate"
	"github.com/poiesic/kbsync/writer"
)

// Monitor turns run and reconcile outcomes into reports and alerts.
// It is safe for concurrent use.
type Monitor struct {
	cfg     Config
	alerter alert.Alerter
	clock   retry.Clock
	logger  *slog.Logger

	mu      sync.Mutex
	streaks map[core.Scope]int
}

// Option configures a Monitor.
type Option func(*Monitor) error

// WithConfig replaces the default thresholds.
func WithConfig(cfg Config) Option {
	return func(m *Monitor) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		m.cfg = cfg
		return nil
	}
}

// WithAlerter sets where alerts go. Default logs them.
func WithAlerter(a alert.Alerter) Option {
	return func(m *Monitor) error {
		m.alerter = a
		return nil
	}
}

// WithClock sets the clock for report timestamps.
func WithClock(c retry.Clock) Option {
	return func(m *Monitor) error {
		if c != nil {
			m.clock = c
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// New creates a Monitor.
func New(opts ...Option) (*Monitor, error) {
	m := &Monitor{
		cfg:     DefaultConfig(),
		clock:   retry.SystemClock{},
		logger:  slog.Default(),
		streaks: make(map[core.Scope]int),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "monitor")
	if m.alerter == nil {
		m.alerter = alert.NewLogAlerter(m.logger)
	}
	return m, nil
}

// Config returns the thresholds in use.
func (m *Monitor) Config() Config {
	return m.cfg
}

// ObserveReconcile records one reconcile pass. A scope that drifts on
// DriftAlertPasses consecutive passes raises one alert; the count resets
// on the first clean pass. Its signature fits reconcile.WithReportHook.
func (m *Monitor) ObserveReconcile(ctx context.Context, rep *reconcile.Report) {
	if rep == nil {
		return
	}
	m.mu.Lock()
	streak := 0
	if rep.Drift() > 0 {
		streak = m.streaks[rep.Scope] + 1
	}
	m.streaks[rep.Scope] = streak
	m.mu.Unlock()

	if streak != m.cfg.DriftAlertPasses {
		return
	}
	m.raise(ctx, alert.Alert{
		Severity: alert.SeverityWarning,
		Code:     alert.CodeDrift,
		Scope:    rep.Scope,
		Message:  fmt.Sprintf("drift found on %d consecutive passes (last: %d missing, %d stale, %d orphaned)", streak, rep.Missing, rep.Stale, rep.Orphaned),
		Keys:     rep.FailedKeys,
		At:       m.clock.Now().UTC(),
	})
}

// DriftStreak returns the number of consecutive drifting passes of scope.
func (m *Monitor) DriftStreak(scope core.Scope) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaks[scope]
}

func (m *Monitor) raise(ctx context.Context, a alert.Alert) {
	if err := m.alerter.Alert(ctx, a); err != nil {
		m.logger.Warn("alert delivery failed", "code", a.Code, "err", err)
	}
}

// Run collects the outcomes of one import. Its methods are safe for
// concurrent use.
type Run struct {
	m *Monitor

	mu       sync.Mutex
	report   *RunReport
	finished bool
}

// Begin starts a run report.
func (m *Monitor) Begin() *Run {
	return &Run{
		m: m,
		report: &RunReport{
			RunID:     uuid.NewString(),
			StartedAt: m.clock.Now().UTC(),
			Entities:  make(map[core.Kind]*EntityReport),
			pending:   make(map[core.Scope]bool),
		},
	}
}

// ID returns the run ID.
func (r *Run) ID() string {
	return r.report.RunID
}

// entity must be called with the lock held.
func (r *Run) entity(kind core.Kind) *EntityReport {
	e, ok := r.report.Entities[kind]
	if !ok {
		e = &EntityReport{Kind: kind}
		r.report.Entities[kind] = e
	}
	return e
}

// reason must be called with the lock held.
func (r *Run) reason(e *EntityReport, f FailureReason) {
	if len(e.FailureReasons) < r.m.cfg.MaxFailureReasons {
		e.FailureReasons = append(e.FailureReasons, f)
		return
	}
	e.OmittedReasons++
}

// ObserveSource records one source file.
func (r *Run) ObserveSource(s SourceReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Sources = append(r.report.Sources, s)
}

// ObserveSheet records the rows and warnings normalized from one sheet.
func (r *Run) ObserveSheet(kind core.Kind, rows, warnings int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entity(kind)
	e.Rows += rows
	e.Warnings += warnings
}

// ObserveValidation records rejections and sheet quality scores.
func (r *Run) ObserveValidation(res *validate.Result) {
	if res == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rej := range res.Invalid {
		r.rejected(rej)
	}
	for _, s := range res.Scores {
		r.report.Scores = append(r.report.Scores, s)
		e := r.entity(s.Kind)
		e.scoredRows += s.Rows
		e.scoreSum += s.Value * float64(s.Rows)
		if e.scoredRows > 0 {
			e.QualityScore = e.scoreSum / float64(e.scoredRows)
		}
	}
}

// ObserveRejected records a rejection made after validation, such as a
// dependent whose parent failed to commit.
func (r *Run) ObserveRejected(rej validate.Rejection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected(rej)
}

func (r *Run) rejected(rej validate.Rejection) {
	e := r.entity(rej.Kind)
	e.Rejected++
	detail := rej.Field
	switch {
	case rej.Field == "":
		detail = rej.Detail
	case rej.Detail != "":
		detail += ": " + rej.Detail
	}
	r.reason(e, FailureReason{Key: rej.Key, Stage: StageValidate, Reason: string(rej.Reason), Detail: detail})
}

// ObserveDuplicates records records dropped by deduplication.
func (r *Run) ObserveDuplicates(dropped []core.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range dropped {
		r.entity(rec.Kind()).Deduplicated++
	}
}

// ObserveWrite records a Writer result.
func (r *Run) ObserveWrite(res *writer.Result) {
	if res == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entity(res.Kind)
	e.Attempted += res.Docs.Attempted
	e.Succeeded += res.Docs.Succeeded
	e.Failed += res.Docs.Failed
	e.Skipped += res.Unchanged
	e.Superseded += res.Superseded
	e.Pending += res.Pending
	addCounts(&e.Docs, res.Docs)
	addCounts(&e.Index, res.Index)
	for _, f := range res.Failures {
		r.reason(e, FailureReason{Key: f.Key, Stage: StageWrite, Store: string(f.Store), Reason: f.Reason})
	}
	for _, s := range res.PendingScopes() {
		r.report.pending[s] = true
	}
}

// ObserveUnwritten records records the run stopped before offering to the
// writer. They count as attempted and failed so the report cannot read as
// a success.
func (r *Run) ObserveUnwritten(recs []core.Record, err error) {
	if len(recs) == 0 {
		return
	}
	reason := "run stopped"
	if err != nil {
		reason = err.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		e := r.entity(rec.Kind())
		e.Attempted++
		e.Failed++
		r.reason(e, FailureReason{Key: rec.NaturalKey(), Stage: StageAbort, Reason: reason})
	}
}

// Fail marks the run as stopped by err. Later calls add to the error.
func (r *Run) Fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.report.Error == "" {
		r.report.Error = err.Error()
		return
	}
	r.report.Error += "; " + err.Error()
}

// ObservePruned records documents a full resync deleted.
func (r *Run) ObservePruned(kind core.Kind, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entity(kind).Pruned += n
}

// ObserveReconcile attaches reconcile passes to the run and feeds the
// Monitor's drift tracking.
func (r *Run) ObserveReconcile(ctx context.Context, reps ...*reconcile.Report) {
	for _, rep := range reps {
		if rep == nil {
			continue
		}
		r.mu.Lock()
		r.report.Reconciles = append(r.report.Reconciles, rep)
		r.mu.Unlock()
		r.m.ObserveReconcile(ctx, rep)
	}
}

// Finish closes the run, raises threshold alerts and returns the report.
// Later calls return the same report.
func (r *Run) Finish(ctx context.Context) *RunReport {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return r.report
	}
	r.finished = true
	rep := r.report
	rep.FinishedAt = r.m.clock.Now().UTC()

	for _, e := range rep.Entities {
		rep.Throughput.Records += e.Attempted
	}
	rep.Throughput.Duration = rep.FinishedAt.Sub(rep.StartedAt)
	if secs := rep.Throughput.Duration.Seconds(); secs > 0 {
		rep.Throughput.PerSecond = float64(rep.Throughput.Records) / secs
	}
	rep.Alerts = r.thresholdAlerts(rep)
	r.mu.Unlock()

	for _, a := range rep.Alerts {
		r.m.raise(ctx, a)
	}
	r.m.logger.Info("import run finished",
		"run", rep.RunID, "sources", len(rep.Sources), "records", rep.Throughput.Records,
		"alerts", len(rep.Alerts), "duration", rep.Throughput.Duration, "succeeded", rep.Succeeded(),
		"error", rep.Error)
	return rep
}

func (r *Run) thresholdAlerts(rep *RunReport) []alert.Alert {
	cfg := r.m.cfg
	var out []alert.Alert
	for _, s := range rep.Sources {
		if !s.Failed() {
			continue
		}
		out = append(out, alert.Alert{
			Severity: alert.SeverityCritical,
			Code:     alert.CodeSourceError,
			Scope:    core.Scope{Domain: s.Domain},
			Message:  fmt.Sprintf("%s was not imported: %s", s.Path, s.Error),
			At:       rep.FinishedAt,
		})
	}
	for _, s := range rep.Scores {
		if s.Rows == 0 || s.Value >= cfg.MinQualityScore {
			continue
		}
		out = append(out, alert.Alert{
			Severity: alert.SeverityWarning,
			Code:     alert.CodeLowQuality,
			Scope:    core.Scope{Kind: s.Kind},
			Message:  fmt.Sprintf("%s scored %.2f, below %.2f", s.Origin, s.Value, cfg.MinQualityScore),
			At:       rep.FinishedAt,
		})
	}
	for _, k := range rep.Kinds() {
		e := rep.Entities[k]
		if rate := e.FailureRate(); rate > cfg.MaxFailureRate {
			var keys []string
			for _, f := range e.FailureReasons {
				if f.Stage == StageWrite && f.Store == string(writer.StoreDocuments) {
					keys = append(keys, f.Key)
				}
			}
			out = append(out, alert.Alert{
				Severity: alert.SeverityCritical,
				Code:     alert.CodeFailureRate,
				Scope:    core.Scope{Kind: k},
				Message:  fmt.Sprintf("%d of %d %s records failed to commit (%.1f%%)", e.Failed, e.Attempted, k, rate*100),
				Keys:     keys,
				At:       rep.FinishedAt,
			})
		}
	}
	return out
}

func addCounts(dst *writer.StoreCounts, src writer.StoreCounts) {
	dst.Attempted += src.Attempted
	dst.Succeeded += src.Succeeded
	dst.Failed += src.Failed
	dst.Skipped += src.Skipped
}
