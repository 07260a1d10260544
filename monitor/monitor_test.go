package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/kbsync/alert"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/reconcile"
	"github.com/poiesic/kbsync/retry"
	"github.com/poiesic/kbsync/validate"
	"github.com/poiesic/kbsync/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0    = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	scope = core.Scope{Domain: core.DomainStress, Kind: core.KindProblem}
)

func newMonitor(t *testing.T, opts ...Option) (*Monitor, *alert.Recorder, *retry.FakeClock) {
	t.Helper()
	rec := &alert.Recorder{}
	clock := retry.NewFakeClock(t0)
	m, err := New(append([]Option{WithAlerter(rec), WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return m, rec, clock
}

func writeResult(kind core.Kind, attempted, failed, pending int) *writer.Result {
	res := &writer.Result{Kind: kind, Pending: pending}
	res.Docs = writer.StoreCounts{Attempted: attempted, Succeeded: attempted - failed, Failed: failed}
	for i := range failed {
		id := core.NewDocID(kind, core.DomainStress, fmt.Sprintf("STR_%02d_01", i+1))
		res.Failures = append(res.Failures, writer.Failure{ID: id, Key: id.Key(), Store: writer.StoreDocuments, Reason: "store down"})
	}
	for i := range pending {
		id := core.NewDocID(kind, core.DomainStress, fmt.Sprintf("STR_%02d_02", i+1))
		res.Failures = append(res.Failures, writer.Failure{ID: id, Key: id.Key(), Store: writer.StoreIndex, Reason: "embed timeout"})
	}
	return res
}

func codes(alerts []alert.Alert) []alert.Code {
	out := make([]alert.Code, len(alerts))
	for i, a := range alerts {
		out[i] = a.Code
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"quality above one", func(c *Config) { c.MinQualityScore = 1.5 }},
		{"negative failure rate", func(c *Config) { c.MaxFailureRate = -0.1 }},
		{"negative reasons", func(c *Config) { c.MaxFailureReasons = -1 }},
		{"zero drift passes", func(c *Config) { c.DriftAlertPasses = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.edit(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
			_, err := New(WithConfig(cfg))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestRun_AggregatesEntityReport(t *testing.T) {
	m, _, clock := newMonitor(t)
	run := m.Begin()
	require.NotEmpty(t, run.ID())

	run.ObserveSource(SourceReport{Path: "stress.xlsx", Domain: core.DomainStress, Sheets: 2, Rows: 104, Records: 103})
	run.ObserveSheet(core.KindProblem, 104, 3)
	run.ObserveValidation(&validate.Result{
		Invalid: []validate.Rejection{{Kind: core.KindProblem, Key: "STR_04_08", Reason: validate.ReasonMissingRequiredField, Field: "name"}},
		Scores: []validate.Score{
			{Origin: validate.Origin{SourceFile: "stress.xlsx", Sheet: "Problems"}, Kind: core.KindProblem, Rows: 100, Value: 1},
			{Origin: validate.Origin{SourceFile: "stress.csv", Sheet: "stress"}, Kind: core.KindProblem, Rows: 4, Value: 0.75},
		},
	})
	run.ObserveDuplicates([]core.Record{&core.Problem{SubCategoryID: "STR_01_01"}, &core.Problem{SubCategoryID: "STR_01_02"}})
	res := writeResult(core.KindProblem, 100, 0, 1)
	res.Unchanged = 10
	res.Superseded = 1
	res.Docs.Succeeded = 99
	res.Index = writer.StoreCounts{Attempted: 90, Succeeded: 89, Failed: 1, Skipped: 10}
	run.ObserveWrite(res)
	run.ObservePruned(core.KindProblem, 3)

	clock.Advance(2 * time.Second)
	rep := run.Finish(context.Background())

	e := rep.Entities[core.KindProblem]
	require.NotNil(t, e)
	assert.Equal(t, 104, e.Rows)
	assert.Equal(t, 3, e.Warnings)
	assert.Equal(t, 100, e.Attempted)
	assert.Equal(t, 99, e.Succeeded)
	assert.Equal(t, 10, e.Skipped)
	assert.Equal(t, 1, e.Superseded)
	assert.Equal(t, e.Attempted, e.Succeeded+e.Failed+e.Superseded)
	assert.LessOrEqual(t, e.Skipped, e.Succeeded)
	assert.Equal(t, 1, e.Rejected)
	assert.Equal(t, 2, e.Deduplicated)
	assert.Equal(t, 1, e.Pending)
	assert.Equal(t, 3, e.Pruned)
	assert.Equal(t, 89, e.Index.Succeeded)
	assert.InDelta(t, (100*1.0+4*0.75)/104, e.QualityScore, 1e-9)
	require.Len(t, e.FailureReasons, 2)
	assert.Equal(t, StageValidate, e.FailureReasons[0].Stage)
	assert.Equal(t, "name", e.FailureReasons[0].Detail)
	assert.Equal(t, "index", e.FailureReasons[1].Store)

	assert.Equal(t, []core.Scope{scope}, rep.PendingScopes())
	assert.Equal(t, 100, rep.Throughput.Records)
	assert.Equal(t, 2*time.Second, rep.Throughput.Duration)
	assert.InDelta(t, 50.0, rep.Throughput.PerSecond, 1e-9)
	assert.True(t, rep.Succeeded())
	assert.Empty(t, rep.Alerts)

	assert.Same(t, rep, run.Finish(context.Background()), "finish is idempotent")
}

func TestRun_BoundedFailureReasons(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFailureReasons = 5
	m, _, _ := newMonitor(t, WithConfig(cfg))
	run := m.Begin()
	run.ObserveWrite(writeResult(core.KindAssessment, 20, 8, 0))
	rep := run.Finish(context.Background())

	e := rep.Entities[core.KindAssessment]
	assert.Len(t, e.FailureReasons, 5)
	assert.Equal(t, 3, e.OmittedReasons)
	assert.False(t, rep.Succeeded())
}

func TestRun_ThresholdAlerts(t *testing.T) {
	m, rec, _ := newMonitor(t)
	run := m.Begin()

	run.ObserveSource(SourceReport{Path: "broken.xlsx", Domain: core.DomainAnxiety, Error: "unknown sheet"})
	run.ObserveValidation(&validate.Result{Scores: []validate.Score{
		{Origin: validate.Origin{SourceFile: "stress.xlsx", Sheet: "Problems"}, Kind: core.KindProblem, Rows: 10, Value: 0.69},
		{Origin: validate.Origin{SourceFile: "stress.xlsx", Sheet: "Empty"}, Kind: core.KindProblem, Rows: 0, Value: 0},
	}})
	// 5% is allowed, one more is not
	run.ObserveWrite(writeResult(core.KindProblem, 100, 5, 0))
	run.ObserveWrite(writeResult(core.KindSuggestion, 100, 6, 0))

	rep := run.Finish(context.Background())
	assert.Equal(t, []alert.Code{alert.CodeSourceError, alert.CodeLowQuality, alert.CodeFailureRate}, codes(rep.Alerts))
	assert.Equal(t, rep.Alerts, rec.Alerts(), "alerts are delivered")

	rate := rep.Alerts[2]
	assert.Equal(t, alert.SeverityCritical, rate.Severity)
	assert.Equal(t, core.KindSuggestion, rate.Scope.Kind)
	assert.Len(t, rate.Keys, 6)
}

func TestMonitor_DriftAlertsOnlyWhenPersistent(t *testing.T) {
	m, rec, _ := newMonitor(t)
	ctx := context.Background()
	drifting := &reconcile.Report{Scope: scope, Missing: 2, Repaired: 2}
	clean := &reconcile.Report{Scope: scope}

	m.ObserveReconcile(ctx, drifting)
	m.ObserveReconcile(ctx, drifting)
	assert.Empty(t, rec.Alerts(), "drift is a metric at first")
	assert.Equal(t, 2, m.DriftStreak(scope))

	m.ObserveReconcile(ctx, clean)
	assert.Zero(t, m.DriftStreak(scope))

	for range 4 {
		m.ObserveReconcile(ctx, drifting)
	}
	alerts := rec.Alerts()
	require.Len(t, alerts, 1, "one alert per streak")
	assert.Equal(t, alert.CodeDrift, alerts[0].Code)
	assert.Equal(t, scope, alerts[0].Scope)
}

func TestRun_ObserveReconcile(t *testing.T) {
	m, _, _ := newMonitor(t)
	run := m.Begin()
	run.ObserveReconcile(context.Background(), &reconcile.Report{Scope: scope, Orphaned: 1}, nil)
	rep := run.Finish(context.Background())
	assert.Len(t, rep.Reconciles, 1)
	assert.Equal(t, 1, m.DriftStreak(scope))
}

type failingAlerter struct{}

func (failingAlerter) Alert(context.Context, alert.Alert) error { return errors.New("pager down") }

func TestRun_AlertDeliveryFailureDoesNotFailRun(t *testing.T) {
	m, err := New(WithAlerter(failingAlerter{}))
	require.NoError(t, err)
	run := m.Begin()
	run.ObserveSource(SourceReport{Path: "x.csv", Error: "boom"})
	rep := run.Finish(context.Background())
	assert.Len(t, rep.Alerts, 1)
}

func TestRunReport_Serialization(t *testing.T) {
	m, _, _ := newMonitor(t)
	run := m.Begin()
	run.ObserveSource(SourceReport{Path: "stress.xlsx", Domain: core.DomainStress, Sheets: 1, Rows: 3, Records: 3})
	run.ObserveWrite(writeResult(core.KindProblem, 3, 1, 0))
	run.ObserveRejected(validate.Rejection{Kind: core.KindAssessment, Key: "STR_01_01_Q01", Reason: validate.ReasonUnresolvedReference})
	rep := run.Finish(context.Background())

	var js bytes.Buffer
	require.NoError(t, rep.WriteJSON(&js))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, rep.RunID, decoded["run_id"])
	entities := decoded["entities"].(map[string]any)
	assert.Contains(t, entities, "problem")
	assert.Contains(t, entities, "assessment")

	var text bytes.Buffer
	require.NoError(t, rep.WriteText(&text))
	out := text.String()
	assert.Contains(t, out, "stress.xlsx")
	assert.Contains(t, out, "problem failures:")
	assert.Contains(t, out, "STR_01_01_Q01 [validate] unresolved_reference")
	assert.Contains(t, out, "failure_rate")
}

func TestRun_StoppedRunIsNotSuccess(t *testing.T) {
	m, rec, _ := newMonitor(t)
	run := m.Begin()
	run.ObserveSource(SourceReport{Path: "stress.xlsx", Domain: core.DomainStress, Sheets: 2, Rows: 3, Records: 3})
	run.ObserveWrite(writeResult(core.KindProblem, 1, 0, 0))

	stop := errors.New("context canceled")
	run.ObserveUnwritten([]core.Record{
		&core.Assessment{QuestionID: "STR_01_01_Q01"},
		&core.Assessment{QuestionID: "STR_01_01_Q02"},
	}, stop)
	run.Fail(stop)
	run.Fail(nil)
	rep := run.Finish(context.Background())

	assert.False(t, rep.Succeeded())
	assert.Equal(t, "context canceled", rep.Error)
	e := rep.Entities[core.KindAssessment]
	require.NotNil(t, e)
	assert.Equal(t, 2, e.Attempted)
	assert.Equal(t, 2, e.Failed)
	require.Len(t, e.FailureReasons, 2)
	assert.Equal(t, StageAbort, e.FailureReasons[0].Stage)
	assert.Equal(t, "STR_01_01_Q01", e.FailureReasons[0].Key)
	assert.Contains(t, codes(rec.Alerts()), alert.CodeFailureRate)

	var js bytes.Buffer
	require.NoError(t, rep.WriteJSON(&js))
	assert.Contains(t, js.String(), `"error": "context canceled"`)
	var text bytes.Buffer
	require.NoError(t, rep.WriteText(&text))
	assert.Contains(t, text.String(), "stopped: context canceled")
}

func TestRun_FailJoinsErrors(t *testing.T) {
	m, _, _ := newMonitor(t)
	run := m.Begin()
	run.Fail(errors.New("validate: lookup failed"))
	run.Fail(errors.New("resync: scan failed"))
	rep := run.Finish(context.Background())
	assert.Equal(t, "validate: lookup failed; resync: scan failed", rep.Error)
	assert.False(t, rep.Succeeded())
}
