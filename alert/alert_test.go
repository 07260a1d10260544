package alert

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/poiesic/kbsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingAlerter struct{ err error }

func (f failingAlerter) Alert(context.Context, Alert) error { return f.err }

func TestLogAlerter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogAlerter(slog.New(slog.NewTextHandler(&buf, nil)))

	err := l.Alert(context.Background(), Alert{
		Severity: SeverityCritical,
		Code:     CodePersistentFailure,
		Scope:    core.Scope{Domain: core.DomainStress, Kind: core.KindProblem},
		Message:  "repair gave up",
		Keys:     []string{"STR_04_08"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "code=persistent_failure")
	assert.Contains(t, out, "scope=problem/STR")
	assert.Contains(t, out, "STR_04_08")
}

func TestMulti(t *testing.T) {
	rec1, rec2 := &Recorder{}, &Recorder{}
	boom := errors.New("pager down")
	m := Multi(rec1, failingAlerter{err: boom}, nil, rec2)

	err := m.Alert(context.Background(), Alert{Code: CodeDrift})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec1.Alerts(), 1)
	assert.Len(t, rec2.Alerts(), 1, "a failing alerter does not stop the others")
}

func TestRecorder_Drain(t *testing.T) {
	r := &Recorder{}
	_ = r.Alert(context.Background(), Alert{Code: CodeLowQuality})
	_ = r.Alert(context.Background(), Alert{Code: CodeFailureRate})

	got := r.Drain()
	assert.Len(t, got, 2)
	assert.Empty(t, r.Alerts())
}
