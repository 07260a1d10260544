// Package alert carries operator alerts raised by the Reconciler and the
// Monitor.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/kbsync/core"
)

// Severity grades an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Code classifies an alert.
type Code string

const (
	// CodePersistentFailure means a repair exhausted its retries.
	CodePersistentFailure Code = "persistent_failure"
	// CodeDrift means a scope stayed out of sync for several passes.
	CodeDrift Code = "persistent_drift"
	// CodeLowQuality means a source sheet scored below the threshold.
	CodeLowQuality Code = "low_quality"
	// CodeFailureRate means too many records of a kind failed to commit.
	CodeFailureRate Code = "failure_rate"
	// CodeSourceError means a source file could not be imported.
	CodeSourceError Code = "source_error"
)

// Alert is one operator-facing notification.
type Alert struct {
	Severity Severity   `json:"severity"`
	Code     Code       `json:"code"`
	Scope    core.Scope `json:"scope"`
	Message  string     `json:"message"`
	Keys     []string   `json:"keys,omitempty"`
	At       time.Time  `json:"at"`
}

// Alerter delivers alerts. Implementations must be safe for concurrent use.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to a logger.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a LogAlerter. A nil logger means slog.Default().
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger.With("component", "alert")}
}

// Alert logs a at Error for critical alerts and Warn otherwise.
func (l *LogAlerter) Alert(ctx context.Context, a Alert) error {
	level := slog.LevelWarn
	if a.Severity == SeverityCritical {
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, a.Message,
		"code", a.Code, "severity", a.Severity, "scope", a.Scope.String(), "keys", a.Keys)
	return nil
}

type multi []Alerter

// Multi fans alerts out to every alerter. All are tried; their errors are
// joined.
func Multi(alerters ...Alerter) Alerter {
	return multi(alerters)
}

func (m multi) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if al == nil {
			continue
		}
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps alerts in memory. The Monitor uses it to attach alerts to
// a run report; tests use it to assert on them.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

// Alert records a.
func (r *Recorder) Alert(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Drain returns the recorded alerts and forgets them.
func (r *Recorder) Drain() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.alerts
	r.alerts = nil
	return out
}
