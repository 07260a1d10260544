package reconcile

import (
	"time"

	"github.com/poiesic/kbsync/core"
)

// State is the phase of a scope's reconcile pass.
type State string

const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StateDiffing   State = "diffing"
	StateRepairing State = "repairing"
)

// Report summarizes one pass over one scope.
type Report struct {
	Scope core.Scope `json:"scope"`

	// Documents and Points count the keys scanned in each store.
	Documents int `json:"documents"`
	Points    int `json:"points"`

	// Drift found by the diff.
	Missing  int `json:"missing"`
	Stale    int `json:"stale"`
	Orphaned int `json:"orphaned"`

	// Repairs made.
	Repaired int `json:"repaired"`
	Deleted  int `json:"deleted"`
	Failed   int `json:"failed"`

	// Deferred repairs were still backing off; Quarantined ones exhausted
	// their retries and wait for a content change.
	Deferred    int `json:"deferred"`
	Quarantined int `json:"quarantined"`

	// Resolved counts pending items cleared because the drift was gone.
	Resolved int `json:"resolved"`

	FailedKeys []string      `json:"failed_keys,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Drift is the number of disagreements the pass found.
func (r *Report) Drift() int {
	return r.Missing + r.Stale + r.Orphaned
}

// Converged reports whether the scope was fully in sync when the pass ended.
func (r *Report) Converged() bool {
	return r.Drift() == r.Repaired+r.Deleted
}
