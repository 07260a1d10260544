// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/poiesic/kbsync/alert"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/reconcile"
	"github.com/poiesic/kbsync/validate"
	"github.com/poiesic/kbsync/writer"
)

// Stage names where in the pipeline a record was lost.
type Stage string

const (
	StageValidate Stage = "validate"
	StageWrite    Stage = "write"
	// StageAbort marks records the run stopped before writing.
	StageAbort Stage = "abort"
)

// FailureReason is one entry of an entity's bounded failure list.
type FailureReason struct {
	Key    string `json:"key"`
	Stage  Stage  `json:"stage"`
	Store  string `json:"store,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// SourceReport describes one source file of a run.
type SourceReport struct {
	Path     string      `json:"path"`
	Domain   core.Domain `json:"domain"`
	Sheets   int         `json:"sheets"`
	Rows     int         `json:"rows"`
	Records  int         `json:"records"`
	Warnings int         `json:"warnings"`
	// Error is set when the source was skipped as a whole.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the source was skipped.
func (s *SourceReport) Failed() bool {
	return s.Error != ""
}

// EntityReport is the per-kind section of a run report.
type EntityReport struct {
	Kind core.Kind `json:"kind"`

	// Rows read, records offered to the writer and their fate.
	// Attempted = Succeeded + Failed + Superseded. Skipped counts the
	// succeeded records whose stored version was already identical, so it
	// is a subset of Succeeded. Records the run stopped before writing are
	// attempted and failed.
	Rows      int `json:"rows"`
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Rejected by the validator, dropped as duplicates, kept older than
	// the stored version, queued for the Reconciler and deleted by a
	// full resync.
	Rejected     int `json:"rejected"`
	Deduplicated int `json:"deduplicated"`
	Superseded   int `json:"superseded"`
	Pending      int `json:"pending"`
	Pruned       int `json:"pruned"`

	// QualityScore is the row-weighted mean of the kind's sheet scores.
	QualityScore float64 `json:"quality_score"`
	Warnings     int     `json:"warnings"`

	Docs  writer.StoreCounts `json:"docs"`
	Index writer.StoreCounts `json:"index"`

	FailureReasons []FailureReason `json:"failure_reasons,omitempty"`
	// OmittedReasons counts failure reasons beyond the bound.
	OmittedReasons int `json:"omitted_reasons,omitempty"`

	scoredRows int
	scoreSum   float64
}

// FailureRate is the share of attempted records the document store did
// not confirm.
func (e *EntityReport) FailureRate() float64 {
	if e.Attempted == 0 {
		return 0
	}
	return float64(e.Failed) / float64(e.Attempted)
}

// Throughput summarizes the speed of a run.
type Throughput struct {
	Records   int           `json:"records"`
	Duration  time.Duration `json:"duration"`
	PerSecond float64       `json:"per_second"`
}

// RunReport is the operator-facing summary of one import.
type RunReport struct {
	RunID      string                      `json:"run_id"`
	StartedAt  time.Time                   `json:"started_at"`
	FinishedAt time.Time                   `json:"finished_at"`
	Sources    []SourceReport              `json:"sources"`
	Entities   map[core.Kind]*EntityReport `json:"entities"`
	Scores     []validate.Score            `json:"scores,omitempty"`
	Reconciles []*reconcile.Report         `json:"reconciles,omitempty"`
	Alerts     []alert.Alert               `json:"alerts,omitempty"`
	Throughput Throughput                  `json:"throughput"`

	// Error is set when the run stopped before all records were written.
	Error string `json:"error,omitempty"`

	pending map[core.Scope]bool
}

// PendingScopes returns the scopes that got pending index repairs, in a
// stable order.
func (r *RunReport) PendingScopes() []core.Scope {
	out := make([]core.Scope, 0, len(r.pending))
	for s := range r.pending {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b core.Scope) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// Succeeded reports whether the run completed, every source was imported
// and no record failed to commit.
func (r *RunReport) Succeeded() bool {
	if r.Error != "" {
		return false
	}
	for i := range r.Sources {
		if r.Sources[i].Failed() {
			return false
		}
	}
	for _, e := range r.Entities {
		if e.Failed > 0 {
			return false
		}
	}
	return true
}

// Kinds returns the reported kinds in dependency order.
func (r *RunReport) Kinds() []core.Kind {
	var out []core.Kind
	for _, k := range core.AllKinds {
		if _, ok := r.Entities[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// WriteJSON writes the report as indented JSON.
func (r *RunReport) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes a human-readable summary.
func (r *RunReport) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s  %s  %d records in %s (%.1f/s)\n",
		r.RunID, r.StartedAt.Format(time.RFC3339), r.Throughput.Records,
		r.Throughput.Duration.Round(time.Millisecond), r.Throughput.PerSecond)
	if r.Error != "" {
		fmt.Fprintf(tw, "stopped: %s\n", r.Error)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "SOURCE\tDOMAIN\tSHEETS\tROWS\tRECORDS\tWARNINGS\tERROR")
	for _, s := range r.Sources {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n", s.Path, s.Domain, s.Sheets, s.Rows, s.Records, s.Warnings, s.Error)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "KIND\tATTEMPTED\tSUCCEEDED\tFAILED\tSKIPPED\tREJECTED\tDEDUPED\tPENDING\tPRUNED\tQUALITY")
	for _, k := range r.Kinds() {
		e := r.Entities[k]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.2f\n",
			k, e.Attempted, e.Succeeded, e.Failed, e.Skipped, e.Rejected, e.Deduplicated, e.Pending, e.Pruned, e.QualityScore)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, k := range r.Kinds() {
		e := r.Entities[k]
		if len(e.FailureReasons) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s failures:\n", k)
		for _, f := range e.FailureReasons {
			fmt.Fprintf(w, "  %s [%s] %s", f.Key, f.Stage, f.Reason)
			if f.Detail != "" {
				fmt.Fprintf(w, ": %s", f.Detail)
			}
			fmt.Fprintln(w)
		}
		if e.OmittedReasons > 0 {
			fmt.Fprintf(w, "  ... and %d more\n", e.OmittedReasons)
		}
	}

	if len(r.Alerts) > 0 {
		fmt.Fprintln(w, "\nalerts:")
		for _, a := range r.Alerts {
			fmt.Fprintf(w, "  %s %s %s: %s\n", a.Severity, a.Code, a.Scope, a.Message)
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
