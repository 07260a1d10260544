package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/monitor"
	"github.com/poiesic/kbsync/validate"
	"github.com/poiesic/kbsync/writer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// tiers orders the kinds so that every reference points into an earlier
// tier. Kinds within a tier are written concurrently.
var tiers = [][]core.Kind{
	{core.KindProblem, core.KindNextAction},
	{core.KindAssessment, core.KindSuggestion, core.KindFeedbackPrompt, core.KindTrainingExample},
}

func (p *Pipeline) writeTiers(ctx context.Context, records []core.Record, run *monitor.Run, logger *slog.Logger) error {
	byKind := make(map[core.Kind][]core.Record)
	batch := make(map[core.DocID]bool, len(records))
	for _, rec := range records {
		byKind[rec.Kind()] = append(byKind[rec.Kind()], rec)
		batch[core.IDOf(rec)] = true
	}
	committed := make(map[core.DocID]bool, len(records))

	for t, tier := range tiers {
		if err := ctx.Err(); err != nil {
			unwritten(run, byKind, tiers[t:], err)
			return err
		}
		for _, kind := range tier {
			byKind[kind] = p.dropOrphans(ctx, byKind[kind], batch, committed, run, logger)
		}

		results := make([]*writer.Result, len(tier))
		g, gctx := errgroup.WithContext(ctx)
		for i, kind := range tier {
			recs := byKind[kind]
			if len(recs) == 0 {
				continue
			}
			g.Go(func() error {
				wctx, span := p.tracer.Start(gctx, "pipeline.write", trace.WithAttributes(
					attribute.String("kbsync.kind", string(kind)),
					attribute.Int("kbsync.records", len(recs)),
				))
				defer span.End()
				res, err := p.writer.Write(wctx, kind, recs)
				results[i] = res
				if res != nil {
					span.SetAttributes(
						attribute.Int("kbsync.committed", len(res.Committed)),
						attribute.Int("kbsync.pending", res.Pending),
					)
				}
				return err
			})
		}
		err := g.Wait()
		for i, res := range results {
			if res == nil {
				if err != nil {
					run.ObserveUnwritten(byKind[tier[i]], err)
				}
				continue
			}
			run.ObserveWrite(res)
			for _, id := range res.Committed {
				committed[id] = true
			}
		}
		if err != nil {
			err = fmt.Errorf("write: %w", err)
			unwritten(run, byKind, tiers[t+1:], err)
			return err
		}
	}
	return nil
}

// unwritten reports the records of the remaining tiers as never written.
func unwritten(run *monitor.Run, byKind map[core.Kind][]core.Record, rest [][]core.Kind, err error) {
	for _, tier := range rest {
		for _, kind := range tier {
			run.ObserveUnwritten(byKind[kind], err)
		}
	}
}

// dropOrphans rejects records whose in-batch parent failed to commit,
// unless an earlier run committed that parent.
func (p *Pipeline) dropOrphans(ctx context.Context, recs []core.Record, batch, committed map[core.DocID]bool, run *monitor.Run, logger *slog.Logger) []core.Record {
	seen := make(map[core.DocID]bool)
	var suspect []core.DocID
	for _, rec := range recs {
		for _, ref := range core.References(rec) {
			if batch[ref.Target] && !committed[ref.Target] && !seen[ref.Target] {
				seen[ref.Target] = true
				suspect = append(suspect, ref.Target)
			}
		}
	}
	if len(suspect) == 0 {
		return recs
	}

	prior, err := p.lookup.Exists(ctx, suspect...)
	if err != nil {
		// Unverifiable parents count as missing
		logger.Warn("could not check prior parents", "parents", len(suspect), "err", err)
		prior = nil
	}

	kept := recs[:0:0]
	for _, rec := range recs {
		ref, orphan := orphanRef(rec, seen, prior)
		if !orphan {
			kept = append(kept, rec)
			continue
		}
		lin := rec.Common().Lineage
		detail := fmt.Sprintf("%s failed to commit in this run", ref.Target)
		if err != nil {
			detail += "; prior state unavailable: " + err.Error()
		}
		rej := validate.Rejection{
			ID:     core.IDOf(rec),
			Kind:   rec.Kind(),
			Domain: rec.Common().Domain,
			Key:    rec.NaturalKey(),
			Reason: validate.ReasonUnresolvedReference,
			Field:  ref.Field,
			Detail: detail,
			Origin: validate.Origin{SourceFile: lin.SourceFile, Sheet: lin.SheetName},
			Row:    lin.Row,
		}
		run.ObserveRejected(rej)
		logger.Warn("record rejected", "kind", rej.Kind, "key", rej.Key, "reason", rej.Reason, "detail", detail)
	}
	return kept
}

func orphanRef(rec core.Record, suspect, prior map[core.DocID]bool) (core.Reference, bool) {
	for _, ref := range core.References(rec) {
		if suspect[ref.Target] && !prior[ref.Target] {
			return ref, true
		}
	}
	return core.Reference{}, false
}
