package pipeline

import (
	"context"
	"log/slog"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/monitor"
	"github.com/poiesic/kbsync/normalize"
	"github.com/poiesic/kbsync/source"
	"github.com/poiesic/kbsync/validate"
	"golang.org/x/sync/errgroup"
)

// loaded is one source after normalization.
type loaded struct {
	src    Source
	domain core.Domain
	sheets []validate.Sheet
	report monitor.SourceReport
	// ids holds every normalized record ID per scope, valid or not, so a
	// full resync never deletes a record the import still mentions.
	ids map[core.Scope]map[core.DocID]bool
	err error

	observed []sheetSummary
}

type sheetSummary struct {
	kind     core.Kind
	rows     int
	warnings int
}

func (l *loaded) fail(err error, logger *slog.Logger) *loaded {
	l.err = err
	l.report.Error = err.Error()
	l.sheets = nil
	logger.Error("source skipped", "path", l.src.Path, "err", err)
	return l
}

// readAll reads and normalizes sources concurrently. The only error is the
// context's; source problems are recorded on each source.
func (p *Pipeline) readAll(ctx context.Context, sources []Source, run *monitor.Run, logger *slog.Logger) ([]*loaded, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.read")
	defer span.End()

	out := make([]*loaded, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = p.read(src, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Observed in source order so reports are stable
	for _, l := range out {
		run.ObserveSource(l.report)
		if l.err != nil {
			continue
		}
		for _, s := range l.observed {
			run.ObserveSheet(s.kind, s.rows, s.warnings)
		}
	}
	return out, nil
}

func (p *Pipeline) read(src Source, logger *slog.Logger) *loaded {
	l := &loaded{
		src:    src,
		domain: src.Domain,
		report: monitor.SourceReport{Path: src.Path, Domain: src.Domain},
		ids:    make(map[core.Scope]map[core.DocID]bool),
	}
	if l.domain == "" {
		d, err := source.InferDomain(src.Path)
		if err != nil {
			return l.fail(&source.SchemaError{File: src.Path, Err: err}, logger)
		}
		l.domain = d
		l.report.Domain = d
	}

	wb, err := source.Open(src.Path)
	if err != nil {
		return l.fail(err, logger)
	}
	l.report.Sheets = len(wb.Sheets)

	for _, sheet := range wb.Sheets {
		kind := src.Kind
		if kind == "" {
			k, ignored, err := p.schema.Resolve(sheet.Name)
			if err != nil {
				return l.fail(&source.SchemaError{File: src.Path, Sheet: sheet.Name, Err: err}, logger)
			}
			if ignored {
				logger.Debug("sheet ignored", "path", src.Path, "sheet", sheet.Name)
				continue
			}
			kind = k
		}

		binding, err := p.schema.Bind(kind, sheet)
		if err != nil {
			return l.fail(err, logger)
		}
		batch, err := p.normalizer.Normalize(normalize.Input{
			Sheet:       sheet,
			Binding:     binding,
			Domain:      l.domain,
			SourceFile:  src.Path,
			ProcessedAt: wb.ModTime,
		})
		if err != nil {
			return l.fail(err, logger)
		}
		records, warnings := batch.Collect()

		scope := core.Scope{Domain: l.domain, Kind: kind}
		if l.ids[scope] == nil {
			l.ids[scope] = make(map[core.DocID]bool, len(records))
		}
		for _, rec := range records {
			l.ids[scope][core.IDOf(rec)] = true
		}

		l.sheets = append(l.sheets, validate.Sheet{
			Origin:  validate.Origin{SourceFile: src.Path, Sheet: sheet.Name},
			Kind:    kind,
			Records: records,
			Stats:   batch.Stats,
		})
		l.observed = append(l.observed, sheetSummary{kind: kind, rows: batch.Stats.Rows, warnings: len(warnings)})
		l.report.Rows += batch.Stats.Rows
		l.report.Records += len(records)
		l.report.Warnings += len(warnings)
	}

	logger.Info("source normalized",
		"path", src.Path, "domain", l.domain, "sheets", len(l.sheets), "records", l.report.Records, "warnings", l.report.Warnings)
	return l
}
