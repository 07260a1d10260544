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


package pipeline

import (
	"context"
	"log/slog"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/dedup"
	"github.com/poiesic/kbsync/monitor"
	"github.com/poiesic/kbsync/normalize"
	"github.com/poiesic/kbsync/retry"
	"github.com/poiesic/kbsync/source"
	"github.com/poiesic/kbsync/storage"
	"github.com/poiesic/kbsync/validate"
	"github.com/poiesic/kbsync/writer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Source is one input file or CSV directory.
type Source struct {
	Path string
	// Domain is inferred from the file name when empty.
	Domain core.Domain
	// Kind forces the kind of every sheet, for single-table CSV files
	// whose name is not a sheet name.
	Kind core.Kind
}

// Trigger receives the scopes that need a reconcile pass.
// *reconcile.Reconciler satisfies it.
type Trigger interface {
	Trigger(scopes ...core.Scope)
}

// Pipeline imports sources into the stores.
type Pipeline struct {
	schema     *source.Schema
	normalizer *normalize.Normalizer
	validator  *validate.Validator
	docs       storage.DocumentStore
	lookup     *retryingLookup
	clock      retry.Clock
	writer     *writer.Writer
	monitor    *monitor.Monitor
	trigger    Trigger
	cfg        Config
	weights    *validate.Weights
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		p.cfg = cfg
		return nil
	}
}

// WithTrigger sets where scopes with pending repairs are reported after a
// run, usually the Reconciler.
func WithTrigger(t Trigger) Option {
	return func(p *Pipeline) error {
		p.trigger = t
		return nil
	}
}

// WithClock sets the clock used between lookup retries.
func WithClock(clock retry.Clock) Option {
	return func(p *Pipeline) error {
		if clock != nil {
			p.clock = clock
		}
		return nil
	}
}

// WithWeights overrides the quality score weights.
func WithWeights(w validate.Weights) Option {
	return func(p *Pipeline) error {
		p.weights = &w
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// New creates a Pipeline. Prior-state reference checks go to docs.
func New(
	schema *source.Schema,
	rules *normalize.Rules,
	docs storage.DocumentStore,
	w *writer.Writer,
	mon *monitor.Monitor,
	opts ...Option,
) (*Pipeline, error) {
	switch {
	case schema == nil:
		return nil, ErrSchemaRequired
	case rules == nil:
		return nil, ErrRulesRequired
	case docs == nil:
		return nil, ErrDocumentStoreRequired
	case w == nil:
		return nil, ErrWriterRequired
	case mon == nil:
		return nil, ErrMonitorRequired
	}

	p := &Pipeline{
		schema:  schema,
		docs:    docs,
		writer:  w,
		monitor: mon,
		clock:   retry.SystemClock{},
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/poiesic/kbsync/pipeline"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "pipeline")
	p.lookup = &retryingLookup{docs: docs, clock: p.clock, policy: p.cfg.Retry}

	var err error
	if p.normalizer, err = normalize.New(rules, normalize.WithLogger(p.logger)); err != nil {
		return nil, err
	}
	vopts := []validate.Option{validate.WithLogger(p.logger)}
	if p.weights != nil {
		vopts = append(vopts, validate.WithWeights(*p.weights))
	}
	if p.validator, err = validate.New(p.lookup, vopts...); err != nil {
		return nil, err
	}
	return p, nil
}

// Run imports sources. A source with a schema problem is skipped and
// reported; the others still import. The error is reserved for failures
// of the run as a whole; the report is returned either way, and then
// carries the error and counts every record left unwritten as failed.
func (p *Pipeline) Run(ctx context.Context, sources ...Source) (*monitor.RunReport, error) {
	return p.run(ctx, sources, false)
}

// FullResync imports sources like Run, then deletes stored documents of
// every imported (domain, kind) that the import no longer contains. The
// Reconciler prunes their points afterwards. Domains with a failed source
// are left alone.
func (p *Pipeline) FullResync(ctx context.Context, sources ...Source) (*monitor.RunReport, error) {
	return p.run(ctx, sources, true)
}

func (p *Pipeline) run(ctx context.Context, sources []Source, resync bool) (*monitor.RunReport, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.Int("kbsync.sources", len(sources)),
		attribute.Bool("kbsync.full_resync", resync),
	))
	defer span.End()

	run := p.monitor.Begin()
	logger := p.logger.With("run", run.ID())
	span.SetAttributes(attribute.String("kbsync.run_id", run.ID()))
	logger.Info("import started", "sources", len(sources), "fullResync", resync)

	touched, err := p.stages(ctx, sources, resync, run, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("import stopped", "err", err)
		run.Fail(err)
	}
	rep := run.Finish(ctx)
	p.handOff(rep, touched, logger)
	return rep, err
}

func (p *Pipeline) stages(ctx context.Context, sources []Source, resync bool, run *monitor.Run, logger *slog.Logger) ([]core.Scope, error) {
	loaded, err := p.readAll(ctx, sources, run, logger)
	if err != nil {
		return nil, err
	}

	var sheets []validate.Sheet
	for _, l := range loaded {
		if l.err == nil {
			sheets = append(sheets, l.sheets...)
		}
	}

	_, vspan := p.tracer.Start(ctx, "pipeline.validate")
	res, err := p.validator.Validate(ctx, sheets)
	vspan.End()
	if err != nil {
		for _, s := range sheets {
			run.ObserveUnwritten(s.Records, err)
		}
		return nil, err
	}
	run.ObserveValidation(res)

	kept, dropped := dedup.Deduplicate(res.Valid)
	run.ObserveDuplicates(dropped)
	if len(dropped) > 0 {
		logger.Info("duplicates collapsed", "kept", len(kept), "dropped", len(dropped))
	}

	if err := p.writeTiers(ctx, kept, run, logger); err != nil {
		return nil, err
	}
	if !resync {
		return nil, nil
	}
	return p.resync(ctx, loaded, run, logger)
}

// handOff triggers a reconcile pass for scopes with pending repairs and
// scopes a resync pruned.
func (p *Pipeline) handOff(rep *monitor.RunReport, touched []core.Scope, logger *slog.Logger) {
	if p.trigger == nil {
		return
	}
	scopes := append(rep.PendingScopes(), touched...)
	if len(scopes) == 0 {
		return
	}
	logger.Info("requesting reconcile", "scopes", len(scopes))
	p.trigger.Trigger(scopes...)
}
