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


package kbsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/ai/openai"
	"github.com/poiesic/kbsync/alert"
	"github.com/poiesic/kbsync/monitor"
	"github.com/poiesic/kbsync/normalize"
	"github.com/poiesic/kbsync/pipeline"
	"github.com/poiesic/kbsync/reconcile"
	"github.com/poiesic/kbsync/search"
	"github.com/poiesic/kbsync/source"
	"github.com/poiesic/kbsync/storage"
	"github.com/poiesic/kbsync/storage/badger"
	"github.com/poiesic/kbsync/storage/qdrant"
	"github.com/poiesic/kbsync/storage/sqldb"
	"github.com/poiesic/kbsync/writer"
)

// System is an opened knowledge base: both stores and every component
// that works on them.
type System struct {
	cfg        Config
	docs       storage.DocumentStore
	index      storage.VectorIndex
	pending    storage.PendingRepository
	embedder   ai.Embedder
	writer     *writer.Writer
	monitor    *monitor.Monitor
	reconciler *reconcile.Reconciler
	pipeline   *pipeline.Pipeline
	searcher   *search.Searcher
	logger     *slog.Logger

	// closers run in reverse order on Close.
	closers []func() error
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	logger   *slog.Logger
	embedder ai.Embedder
	alerter  alert.Alerter
	progress writer.Progress
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// WithEmbedder replaces the OpenAI-compatible embedder built from the
// embedding config.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *openOptions) {
		o.embedder = e
	}
}

// WithAlerter sets where alerts go. Default is the log.
func WithAlerter(a alert.Alerter) Option {
	return func(o *openOptions) {
		o.alerter = a
	}
}

// WithProgress reports writer progress.
func WithProgress(p writer.Progress) Option {
	return func(o *openOptions) {
		o.progress = p
	}
}

// Open validates cfg and opens the stores and components it selects. On
// error everything opened so far is closed again.
func Open(ctx context.Context, cfg Config, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &openOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	s := &System{cfg: cfg, logger: options.logger}
	if err := s.open(ctx, options); err != nil {
		if cerr := s.Close(); cerr != nil {
			s.logger.Error("error closing after failed open", "err", cerr)
		}
		return nil, err
	}
	return s, nil
}

func (s *System) open(ctx context.Context, options *openOptions) error {
	cfg, logger := s.cfg, s.logger

	var backend *badger.Backend
	if cfg.usesBadger() {
		var err error
		backend, err = badger.OpenBackend(cfg.DataDir, cfg.InMemory, logger)
		if err != nil {
			return fmt.Errorf("open badger: %w", err)
		}
		s.closers = append(s.closers, backend.Close)
	}

	switch cfg.Documents.Backend {
	case BackendSQL:
		db, err := sqldb.Open(cfg.Documents.SQL, logger)
		if err != nil {
			return err
		}
		docs := sqldb.NewDocumentStore(db)
		s.closers = append(s.closers, docs.Close)
		s.docs, s.pending = docs, sqldb.NewPendingRepository(db)
	default:
		s.docs, s.pending = badger.NewDocumentStore(backend), badger.NewPendingRepository(backend)
	}

	switch cfg.Index.Backend {
	case BackendQdrant:
		qcfg := cfg.Index.Qdrant
		if qcfg.VectorDim == 0 {
			qcfg.VectorDim = cfg.Embedding.Dimensions
		}
		index, err := qdrant.New(ctx, qcfg, qdrant.WithLogger(logger))
		if err != nil {
			return err
		}
		s.closers = append(s.closers, index.Close)
		s.index = index
	default:
		s.index = badger.NewVectorIndex(backend, cfg.Embedding.Dimensions)
	}

	s.embedder = options.embedder
	if s.embedder == nil {
		embedCfg := cfg.Embedding
		e, err := openai.NewEmbedder(&embedCfg)
		if err != nil {
			return fmt.Errorf("create embedder: %w", err)
		}
		s.embedder = ai.Limited(e, &embedCfg)
	}

	alerter := options.alerter
	if alerter == nil {
		alerter = alert.NewLogAlerter(logger)
	}

	var err error
	s.monitor, err = monitor.New(
		monitor.WithConfig(cfg.Monitor),
		monitor.WithAlerter(alerter),
		monitor.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	wopts := []writer.Option{writer.WithConfig(cfg.Writer), writer.WithLogger(logger)}
	if options.progress != nil {
		wopts = append(wopts, writer.WithProgress(options.progress))
	}
	s.writer, err = writer.New(s.docs, s.index, s.embedder, s.pending, wopts...)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func() error {
		s.writer.Release()
		return nil
	})

	var lease reconcile.Lease = reconcile.NewLocalLease()
	if cfg.Lease.Backend == BackendRedis {
		redisLease, closeRedis, err := reconcile.NewRedisLease(ctx, cfg.Lease.Redis, logger)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, closeRedis)
		lease = redisLease
	}

	s.reconciler, err = reconcile.New(s.docs, s.writer.Indexer(), s.pending,
		reconcile.WithConfig(cfg.Reconcile),
		reconcile.WithLease(lease),
		reconcile.WithAlerter(alerter),
		reconcile.WithReportHook(s.monitor.ObserveReconcile),
		reconcile.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	schema := source.DefaultSchema()
	if cfg.SchemaFile != "" {
		if schema, err = source.LoadSchema(cfg.SchemaFile); err != nil {
			return err
		}
	}
	rules := normalize.DefaultRules()
	if cfg.RulesFile != "" {
		if rules, err = normalize.LoadRules(cfg.RulesFile); err != nil {
			return err
		}
	}
	s.pipeline, err = pipeline.New(schema, rules, s.docs, s.writer, s.monitor,
		pipeline.WithConfig(cfg.Pipeline),
		pipeline.WithWeights(cfg.Weights),
		pipeline.WithTrigger(s.reconciler),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	s.searcher, err = search.New(s.docs, s.index, s.embedder, search.WithLogger(logger))
	if err != nil {
		return err
	}

	logger.Info("knowledge base opened",
		"documents", cfg.Documents.Backend, "index", cfg.Index.Backend, "lease", cfg.Lease.Backend)
	return nil
}

// Close releases everything Open acquired, in reverse order.
func (s *System) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error("error closing", "err", err)
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *System) Config() Config {
	return s.cfg
}

func (s *System) Documents() storage.DocumentStore {
	return s.docs
}

func (s *System) Index() storage.VectorIndex {
	return s.index
}

func (s *System) Pending() storage.PendingRepository {
	return s.pending
}

func (s *System) Writer() *writer.Writer {
	return s.writer
}

func (s *System) Monitor() *monitor.Monitor {
	return s.monitor
}

func (s *System) Reconciler() *reconcile.Reconciler {
	return s.reconciler
}

func (s *System) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

func (s *System) Searcher() *search.Searcher {
	return s.searcher
}
