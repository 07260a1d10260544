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


package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/kbsync/alert"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/retry"
	"github.com/poiesic/kbsync/storage"
	"github.com/poiesic/kbsync/writer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Reconciler keeps the vector index converged on the document store.
type Reconciler struct {
	docs    storage.DocumentStore
	indexer *writer.Indexer
	pending storage.PendingRepository
	lease   Lease
	alerter alert.Alerter
	clock   retry.Clock
	cfg     Config
	scopes  []core.Scope
	hooks   []func(context.Context, *Report)
	logger  *slog.Logger
	tracer  trace.Tracer

	group  singleflight.Group
	states sync.Map // core.Scope -> State

	mu     sync.Mutex
	dirty  map[core.Scope]bool
	signal chan struct{}
}

// Option configures a Reconciler.
type Option func(*Reconciler) error

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(r *Reconciler) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		r.cfg = cfg
		return nil
	}
}

// WithLease sets the cross-process lease. Default is a LocalLease.
func WithLease(l Lease) Option {
	return func(r *Reconciler) error {
		if l != nil {
			r.lease = l
		}
		return nil
	}
}

// WithAlerter sets where persistent failures are reported.
// Default logs them.
func WithAlerter(a alert.Alerter) Option {
	return func(r *Reconciler) error {
		if a != nil {
			r.alerter = a
		}
		return nil
	}
}

// WithClock sets the clock used for backoff and timestamps.
func WithClock(c retry.Clock) Option {
	return func(r *Reconciler) error {
		if c != nil {
			r.clock = c
		}
		return nil
	}
}

// WithScopes sets the scopes covered by Run. Default is every embeddable
// scope of every known domain.
func WithScopes(scopes ...core.Scope) Option {
	return func(r *Reconciler) error {
		r.scopes = scopes
		return nil
	}
}

// WithReportHook calls fn after every pass.
func WithReportHook(fn func(context.Context, *Report)) Option {
	return func(r *Reconciler) error {
		if fn != nil {
			r.hooks = append(r.hooks, fn)
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// New creates a Reconciler. The indexer is usually the Writer's, so repairs
// share its embedding pool.
func New(docs storage.DocumentStore, indexer *writer.Indexer, pending storage.PendingRepository, opts ...Option) (*Reconciler, error) {
	if docs == nil {
		return nil, ErrDocumentStoreRequired
	}
	if indexer == nil {
		return nil, ErrIndexerRequired
	}
	if pending == nil {
		return nil, ErrPendingRepositoryRequired
	}

	r := &Reconciler{
		docs:    docs,
		indexer: indexer,
		pending: pending,
		lease:   NewLocalLease(),
		clock:   retry.SystemClock{},
		cfg:     DefaultConfig(),
		scopes:  core.EmbeddableScopes(),
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/poiesic/kbsync/reconcile"),
		dirty:   make(map[core.Scope]bool),
		signal:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "reconciler")
	if r.alerter == nil {
		r.alerter = alert.NewLogAlerter(r.logger)
	}
	return r, nil
}

// Scopes returns the scopes covered by Run.
func (r *Reconciler) Scopes() []core.Scope {
	return r.scopes
}

// State returns the current phase of a scope.
func (r *Reconciler) State(scope core.Scope) State {
	if s, ok := r.states.Load(scope); ok {
		return s.(State)
	}
	return StateIdle
}

func (r *Reconciler) setState(scope core.Scope, s State) {
	r.states.Store(scope, s)
}

// Reconcile runs one pass over scope. Concurrent calls for the same scope
// share one pass; ErrLeaseHeld means another process is running it.
// The report is returned even when the pass stopped on an error.
func (r *Reconciler) Reconcile(ctx context.Context, scope core.Scope) (*Report, error) {
	v, err, _ := r.group.Do(scope.String(), func() (any, error) {
		return r.pass(ctx, scope)
	})
	rep, _ := v.(*Report)
	return rep, err
}

// ReconcileAll reconciles scopes concurrently, at most Concurrency at a
// time. Reports are in scope order; a scope whose lease was held elsewhere
// has a nil report and no error.
func (r *Reconciler) ReconcileAll(ctx context.Context, scopes []core.Scope) ([]*Report, error) {
	reports := make([]*Report, len(scopes))
	errs := make([]error, len(scopes))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, scope := range scopes {
		g.Go(func() error {
			rep, err := r.Reconcile(ctx, scope)
			if errors.Is(err, ErrLeaseHeld) {
				r.logger.Debug("scope busy elsewhere", "scope", scope.String())
				return nil
			}
			reports[i] = rep
			if err != nil {
				errs[i] = fmt.Errorf("reconcile %s: %w", scope, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

func (r *Reconciler) pass(ctx context.Context, scope core.Scope) (*Report, error) {
	release, ok, err := r.lease.Acquire(ctx, scope.String(), r.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	defer release()

	ctx, span := r.tracer.Start(ctx, "reconcile.pass",
		trace.WithAttributes(attribute.String("kbsync.scope", scope.String())))
	defer span.End()
	defer r.setState(scope, StateIdle)

	start := r.clock.Now()
	rep := &Report{Scope: scope}
	logger := r.logger.With("scope", scope.String())

	err = r.run(ctx, scope, rep, logger)
	rep.Duration = r.clock.Now().Sub(start)

	span.SetAttributes(
		attribute.Int("kbsync.drift", rep.Drift()),
		attribute.Int("kbsync.repaired", rep.Repaired+rep.Deleted),
		attribute.Int("kbsync.failed", rep.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("reconcile pass failed", "err", err)
	} else if rep.Drift() > 0 || rep.Failed > 0 {
		logger.Info("reconcile pass repaired drift",
			"documents", rep.Documents, "points", rep.Points,
			"missing", rep.Missing, "stale", rep.Stale, "orphaned", rep.Orphaned,
			"repaired", rep.Repaired, "deleted", rep.Deleted, "failed", rep.Failed,
			"deferred", rep.Deferred, "quarantined", rep.Quarantined, "duration", rep.Duration)
	} else {
		logger.Debug("scope in sync", "documents", rep.Documents, "points", rep.Points)
	}

	for _, hook := range r.hooks {
		hook(ctx, rep)
	}
	return rep, err
}

func (r *Reconciler) run(ctx context.Context, scope core.Scope, rep *Report, logger *slog.Logger) error {
	r.setState(scope, StateScanning)
	var items []*storage.PendingItem
	if err := r.call(ctx, func(ctx context.Context) error {
		var err error
		items, err = r.pending.ListPending(ctx, scope)
		return err
	}); err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	pending := make(map[core.DocID]*storage.PendingItem, len(items))
	for _, item := range items {
		pending[item.ID] = item
	}

	d, err := r.diff(ctx, scope, rep)
	if err != nil {
		return err
	}

	r.setState(scope, StateRepairing)
	return r.repair(ctx, scope, d, pending, rep, logger)
}

// call runs a store call under the per-call timeout with short in-pass
// retries for transient failures.
func (r *Reconciler) call(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, r.clock, retry.DefaultPolicy(), func(ctx context.Context) error {
		if r.cfg.StoreTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.cfg.StoreTimeout)
			defer cancel()
		}
		err := op(ctx)
		if errors.Is(err, storage.ErrStorageClosed) {
			return retry.Permanent(err)
		}
		return err
	})
}
