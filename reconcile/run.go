package reconcile

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// Trigger asks Run for a pass over scopes soon. Bursts are debounced.
// Trigger never blocks.
func (r *Reconciler) Trigger(scopes ...core.Scope) {
	if len(scopes) == 0 {
		return
	}
	r.mu.Lock()
	for _, s := range scopes {
		r.dirty[s] = true
	}
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *Reconciler) drain() []core.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Scope, 0, len(r.dirty))
	for s := range r.dirty {
		out = append(out, s)
	}
	clear(r.dirty)
	slices.SortFunc(out, func(a, b core.Scope) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// Run reconciles every scope once, then on each interval tick, on Trigger,
// and on change-feed events until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	if feed, ok := r.docs.(storage.ChangeFeed); ok && r.cfg.WatchChanges {
		go r.watch(ctx, feed)
	}

	r.runAll(ctx, r.scopes)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.runAll(ctx, r.scopes)
		case <-r.signal:
			if debounce == nil {
				debounce = time.After(r.cfg.Debounce)
			}
		case <-debounce:
			debounce = nil
			r.runAll(ctx, r.drain())
		}
	}
}

func (r *Reconciler) watch(ctx context.Context, feed storage.ChangeFeed) {
	r.logger.Info("watching document changes")
	err := feed.Watch(ctx, func(id core.DocID) {
		if scope := id.Scope(); slices.Contains(r.scopes, scope) {
			r.Trigger(scope)
		}
	})
	if err != nil && ctx.Err() == nil {
		r.logger.Error("change feed stopped", "err", err)
	}
}

func (r *Reconciler) runAll(ctx context.Context, scopes []core.Scope) {
	if len(scopes) == 0 || ctx.Err() != nil {
		return
	}
	if _, err := r.ReconcileAll(ctx, scopes); err != nil && ctx.Err() == nil {
		r.logger.Error("reconcile run had failures", "scopes", len(scopes), "err", err)
	}
}
