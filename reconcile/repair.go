package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/kbsync/alert"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// repairs collects the pending-state changes of one pass.
type repairs struct {
	save    []*storage.PendingItem
	clear   []core.DocID
	newDead []string
}

func (r *Reconciler) repair(ctx context.Context, scope core.Scope, d *drift, pending map[core.DocID]*storage.PendingItem, rep *Report, logger *slog.Logger) error {
	now := r.clock.Now().UTC()
	out := &repairs{}
	seen := make(map[core.DocID]bool, len(d.index)+len(d.orphans))

	var todo []storage.KeyRef
	for _, ref := range d.index {
		seen[ref.ID] = true
		if r.hold(pending[ref.ID], storage.OpIndex, ref.ContentHash, now, rep) {
			continue
		}
		todo = append(todo, ref)
	}
	var orphans []core.DocID
	for _, id := range d.orphans {
		seen[id] = true
		if r.hold(pending[id], storage.OpDelete, "", now, rep) {
			continue
		}
		orphans = append(orphans, id)
	}

	// Pending items whose drift is gone
	for id := range pending {
		if !seen[id] {
			out.clear = append(out.clear, id)
			rep.Resolved++
		}
	}

	var err error
	for start := 0; start < len(todo) && err == nil; start += r.cfg.RepairBatch {
		batch := todo[start:min(start+r.cfg.RepairBatch, len(todo))]
		err = r.reindex(ctx, batch, pending, now, rep, out)
	}
	for start := 0; start < len(orphans) && err == nil; start += r.cfg.RepairBatch {
		batch := orphans[start:min(start+r.cfg.RepairBatch, len(orphans))]
		r.prune(ctx, batch, pending, now, rep, out)
	}

	if perr := r.persist(ctx, scope, out, logger); perr != nil && err == nil {
		err = perr
	}
	return err
}

// hold reports whether a pending item blocks a repair in this pass.
func (r *Reconciler) hold(p *storage.PendingItem, op storage.PendingOp, hash string, now time.Time, rep *Report) bool {
	if p == nil || p.Op != op || p.ContentHash != hash {
		return false
	}
	if p.Dead {
		rep.Quarantined++
		return true
	}
	if !p.Due(now) {
		rep.Deferred++
		return true
	}
	return false
}

func (r *Reconciler) reindex(ctx context.Context, refs []storage.KeyRef, pending map[core.DocID]*storage.PendingItem, now time.Time, rep *Report, out *repairs) error {
	ids := make([]core.DocID, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	var docs []*core.Document
	if err := r.call(ctx, func(ctx context.Context) error {
		var err error
		docs, err = r.docs.GetDocuments(ctx, ids...)
		return err
	}); err != nil {
		return fmt.Errorf("load documents: %w", err)
	}

	found := make(map[core.DocID]bool, len(docs))
	for _, doc := range docs {
		found[doc.ID] = true
	}
	for _, id := range ids {
		// Deleted since the scan; the next pass prunes its point.
		if !found[id] && pending[id] != nil {
			out.clear = append(out.clear, id)
		}
	}

	for i, o := range r.indexer.Index(ctx, docs...) {
		if o.OK() {
			rep.Repaired++
			if pending[o.ID] != nil {
				out.clear = append(out.clear, o.ID)
			}
			continue
		}
		r.failed(pending[o.ID], o.ID, storage.OpIndex, docs[i].ContentHash, outcomeErr(o), now, rep, out)
	}
	return nil
}

func (r *Reconciler) prune(ctx context.Context, ids []core.DocID, pending map[core.DocID]*storage.PendingItem, now time.Time, rep *Report, out *repairs) {
	outcomes, _ := r.indexer.Delete(ctx, ids...)
	for _, o := range outcomes {
		if o.OK() {
			rep.Deleted++
			if pending[o.ID] != nil {
				out.clear = append(out.clear, o.ID)
			}
			continue
		}
		r.failed(pending[o.ID], o.ID, storage.OpDelete, "", outcomeErr(o), now, rep, out)
	}
}

// failed advances the item's backoff. Exhausted items turn dead.
func (r *Reconciler) failed(prev *storage.PendingItem, id core.DocID, op storage.PendingOp, hash string, err error, now time.Time, rep *Report, out *repairs) {
	item := &storage.PendingItem{ID: id, Op: op, ContentHash: hash, FirstSeen: now}
	if prev != nil && prev.Op == op && prev.ContentHash == hash {
		item.Attempts = prev.Attempts
		item.FirstSeen = prev.FirstSeen
	}

	b := r.cfg.Repair.Resume(item.Attempts)
	delay, retrying := b.Fail(err)
	item.Attempts = max(b.Attempts(), item.Attempts)
	item.Reason = err.Error()
	item.LastAttempt = now
	item.NextAttempt = now.Add(delay)
	item.Dead = !retrying

	rep.Failed++
	rep.FailedKeys = append(rep.FailedKeys, id.Key())
	if item.Dead {
		out.newDead = append(out.newDead, id.Key())
	}
	out.save = append(out.save, item)
}

func (r *Reconciler) persist(ctx context.Context, scope core.Scope, out *repairs, logger *slog.Logger) error {
	if len(out.save) > 0 {
		if err := r.call(ctx, func(ctx context.Context) error {
			return r.pending.SavePending(ctx, out.save...)
		}); err != nil {
			return fmt.Errorf("save pending: %w", err)
		}
	}
	if len(out.clear) > 0 {
		if err := r.call(ctx, func(ctx context.Context) error {
			return r.pending.DeletePending(ctx, out.clear...)
		}); err != nil {
			return fmt.Errorf("clear pending: %w", err)
		}
	}
	if len(out.newDead) > 0 {
		a := alert.Alert{
			Severity: alert.SeverityCritical,
			Code:     alert.CodePersistentFailure,
			Scope:    scope,
			Message:  fmt.Sprintf("%d repairs exhausted their retries and are quarantined", len(out.newDead)),
			Keys:     out.newDead,
			At:       r.clock.Now().UTC(),
		}
		if err := r.alerter.Alert(ctx, a); err != nil {
			logger.Warn("alert delivery failed", "err", err)
		}
	}
	return nil
}

// Requeue revives pending items so the next pass retries them, including
// quarantined ones. It returns how many items it found.
func (r *Reconciler) Requeue(ctx context.Context, ids ...core.DocID) (int, error) {
	now := r.clock.Now().UTC()
	var items []*storage.PendingItem
	for _, id := range ids {
		item, err := r.pending.GetPending(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return 0, err
		}
		item.Attempts = 0
		item.Dead = false
		item.NextAttempt = now
		items = append(items, item)
	}
	if len(items) == 0 {
		return 0, nil
	}
	if err := r.pending.SavePending(ctx, items...); err != nil {
		return 0, err
	}
	scopes := make([]core.Scope, 0, len(items))
	for _, item := range items {
		scopes = append(scopes, item.Scope())
	}
	r.Trigger(scopes...)
	return len(items), nil
}

func outcomeErr(o storage.Outcome) error {
	if o.Err != nil {
		return o.Err
	}
	return fmt.Errorf("store reported %s", o.Status)
}
