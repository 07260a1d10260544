package reconcile

import (
	"context"
	"fmt"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// drift holds only the disagreements, so memory grows with the drift and
// not with the scope.
type drift struct {
	index   []storage.KeyRef // missing or stale points
	orphans []core.DocID     // points without a document
}

func (r *Reconciler) diff(ctx context.Context, scope core.Scope, rep *Report) (*drift, error) {
	d := &drift{}
	if scope.Kind.Embeddable() {
		if err := r.diffDocuments(ctx, scope, rep, d); err != nil {
			return nil, err
		}
	}
	if err := r.diffPoints(ctx, scope, rep, d); err != nil {
		return nil, err
	}
	return d, nil
}

// diffDocuments finds documents whose point is missing or carries another
// content hash.
func (r *Reconciler) diffDocuments(ctx context.Context, scope core.Scope, rep *Report, d *drift) error {
	cursor := ""
	for {
		r.setState(scope, StateScanning)
		var page *storage.KeyPage
		if err := r.call(ctx, func(ctx context.Context) error {
			var err error
			page, err = r.docs.ScanKeys(ctx, scope, cursor, r.cfg.PageSize)
			return err
		}); err != nil {
			return fmt.Errorf("scan documents: %w", err)
		}
		rep.Documents += len(page.Refs)

		if len(page.Refs) > 0 {
			r.setState(scope, StateDiffing)
			ids := make([]core.DocID, len(page.Refs))
			for i, ref := range page.Refs {
				ids[i] = ref.ID
			}
			hashes, err := r.indexer.Lookup(ctx, ids...)
			if err != nil {
				return fmt.Errorf("lookup points: %w", err)
			}
			for _, ref := range page.Refs {
				h, ok := hashes[ref.ID]
				switch {
				case !ok:
					rep.Missing++
				case h != ref.ContentHash:
					rep.Stale++
				default:
					continue
				}
				d.index = append(d.index, ref)
			}
		}

		if page.Next == "" {
			return nil
		}
		cursor = page.Next
	}
}

// diffPoints finds points whose document no longer exists. Points of kinds
// that are not embedded are always orphans.
func (r *Reconciler) diffPoints(ctx context.Context, scope core.Scope, rep *Report, d *drift) error {
	cursor := ""
	for {
		r.setState(scope, StateScanning)
		page, err := r.indexer.Scan(ctx, scope, cursor, r.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("scan points: %w", err)
		}
		rep.Points += len(page.Refs)

		if len(page.Refs) > 0 {
			r.setState(scope, StateDiffing)
			ids := make([]core.DocID, len(page.Refs))
			for i, ref := range page.Refs {
				ids[i] = ref.ID
			}
			exists := map[core.DocID]bool{}
			if scope.Kind.Embeddable() {
				if err := r.call(ctx, func(ctx context.Context) error {
					var err error
					exists, err = r.docs.Exists(ctx, ids...)
					return err
				}); err != nil {
					return fmt.Errorf("check documents: %w", err)
				}
			}
			for _, id := range ids {
				if !exists[id] {
					rep.Orphaned++
					d.orphans = append(d.orphans, id)
				}
			}
		}

		if page.Next == "" {
			return nil
		}
		cursor = page.Next
	}
}
