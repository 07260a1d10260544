package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/monitor"
	"github.com/poiesic/kbsync/storage"
)

// resync deletes documents of imported scopes that the import no longer
// contains. It returns the scopes it pruned.
func (p *Pipeline) resync(ctx context.Context, loaded []*loaded, run *monitor.Run, logger *slog.Logger) ([]core.Scope, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.resync")
	defer span.End()

	failed := make(map[core.Domain]bool)
	keep := make(map[core.Scope]map[core.DocID]bool)
	for _, l := range loaded {
		if l.err != nil {
			if l.domain == "" {
				logger.Warn("full resync skipped: a failed source has no known domain", "path", l.src.Path)
				return nil, nil
			}
			failed[l.domain] = true
			continue
		}
		for scope, ids := range l.ids {
			if keep[scope] == nil {
				keep[scope] = make(map[core.DocID]bool, len(ids))
			}
			for id := range ids {
				keep[scope][id] = true
			}
		}
	}

	scopes := make([]core.Scope, 0, len(keep))
	for s := range keep {
		scopes = append(scopes, s)
	}
	slices.SortFunc(scopes, func(a, b core.Scope) int {
		return strings.Compare(a.String(), b.String())
	})

	var touched []core.Scope
	for _, scope := range scopes {
		if failed[scope.Domain] {
			logger.Warn("full resync skipped for scope with a failed source", "scope", scope.String())
			continue
		}
		n, err := p.prune(ctx, scope, keep[scope], logger)
		if n > 0 {
			run.ObservePruned(scope.Kind, n)
			touched = append(touched, scope)
		}
		if err != nil {
			return touched, err
		}
	}
	return touched, nil
}

func (p *Pipeline) prune(ctx context.Context, scope core.Scope, keep map[core.DocID]bool, logger *slog.Logger) (int, error) {
	var stale []core.DocID
	cursor := ""
	for {
		page, err := p.docs.ScanKeys(ctx, scope, cursor, p.cfg.PageSize)
		if err != nil {
			return 0, fmt.Errorf("scan %s: %w", scope, err)
		}
		for _, ref := range page.Refs {
			if !keep[ref.ID] {
				stale = append(stale, ref.ID)
			}
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}

	deleted := 0
	for start := 0; start < len(stale); start += p.cfg.PageSize {
		batch := stale[start:min(start+p.cfg.PageSize, len(stale))]
		outcomes, err := p.docs.DeleteDocuments(ctx, batch...)
		if err != nil {
			return deleted, fmt.Errorf("delete from %s: %w", scope, err)
		}
		for _, o := range outcomes {
			switch {
			case o.Status == storage.StatusDeleted:
				deleted++
			case !o.OK():
				logger.Warn("resync delete failed", "id", o.ID, "err", o.Err)
			}
		}
	}
	if deleted > 0 {
		logger.Info("full resync pruned documents", "scope", scope.String(), "deleted", deleted)
	}
	return deleted, nil
}
