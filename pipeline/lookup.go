package pipeline

import (
	"context"
	"errors"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/retry"
	"github.com/poiesic/kbsync/storage"
)

// retryingLookup answers prior-state questions from the document store,
// retrying transient failures under the pipeline's policy.
type retryingLookup struct {
	docs   storage.DocumentStore
	clock  retry.Clock
	policy retry.Policy
}

func (l *retryingLookup) Exists(ctx context.Context, ids ...core.DocID) (map[core.DocID]bool, error) {
	var found map[core.DocID]bool
	err := retry.Do(ctx, l.clock, l.policy, func(ctx context.Context) error {
		var err error
		found, err = l.docs.Exists(ctx, ids...)
		if errors.Is(err, storage.ErrStorageClosed) {
			return retry.Permanent(err)
		}
		return err
	})
	return found, err
}
