package writer

import (
	"context"
	"errors"
	"time"

	"github.com/poiesic/kbsync/retry"
	"github.com/poiesic/kbsync/storage"
)

// caller runs store calls under a per-attempt timeout and the retry policy.
type caller struct {
	clock   retry.Clock
	policy  retry.Policy
	timeout time.Duration
}

func (c caller) do(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, c.clock, c.policy, func(ctx context.Context) error {
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		err := op(ctx)
		if permanent(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (c caller) now() time.Time {
	return c.clock.Now().UTC()
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	return errors.Is(err, storage.ErrStorageClosed) ||
		errors.Is(err, storage.ErrInvalidQuery) ||
		errors.Is(err, storage.ErrDimensionMismatch) ||
		errors.Is(err, storage.ErrEmptyVector)
}
