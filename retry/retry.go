package retry

import (
	"context"
	"log/slog"
)

// Do runs op until it succeeds, fails permanently, or the policy runs out
// of attempts. Waiting between attempts honors ctx.
func Do(ctx context.Context, clock Clock, policy Policy, op func(ctx context.Context) error) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if clock == nil {
		clock = SystemClock{}
	}

	b := policy.Start()
	for {
		// Check context before attempting
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if b.Attempts() > 0 {
				slog.Debug("operation succeeded after retry", "attempt", b.Attempts()+1)
			}
			b.Succeed()
			return nil
		}

		delay, ok := b.Fail(err)
		if !ok {
			if IsPermanent(err) {
				return err
			}
			return exhausted(b.Attempts(), err)
		}
		slog.Debug("operation failed, will retry",
			"attempt", b.Attempts(), "maxAttempts", policy.MaxAttempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(delay):
			b.Resume()
		}
	}
}
