package reconcile

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Set KBSYNC_TEST_REDIS_ADDR (e.g. localhost:6379) to run against Redis.
func redisLease(t *testing.T) *RedisLease {
	t.Helper()
	addr := os.Getenv("KBSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KBSYNC_TEST_REDIS_ADDR not set")
	}
	lease, closeFn, err := NewRedisLease(context.Background(), RedisConfig{
		Addr:   addr,
		Prefix: "kbsync-test:" + uuid.NewString() + ":",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	return lease
}

func TestNewRedisLease_RequiresAddr(t *testing.T) {
	_, _, err := NewRedisLease(context.Background(), RedisConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRedisLease_Exclusive(t *testing.T) {
	lease := redisLease(t)
	ctx := context.Background()

	release, ok, err := lease.Acquire(ctx, "problem/STR", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lease.Acquire(ctx, "problem/STR", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release, ok, err = lease.Acquire(ctx, "problem/STR", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestRedisLease_Expires(t *testing.T) {
	lease := redisLease(t)
	ctx := context.Background()

	stale, ok, err := lease.Acquire(ctx, "problem/ANX", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok, err := lease.Acquire(ctx, "problem/ANX", time.Minute)
		return err == nil && ok
	}, 3*time.Second, 50*time.Millisecond)

	// The expired holder's release leaves the new holder alone
	stale()
	_, ok, err = lease.Acquire(ctx, "problem/ANX", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
