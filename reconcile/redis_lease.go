package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if this holder still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a Lease shared by every process using the same Redis.
type RedisLease struct {
	rdb    goredis.Cmdable
	prefix string
	logger *slog.Logger
}

// RedisConfig configures a Redis lease.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// NewRedisLease connects to Redis and verifies the connection.
func NewRedisLease(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisLease, func() error, error) {
	if cfg.Addr == "" {
		return nil, nil, fmt.Errorf("%w: redis addr required", ErrInvalidConfig)
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisLeaseWithClient(rdb, cfg.Prefix, logger), rdb.Close, nil
}

// NewRedisLeaseWithClient builds a lease on an existing client.
func NewRedisLeaseWithClient(rdb goredis.Cmdable, prefix string, logger *slog.Logger) *RedisLease {
	if prefix == "" {
		prefix = "kbsync:lease:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLease{rdb: rdb, prefix: prefix, logger: logger.With("component", "redis-lease")}
}

// Acquire sets the lease key if it is absent. The key expires after ttl
// so a crashed holder cannot block the scope forever.
func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	name := l.prefix + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lease %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{name}, token).Err(); err != nil {
			l.logger.Warn("lease release failed; it will expire", "key", name, "err", err)
		}
	}, true, nil
}
