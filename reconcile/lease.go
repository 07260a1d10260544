package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Lease excludes concurrent passes over one scope across processes.
type Lease interface {
	// Acquire tries to take the lease for key for at most ttl. ok is false
	// when another holder has it. release gives the lease back early.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalLease is a Lease for a single process.
type LocalLease struct {
	mu      sync.Mutex
	holders map[string]localHolder
	now     func() time.Time
}

type localHolder struct {
	expires time.Time
	token   uint64
}

// NewLocalLease creates an in-process lease table.
func NewLocalLease() *LocalLease {
	return &LocalLease{holders: make(map[string]localHolder), now: time.Now}
}

var leaseTokens atomic.Uint64

// Acquire takes key unless an unexpired holder has it.
func (l *LocalLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, held := l.holders[key]; held && now.Before(h.expires) {
		return nil, false, nil
	}
	token := leaseTokens.Add(1)
	l.holders[key] = localHolder{expires: now.Add(ttl), token: token}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if h, held := l.holders[key]; held && h.token == token {
			delete(l.holders, key)
		}
	}, true, nil
}
