package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
	"go.uber.org/zap"

	"github.com/selivandex/instrument/pkg/logger"
)

const redisRetryDelay = 100 * time.Millisecond

// lockManager is the part of *redlock.RedLock used here
type lockManager interface {
	Lock(ctx context.Context, resource string, ttl time.Duration) (time.Duration, error)
	UnLock(ctx context.Context, resource string) error
}

// RedisFactory creates Redlock-backed locks, for stores on shared
// filesystems (NFS, Lustre) where flock is not reliable across hosts.
type RedisFactory struct {
	lockManager lockManager
	ttl         time.Duration
}

// NewRedisFactory connects the Redlock manager to the given addresses,
// e.g. []string{"tcp://redis1:6379"}
func NewRedisFactory(ctx context.Context, addrs []string, ttl time.Duration) (*RedisFactory, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	lockManager, err := redlock.NewRedLock(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("failed to create redlock manager: %w", err)
	}

	logger.Info("redis redlock manager initialized",
		zap.Strings("addresses", addrs),
		zap.Duration("ttl", ttl),
	)

	return &RedisFactory{lockManager: lockManager, ttl: ttl}, nil
}

// ForPath returns the lock guarding the store at path. Paths are made
// absolute so every process derives the same lock name.
func (f *RedisFactory) ForPath(path string) Locker {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &RedisLock{
		lockManager: f.lockManager,
		lockName:    "instrument:lock:" + path,
		ttl:         f.ttl,
	}
}

// RedisLock holds a Redlock lease. Redlock cannot extend a lease in place,
// so the lease is not renewed: LOCK_TTL must cover the longest merge or
// metadata write. Unlock reports ErrLockLost when the lease ran out first.
type RedisLock struct {
	lockManager lockManager
	lockName    string
	ttl         time.Duration

	mu       sync.Mutex
	locked   bool
	deadline time.Time
}

func (l *RedisLock) Lock(ctx context.Context) error {
	for {
		start := time.Now()
		validity, err := l.lockManager.Lock(ctx, l.lockName, l.ttl)
		if err == nil && validity > 0 {
			l.mu.Lock()
			l.locked = true
			l.deadline = start.Add(validity)
			l.mu.Unlock()

			logger.Debug("redis lock acquired", zap.String("lock", l.lockName), zap.Duration("validity", validity))
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to acquire %s: %w", l.lockName, ctx.Err())
		case <-time.After(redisRetryDelay):
		}
	}
}

func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.locked {
		l.mu.Unlock()
		return nil
	}
	l.locked = false
	expired := time.Now().After(l.deadline)
	l.mu.Unlock()

	// the unlock script only deletes our own value, so this is safe after expiry
	if err := l.lockManager.UnLock(ctx, l.lockName); err != nil {
		logger.Warn("failed to release redis lock", zap.String("lock", l.lockName), zap.Error(err))
	}

	if expired {
		logger.Error("redis lock expired while held", zap.String("lock", l.lockName), zap.Duration("ttl", l.ttl))
		return fmt.Errorf("%w: %s", ErrLockLost, l.lockName)
	}
	return nil
}

func (l *RedisLock) Name() string {
	return l.lockName
}
