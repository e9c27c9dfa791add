package lock

import (
	"context"
	"errors"
)

// ErrLockLost means the lock expired before it was released, so another
// process may have entered the critical section concurrently.
var ErrLockLost = errors.New("lock lost while held")

// Locker is an inter-process lock guarding one store. Lock blocks until the
// lock is held or ctx is done; contention is never reported as an error.
// This allows swapping implementations (file lock, Redis) per deployment.
type Locker interface {
	// Lock acquires the lock, waiting as long as needed
	Lock(ctx context.Context) error

	// Unlock releases the lock. It returns ErrLockLost when the lock had
	// already expired.
	Unlock(ctx context.Context) error

	// Name identifies the locked resource
	Name() string
}

// Factory hands out the lock guarding the store at path
type Factory interface {
	ForPath(path string) Locker
}

// With runs fn while holding the lock for path. It fails when fn fails or
// when the lock could not be held for the whole of fn.
func With(ctx context.Context, f Factory, path string, fn func() error) error {
	l := f.ForPath(path)
	if err := l.Lock(ctx); err != nil {
		return err
	}

	err := fn()
	return errors.Join(err, l.Unlock(context.WithoutCancel(ctx)))
}
