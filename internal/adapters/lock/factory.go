package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/selivandex/instrument/pkg/logger"
)

const fileRetryDelay = 50 * time.Millisecond

// FileFactory creates `<path>.lock` file locks next to each store. Works for
// processes sharing a local filesystem.
type FileFactory struct{}

// NewFileFactory creates file lock factory
func NewFileFactory() *FileFactory {
	return &FileFactory{}
}

// ForPath returns the lock guarding the store at path
func (f *FileFactory) ForPath(path string) Locker {
	return &FileLock{fl: flock.New(path + ".lock")}
}

// FileLock is an advisory flock(2) on a sidecar file
type FileLock struct {
	fl *flock.Flock
}

func (l *FileLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	locked, err := l.fl.TryLockContext(ctx, fileRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire %s: %w", l.fl.Path(), err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire %s: %w", l.fl.Path(), ctx.Err())
	}

	logger.Debug("file lock acquired", zap.String("lock", l.fl.Path()))
	return nil
}

func (l *FileLock) Unlock(ctx context.Context) error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release %s: %w", l.fl.Path(), err)
	}
	return nil
}

func (l *FileLock) Name() string {
	return l.fl.Path()
}
