package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "results.db")
	f := NewFileFactory()

	first := f.ForPath(path)
	second := f.ForPath(path)
	assert.Equal(t, path+".lock", first.Name())

	require.NoError(t, first.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := second.Lock(ctx)
	require.Error(t, err, "second holder must wait while the lock is held")

	require.NoError(t, first.Unlock(context.Background()))
	require.NoError(t, second.Lock(context.Background()))
	require.NoError(t, second.Unlock(context.Background()))
}

func TestWith(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	f := NewFileFactory()

	ran := false
	err := With(context.Background(), f, path, func() error {
		ran = true

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.Error(t, f.ForPath(path).Lock(ctx), "lock should be held inside With")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// released afterwards
	l := f.ForPath(path)
	require.NoError(t, l.Lock(context.Background()))
	require.NoError(t, l.Unlock(context.Background()))
}
