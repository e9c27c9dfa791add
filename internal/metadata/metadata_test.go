package metadata

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/instrument/internal/adapters/lock"
	"github.com/selivandex/instrument/internal/adapters/sqlite"
	"github.com/selivandex/instrument/pkg/models"
)

func TestAttach_WidensTable(t *testing.T) {
	ctx := context.Background()
	target := filepath.Join(t.TempDir(), "runs.db")
	locks := lock.NewFileFactory()

	require.NoError(t, Attach(ctx, locks, target, models.IntID(1), map[string]any{"lr": 0.1}))
	require.NoError(t, Attach(ctx, locks, target, models.StringID("b"), map[string]any{
		"lr":        0.2,
		"optimizer": "adam",
	}))

	db, err := sqlite.Connect(target)
	require.NoError(t, err)
	defer db.Close()

	cols, err := sqlite.Columns(ctx, db, "main", sqlite.MetadataTable)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "lr", "optimizer"}, cols)

	var rows []struct {
		ID        models.ID `db:"id"`
		LR        float64   `db:"lr"`
		Optimizer *string   `db:"optimizer"`
	}
	require.NoError(t, db.SelectContext(ctx, &rows, `SELECT id, lr, optimizer FROM "_metadata_" ORDER BY rowid`))
	require.Len(t, rows, 2)
	assert.Equal(t, models.IntID(1), rows[0].ID)
	assert.Nil(t, rows[0].Optimizer)
	assert.Equal(t, models.StringID("b"), rows[1].ID)
	require.NotNil(t, rows[1].Optimizer)
	assert.Equal(t, "adam", *rows[1].Optimizer)
}

func TestAttach_Concurrent(t *testing.T) {
	ctx := context.Background()
	target := filepath.Join(t.TempDir(), "runs.db")
	locks := lock.NewFileFactory()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			field := map[string]any{"seed": i}
			if i%2 == 0 {
				field["even"] = true
			}
			errs <- Attach(ctx, locks, target, models.IntID(int64(i)), field)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	db, err := sqlite.Connect(target)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM "_metadata_"`))
	assert.Equal(t, 8, n)
}

func TestAttach_Validation(t *testing.T) {
	ctx := context.Background()
	target := filepath.Join(t.TempDir(), "runs.db")
	locks := lock.NewFileFactory()

	assert.Error(t, Attach(ctx, locks, target, models.ID{}, map[string]any{"lr": 1}))
	assert.Error(t, Attach(ctx, locks, target, models.IntID(1), map[string]any{"id": 1}))
}
