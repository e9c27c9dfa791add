package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/instrument/internal/adapters/config"
	"github.com/selivandex/instrument/internal/adapters/sqlite"
	"github.com/selivandex/instrument/pkg/models"
	"github.com/selivandex/instrument/pkg/reader"
)

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"lr=0.01", "epochs=10", "opt=adam", "note="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lr": 0.01, "epochs": int64(10), "opt": "adam", "note": ""}, fields)

	_, err = parseFields([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseFields([]string{"=1"})
	assert.Error(t, err)
}

func TestParseIDs(t *testing.T) {
	assert.Equal(t, []models.ID{models.IntID(1), models.StringID("b")}, parseIDs(" 1, ,b "))
	assert.Nil(t, parseIDs(""))

	_, err := parseID("")
	assert.Error(t, err)
}

func TestRunBench(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.db")

	cfg := &config.Config{
		Writer:  config.WriterConfig{LowWatermark: 16, HighWatermark: 128},
		Backend: config.BackendConfig{Kind: config.BackendSQLite},
		SQLite:  config.SQLiteConfig{Path: path},
		Lock:    config.LockConfig{Kind: config.LockFile},
	}

	err := runBench(context.Background(), cfg, []string{"-steps", "200", "-epoch", "50", "-experiment", "7"})
	require.NoError(t, err)

	table, err := reader.LoadAllResults(context.Background(), path, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, table.Columns, "loss")
	assert.Contains(t, table.Columns, "lr")
	assert.NotContains(t, table.Columns, "debug")

	ids, err := reader.RunIDs(context.Background(), path, map[string]any{"steps": 200})
	require.NoError(t, err)
	assert.Equal(t, []models.ID{models.IntID(7)}, ids)

	b, err := sqlite.Open(path)
	require.NoError(t, err)
	defer b.Close()
	rows, err := b.ReadMetric(context.Background(), "loss", models.IntID(7))
	require.NoError(t, err)
	assert.Len(t, rows, 200)
}
