package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/selivandex/instrument/internal/adapters/clickhouse"
	"github.com/selivandex/instrument/internal/adapters/config"
	"github.com/selivandex/instrument/internal/adapters/lock"
	"github.com/selivandex/instrument/internal/adapters/sqlite"
	"github.com/selivandex/instrument/internal/adapters/timescale"
	"github.com/selivandex/instrument/pkg/metrics"
	"github.com/selivandex/instrument/pkg/models"
)

func newLocks(ctx context.Context, cfg *config.LockConfig) (lock.Factory, error) {
	if cfg.Kind == config.LockRedis {
		return lock.NewRedisFactory(ctx, []string{"tcp://" + cfg.GetAddr()}, cfg.TTL)
	}
	return lock.NewFileFactory(), nil
}

func newBackend(ctx context.Context, cfg *config.Config, locks lock.Factory) (metrics.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendTimescale:
		return timescale.New(ctx, &cfg.Database)
	case config.BackendClickHouse:
		return clickhouse.New(ctx, &cfg.ClickHouse)
	case config.BackendSQLite:
		return sqlite.Open(cfg.SQLite.Path, sqlite.WithLocks(locks))
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

// parseID rejects an empty id; integer text stays numeric
func parseID(s string) (models.ID, error) {
	if s == "" {
		return models.ID{}, fmt.Errorf("experiment id is required")
	}
	return models.ParseID(s), nil
}

func parseIDs(csv string) []models.ID {
	var ids []models.ID
	for _, s := range splitList(csv) {
		ids = append(ids, models.ParseID(s))
	}
	return ids
}

func splitList(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseFields turns key=value arguments into typed fields: integers and
// floats are stored as numbers, everything else as text.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		fields[k] = parseValue(v)
	}
	return fields, nil
}

func parseValue(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
