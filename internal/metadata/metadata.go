// Package metadata attaches static run parameters (hyperparameters, git
// revision, host) to an experiment id inside an embedded store.
package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/selivandex/instrument/internal/adapters/lock"
	"github.com/selivandex/instrument/internal/adapters/sqlite"
	"github.com/selivandex/instrument/pkg/logger"
	"github.com/selivandex/instrument/pkg/models"
)

// IDColumn holds the experiment id in the metadata table
const IDColumn = "id"

// Attach inserts one metadata row for id into the store at target, widening
// the table with any field not seen before. The target lock is held
// throughout so concurrent attaches from other processes serialize.
func Attach(ctx context.Context, locks lock.Factory, target string, id models.ID, fields map[string]any) error {
	if id.IsZero() {
		return fmt.Errorf("metadata: experiment id is required")
	}
	if _, ok := fields[IDColumn]; ok {
		return fmt.Errorf("metadata: field %q is reserved", IDColumn)
	}

	cols := make([]string, 0, len(fields)+1)
	for name := range fields {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	cols = append([]string{IDColumn}, cols...)

	args := make([]any, len(cols))
	args[0] = id
	for i, name := range cols[1:] {
		v, err := models.Normalize(fields[name])
		if err != nil {
			return fmt.Errorf("metadata: field %s: %w", name, err)
		}
		args[i+1] = v
	}

	return lock.With(ctx, locks, target, func() error {
		return insert(ctx, target, cols, args)
	})
}

func insert(ctx context.Context, target string, cols []string, args []any) error {
	db, err := sqlite.Connect(target)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: start transaction: %w", err)
	}

	if err := sqlite.EnsureTable(ctx, tx, "main", sqlite.MetadataTable, cols); err != nil {
		tx.Rollback()
		return err
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = sqlite.QuoteIdent(c)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		sqlite.QuoteIdent(sqlite.MetadataTable),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("metadata: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("metadata: commit: %w", err)
	}

	logger.Debug("metadata attached",
		zap.String("target", target),
		zap.Any("experiment_id", args[0]),
		zap.Strings("fields", cols[1:]),
	)
	return nil
}
