package sqlite

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/selivandex/instrument/internal/adapters/lock"
	"github.com/selivandex/instrument/pkg/logger"
)

const mergeSchema = "merge_target"

// Merge copies every table of this store into the store at target, creating
// the tables target lacks. Rows are appended as-is. The metadata table is
// copied by column name after widening target's copy. The target is locked
// for the duration because other processes may open it directly.
func (b *Backend) Merge(ctx context.Context, target string) error {
	return lock.With(ctx, b.locks, target, func() error {
		return b.mergeLocked(ctx, target)
	})
}

func (b *Backend) mergeLocked(ctx context.Context, target string) error {
	conn, err := b.db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: merge: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS `+mergeSchema, target); err != nil {
		return fmt.Errorf("sqlite: attach %s: %w", target, err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), `DETACH DATABASE `+mergeSchema); err != nil {
			logger.Warn("failed to detach merge target", zap.String("target", target), zap.Error(err))
		}
	}()

	tables, err := Tables(ctx, conn, "main")
	if err != nil {
		return err
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: merge: start transaction: %w", err)
	}

	for _, table := range tables {
		if table == MetadataTable {
			err = mergeMetadata(ctx, tx, table)
		} else {
			err = mergeMetric(ctx, tx, table)
		}
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: merge: commit: %w", err)
	}

	logger.Info("merged store",
		zap.String("source", b.path),
		zap.String("target", target),
		zap.Int("tables", len(tables)),
	)
	return nil
}

func mergeMetric(ctx context.Context, q Querier, table string) error {
	dst := mergeSchema + "." + QuoteIdent(table)

	exists, err := checkCollision(ctx, q, mergeSchema, table)
	if err != nil {
		return fmt.Errorf("sqlite: merge: %w", err)
	}
	if !exists {
		create := fmt.Sprintf(`CREATE TABLE %s(frame INTEGER, id, measurement)`, dst)
		if _, err := q.ExecContext(ctx, create); err != nil {
			return fmt.Errorf("sqlite: merge: create %s: %w", table, err)
		}
	}

	insert := fmt.Sprintf(
		`INSERT INTO %s (frame, id, measurement) SELECT frame, id, measurement FROM main.%s`,
		dst, QuoteIdent(table),
	)
	if _, err := q.ExecContext(ctx, insert); err != nil {
		return fmt.Errorf("sqlite: merge: copy %s: %w", table, err)
	}
	return nil
}

func mergeMetadata(ctx context.Context, q Querier, table string) error {
	cols, err := Columns(ctx, q, "main", table)
	if err != nil {
		return err
	}
	if err := EnsureTable(ctx, q, mergeSchema, table, cols); err != nil {
		return err
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdent(c)
	}
	list := strings.Join(quoted, ", ")

	insert := fmt.Sprintf(
		`INSERT INTO %s.%s (%s) SELECT %s FROM main.%s`,
		mergeSchema, QuoteIdent(table), list, list, QuoteIdent(table),
	)
	if _, err := q.ExecContext(ctx, insert); err != nil {
		return fmt.Errorf("sqlite: merge: copy %s: %w", table, err)
	}
	return nil
}
