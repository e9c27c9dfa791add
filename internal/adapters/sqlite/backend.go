package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/selivandex/instrument/internal/adapters/lock"
	"github.com/selivandex/instrument/pkg/logger"
	"github.com/selivandex/instrument/pkg/metrics"
	"github.com/selivandex/instrument/pkg/models"
)

// Memory is the location of a private in-memory store
const Memory = ":memory:"

var _ metrics.Backend = (*Backend)(nil)

// Backend is the embedded store: one table per metric with columns
// (frame, id, measurement), in a single file or in memory.
type Backend struct {
	path  string
	db    *sqlx.DB
	locks lock.Factory
	built map[string]struct{}
}

// Option configures a Backend
type Option func(*Backend)

// WithLocks sets the lock factory used to guard merge targets
func WithLocks(f lock.Factory) Option {
	return func(b *Backend) {
		b.locks = f
	}
}

// Open opens (creating if needed) the store at path, or a private in-memory
// store for Memory.
func Open(path string, opts ...Option) (*Backend, error) {
	b := &Backend{
		path:  path,
		locks: lock.NewFileFactory(),
		built: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	if !b.InMemory() {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	db, err := Connect(path)
	if err != nil {
		return nil, err
	}
	b.db = db

	return b, nil
}

// Connect opens a single-connection handle. An in-memory database lives
// exactly as long as its connection, and a single connection also keeps
// access serialized.
func Connect(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: connect %s: %w", path, err)
	}

	return db, nil
}

// Path returns the store location
func (b *Backend) Path() string {
	return b.path
}

// InMemory reports whether the store has no file behind it
func (b *Backend) InMemory() bool {
	return strings.HasPrefix(b.path, Memory) || strings.Contains(b.path, "mode=memory")
}

// InitDB loads the names of existing metric tables
func (b *Backend) InitDB(ctx context.Context) error {
	tables, err := Tables(ctx, b.db, "main")
	if err != nil {
		return err
	}
	for _, t := range tables {
		b.built[t] = struct{}{}
	}
	return nil
}

// GetTables returns the known table names, the metadata table included
func (b *Backend) GetTables() []string {
	names := make([]string, 0, len(b.built))
	for name := range b.built {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteMany appends all points in a single transaction
func (b *Backend) WriteMany(ctx context.Context, points models.Buffer) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: start transaction: %w", err)
	}

	var created []string
	for _, metric := range points.Metrics() {
		if _, ok := b.built[metric]; !ok {
			exists, err := checkCollision(ctx, tx, "main", metric)
			if err != nil {
				tx.Rollback()
				return err
			}
			if !exists {
				query := fmt.Sprintf(`CREATE TABLE %s(frame INTEGER, id, measurement)`, QuoteIdent(metric))
				if _, err := tx.ExecContext(ctx, query); err != nil {
					tx.Rollback()
					return fmt.Errorf("sqlite: create table %s: %w", metric, err)
				}
			}
			created = append(created, metric)
		}

		if err := insertPoints(ctx, tx, metric, points.Ordered(metric)); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}

	for _, metric := range created {
		b.built[metric] = struct{}{}
	}

	return nil
}

func insertPoints(ctx context.Context, tx *sqlx.Tx, metric string, points []models.Point) error {
	stmt, err := tx.PreparexContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (frame, id, measurement) VALUES (?, ?, ?)`, QuoteIdent(metric)),
	)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert into %s: %w", metric, err)
	}
	defer stmt.Close()

	for _, p := range points {
		v, err := models.Normalize(p.Data)
		if err != nil {
			return fmt.Errorf("sqlite: %s frame %d: %w", metric, p.Frame, err)
		}
		if _, err := stmt.ExecContext(ctx, p.Frame, p.ExperimentID, v); err != nil {
			return fmt.Errorf("sqlite: insert into %s: %w", metric, err)
		}
	}
	return nil
}

// ReadMetric returns the rows of one metric. A missing table is logged and
// reads as empty.
func (b *Backend) ReadMetric(ctx context.Context, metric string, id models.ID) ([]models.Row, error) {
	exists, err := HasTable(ctx, b.db, "main", metric)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.Warn("specified metric/experiment does not exist",
			zap.String("metric", metric),
			zap.String("experiment_id", id.String()),
		)
		return []models.Row{}, nil
	}

	query := fmt.Sprintf(`SELECT frame, id, measurement FROM %s`, QuoteIdent(metric))
	var args []any
	if !id.IsZero() {
		query += ` WHERE id = ?`
		args = append(args, id)
	}

	rows := []models.Row{}
	if err := b.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: read %s: %w", metric, err)
	}
	return rows, nil
}

// Close closes the connection. An in-memory store is gone afterwards.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
