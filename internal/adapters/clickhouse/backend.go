package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/selivandex/instrument/internal/adapters/config"
	"github.com/selivandex/instrument/internal/adapters/database"
	"github.com/selivandex/instrument/pkg/logger"
	"github.com/selivandex/instrument/pkg/metrics"
	"github.com/selivandex/instrument/pkg/models"
)

const createResults = `
	CREATE TABLE IF NOT EXISTS results (
		time        DateTime64(6, 'UTC'),
		step        Int64,
		metric      LowCardinality(String),
		id          String,
		measurement Nullable(Float64)
	) ENGINE = MergeTree
	ORDER BY (metric, id, time, step)
`

// server error codes for rejected credentials
const (
	codeAccessDenied         = 497
	codeAuthenticationFailed = 516
)

var _ metrics.Backend = (*Backend)(nil)

// Backend stores every metric in one MergeTree table
type Backend struct {
	db      *sqlx.DB
	owned   bool
	metrics map[string]struct{}
}

// New connects, creating the database and table when missing
func New(ctx context.Context, cfg *config.ClickHouseConfig) (*Backend, error) {
	_, err := database.Retry(ctx, cfg.ConnectRetries, cfg.ConnectBackoff, func() (struct{}, error) {
		err := createDatabase(ctx, cfg)
		if isAuthFailure(err) {
			return struct{}{}, database.Permanent(err)
		}
		return struct{}{}, err
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: provision database %s: %w", cfg.Database, err)
	}

	db, err := sqlx.ConnectContext(ctx, "clickhouse", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("clickhouse: connect: %w", err)
	}

	b, err := Open(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.owned = true

	logger.Info("clickhouse connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)

	return b, nil
}

func createDatabase(ctx context.Context, cfg *config.ClickHouseConfig) error {
	admin, err := sqlx.ConnectContext(ctx, "clickhouse", cfg.GetMaintenanceDSN())
	if err != nil {
		logger.Warn("clickhouse connection attempt failed", zap.String("host", cfg.Host), zap.Error(err))
		return err
	}
	defer admin.Close()

	_, err = admin.ExecContext(ctx, `CREATE DATABASE IF NOT EXISTS `+quoteIdent(cfg.Database))
	return err
}

// isAuthFailure reports rejected credentials, which retrying cannot fix
func isAuthFailure(err error) bool {
	var ex *clickhouse.Exception
	if !errors.As(err, &ex) {
		return false
	}
	return ex.Code == codeAuthenticationFailed || ex.Code == codeAccessDenied
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

// Open creates the results table on an existing connection. Close leaves db open.
func Open(ctx context.Context, db *sqlx.DB) (*Backend, error) {
	if _, err := db.ExecContext(ctx, createResults); err != nil {
		return nil, fmt.Errorf("clickhouse: create results: %w", err)
	}

	return &Backend{
		db:      db,
		metrics: make(map[string]struct{}),
	}, nil
}

// InitDB loads the names of metrics already present
func (b *Backend) InitDB(ctx context.Context) error {
	var names []string
	if err := b.db.SelectContext(ctx, &names, `SELECT DISTINCT metric FROM results`); err != nil {
		return fmt.Errorf("clickhouse: list metrics: %w", err)
	}
	for _, name := range names {
		b.metrics[name] = struct{}{}
	}
	return nil
}

// GetTables returns the known metric names
func (b *Backend) GetTables() []string {
	names := make([]string, 0, len(b.metrics))
	for name := range b.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteMany sends the batch as a single insert block
func (b *Backend) WriteMany(ctx context.Context, points models.Buffer) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clickhouse: start transaction: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO results (time, step, metric, id, measurement)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("clickhouse: prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, metric := range points.Metrics() {
		for _, p := range points.Ordered(metric) {
			f, err := models.Float64(p.Data)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("clickhouse: %s frame %d: %w", metric, p.Frame, err)
			}

			var v *float64
			if !math.IsNaN(f) {
				v = &f
			}

			if _, err := stmt.ExecContext(ctx, now, p.Frame, metric, p.ExperimentID.String(), v); err != nil {
				tx.Rollback()
				return fmt.Errorf("clickhouse: insert %s: %w", metric, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clickhouse: commit: %w", err)
	}

	for metric := range points {
		b.metrics[metric] = struct{}{}
	}

	logger.Debug("saved metrics to ClickHouse",
		zap.Int("metrics", len(points)),
		zap.Int("points", points.Len()),
	)

	return nil
}

type resultRow struct {
	Frame       int64           `db:"frame"`
	ID          string          `db:"id"`
	Measurement sql.NullFloat64 `db:"measurement"`
}

// ReadMetric returns the rows of one metric, oldest first
func (b *Backend) ReadMetric(ctx context.Context, metric string, id models.ID) ([]models.Row, error) {
	query := `SELECT step AS frame, id, measurement FROM results WHERE metric = ?`
	args := []any{metric}
	if !id.IsZero() {
		query += ` AND id = ?`
		args = append(args, id.String())
	}
	query += ` ORDER BY time, step`

	var stored []resultRow
	if err := b.db.SelectContext(ctx, &stored, query, args...); err != nil {
		return nil, fmt.Errorf("clickhouse: read %s: %w", metric, err)
	}

	if len(stored) == 0 {
		logger.Warn("specified metric/experiment does not exist",
			zap.String("metric", metric),
			zap.String("experiment_id", id.String()),
		)
	}

	rows := make([]models.Row, len(stored))
	for i, r := range stored {
		rows[i] = models.Row{Frame: r.Frame, ID: models.ParseID(r.ID)}
		if r.Measurement.Valid {
			rows[i].Measurement = r.Measurement.Float64
		}
	}
	return rows, nil
}

// Dump is not supported
func (b *Backend) Dump(ctx context.Context) (string, error) {
	return "", metrics.ErrDumpUnsupported
}

// Load only accepts an empty dump, which refreshes the known metrics
func (b *Backend) Load(ctx context.Context, data string) error {
	if strings.TrimSpace(data) != "" {
		return metrics.ErrDumpUnsupported
	}
	return b.InitDB(ctx)
}

// Merge is not supported
func (b *Backend) Merge(ctx context.Context, target string) error {
	return metrics.ErrMergeUnsupported
}

// Health pings the server
func (b *Backend) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("clickhouse: health check failed: %w", err)
	}
	return nil
}

// Close closes the connection when New opened it
func (b *Backend) Close() error {
	if !b.owned {
		return nil
	}
	b.owned = false
	return b.db.Close()
}
