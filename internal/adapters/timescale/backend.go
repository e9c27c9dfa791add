package timescale

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/selivandex/instrument/internal/adapters/config"
	"github.com/selivandex/instrument/internal/adapters/database"
	"github.com/selivandex/instrument/pkg/logger"
	"github.com/selivandex/instrument/pkg/metrics"
	"github.com/selivandex/instrument/pkg/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ metrics.Backend = (*Backend)(nil)

// Backend stores every metric in the shared results hypertable
type Backend struct {
	db      *sqlx.DB
	owned   *database.DB
	metrics map[string]struct{}
}

// New connects (provisioning the database when missing) and applies the schema
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Backend, error) {
	conn, err := database.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b, err := Open(conn.DB())
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.owned = conn

	return b, nil
}

// Open applies the schema on an existing connection. Close leaves db open.
func Open(db *sqlx.DB) (*Backend, error) {
	if err := database.RunMigrations(db.DB, migrations, "migrations"); err != nil {
		return nil, err
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
		return fmt.Errorf("timescale: list metrics: %w", err)
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

// WriteMany copies the batch into results in one transaction. Every row of
// a batch shares the flush timestamp; step keeps frame order within it.
func (b *Backend) WriteMany(ctx context.Context, points models.Buffer) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("timescale: start transaction: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, pq.CopyIn("results", "time", "step", "metric", "id", "measurement"))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("timescale: prepare copy: %w", err)
	}

	now := time.Now().UTC()
	for _, metric := range points.Metrics() {
		for _, p := range points.Ordered(metric) {
			v, err := measurement(p.Data)
			if err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("timescale: %s frame %d: %w", metric, p.Frame, err)
			}
			if _, err := stmt.ExecContext(ctx, now, p.Frame, metric, p.ExperimentID.String(), v); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("timescale: copy %s: %w", metric, err)
			}
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		tx.Rollback()
		return fmt.Errorf("timescale: finish copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		tx.Rollback()
		return fmt.Errorf("timescale: close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("timescale: commit: %w", err)
	}

	for metric := range points {
		b.metrics[metric] = struct{}{}
	}

	return nil
}

// measurement maps a value onto the nullable double column
func measurement(data any) (any, error) {
	f, err := models.Float64(data)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(f) {
		return nil, nil
	}
	return f, nil
}

type resultRow struct {
	Frame       int64           `db:"frame"`
	ID          string          `db:"id"`
	Measurement sql.NullFloat64 `db:"measurement"`
}

// ReadMetric returns the rows of one metric, oldest first
func (b *Backend) ReadMetric(ctx context.Context, metric string, id models.ID) ([]models.Row, error) {
	query := `SELECT step AS frame, id, measurement FROM results WHERE metric = $1`
	args := []any{metric}
	if !id.IsZero() {
		query += ` AND id = $2`
		args = append(args, id.String())
	}
	query += ` ORDER BY time, step`

	var stored []resultRow
	if err := b.db.SelectContext(ctx, &stored, query, args...); err != nil {
		return nil, fmt.Errorf("timescale: read %s: %w", metric, err)
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

// Dump is not supported: the data already lives in a durable server
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

// Merge is not supported between server-side stores
func (b *Backend) Merge(ctx context.Context, target string) error {
	return metrics.ErrMergeUnsupported
}

// Health pings the server
func (b *Backend) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("timescale: health check failed: %w", err)
	}
	return nil
}

// Close closes the connection when New opened it
func (b *Backend) Close() error {
	if b.owned == nil {
		return nil
	}
	err := b.owned.Close()
	b.owned = nil
	return err
}
