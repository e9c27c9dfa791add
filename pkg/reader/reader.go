// Package reader turns an embedded store into one wide table: a row per
// (frame, experiment id), a column per metric, optionally joined with the
// run metadata.
package reader

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/selivandex/instrument/internal/adapters/sqlite"
	"github.com/selivandex/instrument/pkg/models"
)

const (
	FrameColumn = "frame"
	IDColumn    = "id"

	// metric tables are read concurrently up to this many at a time
	readConcurrency = 4
)

// Table is a joined result. Missing values are nil.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of column name, or -1
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns every value of column name, or nil if there is no such column
func (t *Table) Column(name string) []any {
	i := t.Index(name)
	if i < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// Reader reads from one embedded store
type Reader struct {
	db *sqlx.DB
}

// Open opens the store at path for reading
func Open(path string) (*Reader, error) {
	db, err := sqlite.Connect(path)
	if err != nil {
		return nil, err
	}
	if path != sqlite.Memory {
		db.SetMaxOpenConns(readConcurrency)
		db.SetMaxIdleConns(readConcurrency)
	}
	return &Reader{db: db}, nil
}

// Close closes the store
func (r *Reader) Close() error {
	return r.db.Close()
}

// Tables lists the tables of the store, the metadata table included
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	return sqlite.Tables(ctx, r.db, "main")
}

type key struct {
	frame int64
	id    models.ID
}

// ReadMetrics outer-joins metrics on (frame, id), restricted to ids unless
// ids is empty. Rows are sorted by frame, then id. If a metric holds several
// values for one (frame, id), the last written wins.
func (r *Reader) ReadMetrics(ctx context.Context, metrics []string, ids []models.ID) (*Table, error) {
	results := make([][]models.Row, len(metrics))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, metric := range metrics {
		g.Go(func() error {
			rows, err := r.readMetric(gctx, metric, ids)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := &Table{Columns: append([]string{FrameColumn, IDColumn}, metrics...)}
	index := make(map[key]int)
	for m, rows := range results {
		for _, row := range rows {
			k := key{frame: row.Frame, id: row.ID}
			i, ok := index[k]
			if !ok {
				i = len(table.Rows)
				index[k] = i
				values := make([]any, len(table.Columns))
				values[0] = row.Frame
				values[1] = row.ID
				table.Rows = append(table.Rows, values)
			}
			table.Rows[i][m+2] = row.Measurement
		}
	}

	sort.SliceStable(table.Rows, func(i, j int) bool {
		a, b := table.Rows[i], table.Rows[j]
		if fa, fb := a[0].(int64), b[0].(int64); fa != fb {
			return fa < fb
		}
		return a[1].(models.ID).Less(b[1].(models.ID))
	})

	return table, nil
}

func (r *Reader) readMetric(ctx context.Context, metric string, ids []models.ID) ([]models.Row, error) {
	exists, err := sqlite.HasTable(ctx, r.db, "main", metric)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("reader: metric %q does not exist", metric)
	}

	query := fmt.Sprintf(`SELECT frame, id, measurement FROM %s`, sqlite.QuoteIdent(metric))
	var args []any
	if len(ids) > 0 {
		query += ` WHERE id IN (?)`
		query, args, err = sqlx.In(query, toArgs(ids))
		if err != nil {
			return nil, fmt.Errorf("reader: build query for %s: %w", metric, err)
		}
	}

	var rows []models.Row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("reader: read %s: %w", metric, err)
	}
	return rows, nil
}

func toArgs(ids []models.ID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// LoadAllResults reads metrics (every metric table when empty) and left-joins
// the metadata table on id when the store has one.
func (r *Reader) LoadAllResults(ctx context.Context, metrics []string, ids []models.ID) (*Table, error) {
	tables, err := r.Tables(ctx)
	if err != nil {
		return nil, err
	}

	hasMetadata := false
	var all []string
	for _, t := range tables {
		if t == sqlite.MetadataTable {
			hasMetadata = true
			continue
		}
		all = append(all, t)
	}
	if len(metrics) == 0 {
		metrics = all
	}

	table, err := r.ReadMetrics(ctx, metrics, ids)
	if err != nil {
		return nil, err
	}
	if !hasMetadata {
		return table, nil
	}

	return r.joinMetadata(ctx, table)
}

func (r *Reader) joinMetadata(ctx context.Context, table *Table) (*Table, error) {
	rows, err := r.db.QueryxContext(ctx, fmt.Sprintf(`SELECT * FROM %s`, sqlite.QuoteIdent(sqlite.MetadataTable)))
	if err != nil {
		return nil, fmt.Errorf("reader: read metadata: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reader: read metadata: %w", err)
	}

	idPos := -1
	var extra []int
	for i, c := range cols {
		if c == IDColumn {
			idPos = i
			continue
		}
		extra = append(extra, i)

		name := c
		if table.Index(name) >= 0 {
			name = sqlite.MetadataTable + "." + c
		}
		table.Columns = append(table.Columns, name)
	}
	if idPos < 0 {
		return nil, fmt.Errorf("reader: metadata table has no %s column", IDColumn)
	}

	meta := make(map[models.ID][]any)
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("reader: read metadata: %w", err)
		}
		id, err := models.IDFromValue(values[idPos])
		if err != nil {
			return nil, err
		}
		fields := make([]any, len(extra))
		for i, pos := range extra {
			fields[i] = values[pos]
		}
		meta[id] = fields
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reader: read metadata: %w", err)
	}

	for i, row := range table.Rows {
		fields, ok := meta[row[1].(models.ID)]
		if !ok {
			fields = make([]any, len(extra))
		}
		table.Rows[i] = append(row, fields...)
	}
	return table, nil
}

// RunIDs returns the ids whose metadata matches every field in params
func (r *Reader) RunIDs(ctx context.Context, params map[string]any) ([]models.ID, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	query := fmt.Sprintf(`SELECT %s FROM %s`, sqlite.QuoteIdent(IDColumn), sqlite.QuoteIdent(sqlite.MetadataTable))
	conds := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		v, err := models.Normalize(params[name])
		if err != nil {
			return nil, fmt.Errorf("reader: param %s: %w", name, err)
		}
		conds[i] = sqlite.QuoteIdent(name) + ` = ?`
		args[i] = v
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}

	var ids []models.ID
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("reader: run ids: %w", err)
	}
	return ids, nil
}

// LoadAllResults opens path, loads it and closes it again
func LoadAllResults(ctx context.Context, path string, metrics []string, ids []models.ID) (*Table, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.LoadAllResults(ctx, metrics, ids)
}

// RunIDs opens path and looks up matching run ids
func RunIDs(ctx context.Context, path string, params map[string]any) ([]models.ID, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return r.RunIDs(ctx, params)
}
