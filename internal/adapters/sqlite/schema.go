package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

// MetadataTable holds one row of run metadata per experiment id
const MetadataTable = "_metadata_"

// ErrNameCollision is returned for a metric whose name matches an existing
// table only when compared case-insensitively. SQLite identifiers ignore
// case, so both names would address the same table.
var ErrNameCollision = errors.New("sqlite: metric name collides with an existing table")

// Querier is satisfied by *sqlx.DB, *sqlx.Tx and *sqlx.Conn
type Querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// QuoteIdent quotes a caller-controlled name (metric, column) for use as an
// SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Tables lists the user tables of an attached schema ("main" for the store itself)
func Tables(ctx context.Context, q Querier, schema string) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT name FROM %s.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%%' ORDER BY name`,
		QuoteIdent(schema),
	)

	var names []string
	if err := sqlx.SelectContext(ctx, q, &names, query); err != nil {
		return nil, fmt.Errorf("sqlite: list tables: %w", err)
	}
	return names, nil
}

// HasTable reports whether table exists in schema
func HasTable(ctx context.Context, q Querier, schema, table string) (bool, error) {
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s.sqlite_master WHERE type = 'table' AND name = ?`,
		QuoteIdent(schema),
	)

	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, table); err != nil {
		return false, fmt.Errorf("sqlite: lookup table %s: %w", table, err)
	}
	return n > 0, nil
}

// LookupTable finds the table that table resolves to in schema, comparing
// names the way SQLite does (ASCII case-insensitively). It returns the stored
// name and false when there is no such table.
func LookupTable(ctx context.Context, q Querier, schema, table string) (string, bool, error) {
	query := fmt.Sprintf(
		`SELECT name FROM %s.sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE`,
		QuoteIdent(schema),
	)

	var name string
	err := sqlx.GetContext(ctx, q, &name, query, table)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("sqlite: lookup table %s: %w", table, err)
	}
	return name, true, nil
}

// checkCollision fails when table would silently address a differently
// spelled existing table.
func checkCollision(ctx context.Context, q Querier, schema, table string) (bool, error) {
	existing, ok, err := LookupTable(ctx, q, schema, table)
	if err != nil || !ok {
		return false, err
	}
	if existing != table {
		return false, fmt.Errorf("%w: %q vs %q", ErrNameCollision, table, existing)
	}
	return true, nil
}

// Columns lists the columns of a table
func Columns(ctx context.Context, q Querier, schema, table string) ([]string, error) {
	var cols []string
	if err := sqlx.SelectContext(ctx, q, &cols, `SELECT name FROM pragma_table_info(?, ?)`, table, schema); err != nil {
		return nil, fmt.Errorf("sqlite: columns of %s: %w", table, err)
	}
	return cols, nil
}

// EnsureTable creates table with cols if it does not exist, otherwise adds
// whichever of cols it lacks. Columns are untyped.
func EnsureTable(ctx context.Context, q Querier, schema, table string, cols []string) error {
	exists, err := HasTable(ctx, q, schema, table)
	if err != nil {
		return err
	}

	target := QuoteIdent(schema) + "." + QuoteIdent(table)

	if !exists {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = QuoteIdent(c)
		}
		query := fmt.Sprintf(`CREATE TABLE %s(%s)`, target, strings.Join(quoted, ", "))
		if _, err := q.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", table, err)
		}
		return nil
	}

	current, err := Columns(ctx, q, schema, table)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(current))
	for _, c := range current {
		have[c] = struct{}{}
	}

	var missing []string
	for _, c := range cols {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)

	for _, c := range missing {
		query := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, target, QuoteIdent(c))
		if _, err := q.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("sqlite: add column %s to %s: %w", c, table, err)
		}
	}
	return nil
}
