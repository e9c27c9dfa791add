package sqlite

import (
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

type schemaEntry struct {
	Type string `db:"type"`
	Name string `db:"name"`
	SQL  string `db:"sql"`
}

// Dump renders the whole store as an SQL script that rebuilds it from
// scratch: table definitions, one INSERT per row, then indexes.
func (b *Backend) Dump(ctx context.Context) (string, error) {
	var entries []schemaEntry
	err := b.db.SelectContext(ctx, &entries, `
		SELECT type, name, sql FROM sqlite_master
		WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
		ORDER BY CASE type WHEN 'table' THEN 0 ELSE 1 END, name
	`)
	if err != nil {
		return "", fmt.Errorf("sqlite: read schema: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("BEGIN TRANSACTION;\n")

	for _, e := range entries {
		if e.Type != "table" {
			continue
		}
		sb.WriteString(e.SQL)
		sb.WriteString(";\n")

		if err := dumpRows(ctx, b.db, &sb, e.Name); err != nil {
			return "", err
		}
	}

	for _, e := range entries {
		if e.Type == "table" {
			continue
		}
		sb.WriteString(e.SQL)
		sb.WriteString(";\n")
	}

	sb.WriteString("COMMIT;\n")
	return sb.String(), nil
}

func dumpRows(ctx context.Context, db *sqlx.DB, sb *strings.Builder, table string) error {
	rows, err := db.QueryxContext(ctx, fmt.Sprintf(`SELECT * FROM %s`, QuoteIdent(table)))
	if err != nil {
		return fmt.Errorf("sqlite: dump %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return fmt.Errorf("sqlite: dump %s: %w", table, err)
		}

		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = literal(v)
		}
		fmt.Fprintf(sb, "INSERT INTO %s VALUES(%s);\n", QuoteIdent(table), strings.Join(literals, ","))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: dump %s: %w", table, err)
	}
	return nil
}

// literal renders a stored value as an SQLite literal preserving its storage class
func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		switch {
		case math.IsNaN(x):
			return "NULL"
		case math.IsInf(x, 1):
			return "1e999"
		case math.IsInf(x, -1):
			return "-1e999"
		}
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case bool:
		if x {
			return "1"
		}
		return "0"
	case []byte:
		return "X'" + strings.ToUpper(hex.EncodeToString(x)) + "'"
	case string:
		return quoteString(x)
	case time.Time:
		return quoteString(x.Format(time.RFC3339Nano))
	default:
		return quoteString(fmt.Sprint(x))
	}
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Load replays a script produced by Dump, then refreshes the known tables
func (b *Backend) Load(ctx context.Context, data string) error {
	if strings.TrimSpace(data) == "" {
		return b.InitDB(ctx)
	}

	if _, err := b.db.ExecContext(ctx, data); err != nil {
		return fmt.Errorf("sqlite: load dump: %w", err)
	}
	return b.InitDB(ctx)
}
