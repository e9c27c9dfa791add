package testdb

import (
	"os"
	"strings"
	"testing"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Postgres connects to the TimescaleDB instance named by TEST_DATABASE_URL.
// The test is skipped when the variable is unset.
func Postgres(t *testing.T) *sqlx.DB {
	t.Helper()
	return connect(t, "postgres", "TEST_DATABASE_URL")
}

// ClickHouse connects to the server named by TEST_CLICKHOUSE_DSN.
// The test is skipped when the variable is unset.
func ClickHouse(t *testing.T) *sqlx.DB {
	t.Helper()
	return connect(t, "clickhouse", "TEST_CLICKHOUSE_DSN")
}

func connect(t *testing.T, driver, env string) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv(env)
	if dsn == "" {
		t.Skipf("%s is not set", env)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close database: %v", err)
		}
	})

	return db
}

// UniqueName returns a metric name no other test run uses, so tests can
// share one long-lived server without cleaning up.
func UniqueName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
