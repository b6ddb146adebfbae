// Package dbtest opens throwaway databases with the full schema applied.
package dbtest

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-training/internal/db"
)

// PostgresDSNEnv names the variable that enables the Postgres-backed tests.
const PostgresDSNEnv = "TEST_POSTGRES_DSN"

// Open returns a migrated in-memory database private to the calling test.
// SQLite runs with a single connection, so transactions are serialized
// whole and row locks are never contended.
func Open(t testing.TB) *db.DB {
	t.Helper()
	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	d, err := db.Open(context.Background(), db.DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// OpenPostgres returns a migrated database in a fresh schema of the server
// named by TEST_POSTGRES_DSN, and skips the test when it is unset. The
// schema is dropped on cleanup.
func OpenPostgres(t testing.TB) *db.DB {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	ctx := context.Background()
	schema := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })
	_, err = admin.ExecContext(ctx, `CREATE SCHEMA `+schema)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = admin.ExecContext(context.Background(), `DROP SCHEMA `+schema+` CASCADE`) })

	d, err := db.Open(ctx, db.DriverPostgres, withSearchPath(dsn, schema))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// withSearchPath adds a search_path runtime parameter to a URL or
// keyword/value DSN.
func withSearchPath(dsn, schema string) string {
	switch {
	case !strings.Contains(dsn, "://"):
		return dsn + " search_path=" + schema
	case strings.Contains(dsn, "?"):
		return dsn + "&search_path=" + schema
	default:
		return dsn + "?search_path=" + schema
	}
}
