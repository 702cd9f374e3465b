package storage_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"parley/cmd/internal/storage"
	"parley/cmd/internal/storage/storagetest"
)

func TestValidSchema(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{"parley", true},
		{"_p1", true},
		{"1abc", false},
		{"a-b", false},
		{`x"; DROP TABLE y; --`, false},
		{"", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, storage.ValidSchema(tc.in), tc.in)
	}
}

func TestPostgresDDL_QuotesSchema(t *testing.T) {
	t.Parallel()

	ddl := storage.PostgresDDL("parley")
	require.Contains(t, ddl, `CREATE SCHEMA IF NOT EXISTS "parley"`)
	require.Contains(t, ddl, `"parley"."messages"`)
	require.Contains(t, ddl, `"parley"."friends"`)
	require.Contains(t, ddl, "uq_users_username")
}

func TestMigratePostgres_RejectsBadSchema(t *testing.T) {
	t.Parallel()

	err := storage.MigratePostgres(context.Background(), nil, "x")
	require.Error(t, err)
}

func TestMigrateSQLite_Idempotent(t *testing.T) {
	t.Parallel()

	db := storagetest.OpenSQLite(t)
	require.NoError(t, storage.MigrateSQLite(context.Background(), db))

	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('users','messages','friends')`).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := storage.OpenSQLite(context.Background(), "  ")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "empty"))
}

func TestMigratePostgres_Integration(t *testing.T) {
	t.Parallel()

	pool := storagetest.OpenPostgres(t)
	schema := storagetest.PostgresSchema(t, pool)

	// Second run must be a no-op.
	require.NoError(t, storage.MigratePostgres(context.Background(), pool, schema))
}
