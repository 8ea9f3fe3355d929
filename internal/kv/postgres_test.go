package kv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// The networked adapter shares all orchestration with the embedded one; what
// differs is the dialect, so pin the generated SQL.
func TestPostgresQueriesDialect(t *testing.T) {
	q := postgresQueriesFor("heliactyl")

	require.Equal(t, "SELECT value FROM heliactyl WHERE key = $1", q.get)
	require.Equal(t,
		"INSERT INTO heliactyl (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		q.upsert,
	)
	require.Equal(t, "DELETE FROM heliactyl WHERE key = $1", q.delete)
	require.Equal(t, "DELETE FROM heliactyl WHERE key LIKE $1", q.clear)
	require.Contains(t, q.deleteExpired, "value::jsonb ->> 'expires'")
	require.Contains(t, q.deleteExpired, "$2")
}

func TestPostgresQueriesUseLegacyTable(t *testing.T) {
	q := postgresQueriesFor("keyv")
	for _, stmt := range []string{q.get, q.upsert, q.delete, q.clear, q.search, q.getAll, q.deleteExpired} {
		require.Contains(t, stmt, " keyv ")
	}
	require.False(t, strings.Contains(q.get, "heliactyl"))
}

func TestSQLiteQueriesDialect(t *testing.T) {
	q := sqliteQueriesFor("heliactyl")

	require.Equal(t, "INSERT OR REPLACE INTO heliactyl (key, value) VALUES (?, ?)", q.upsert)
	require.Contains(t, q.deleteExpired, "json_extract(value, '$.expires')")
	require.NotContains(t, q.get, "$1")
}
