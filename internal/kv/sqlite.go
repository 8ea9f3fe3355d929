package kv

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteQueries holds the embedded engine's dialect: positional ?
// placeholders and INSERT OR REPLACE upserts.
type sqliteQueries struct {
	get           string
	upsert        string
	delete        string
	clear         string
	search        string
	getAll        string
	deleteExpired string
}

func sqliteQueriesFor(table string) sqliteQueries {
	return sqliteQueries{
		get:    fmt.Sprintf("SELECT value FROM %s WHERE key = ?", table),
		upsert: fmt.Sprintf("INSERT OR REPLACE INTO %s (key, value) VALUES (?, ?)", table),
		delete: fmt.Sprintf("DELETE FROM %s WHERE key = ?", table),
		clear:  fmt.Sprintf("DELETE FROM %s WHERE key LIKE ?", table),
		search: fmt.Sprintf("SELECT key FROM %s WHERE key LIKE ?", table),
		getAll: fmt.Sprintf("SELECT key, value FROM %s WHERE key LIKE ?", table),
		deleteExpired: fmt.Sprintf(
			"DELETE FROM %s WHERE key LIKE ? AND json_extract(value, '$.expires') IS NOT NULL AND json_extract(value, '$.expires') <= ?",
			table,
		),
	}
}

type sqliteBackend struct {
	db      *sql.DB
	table   string
	legacy  bool
	queries sqliteQueries
}

// openSQLite opens (creating if absent) a single-file database in WAL mode.
// The connection pool is pinned to one connection: the embedded engine is a
// single-writer database and all access is serialized by the queue anyway.
func openSQLite(ctx context.Context, path string) (backend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("kv: sqlite path is required")
	}

	if err := ensureDir(path); err != nil {
		return nil, fmt.Errorf("kv: create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: enable WAL: %w", err)
	}

	b := &sqliteBackend{db: db, table: defaultTable}
	if err := b.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	b.queries = sqliteQueriesFor(b.table)
	return b, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// initSchema binds to a legacy keyv table when one exists, otherwise creates
// the primary table and its index inside a single transaction.
func (b *sqliteBackend) initSchema(ctx context.Context) error {
	var name string
	err := b.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", legacyTable,
	).Scan(&name)
	switch {
	case err == nil:
		b.table = legacyTable
		b.legacy = true
		return nil
	case err != sql.ErrNoRows:
		return fmt.Errorf("kv: probe legacy table: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv: begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	createTable := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value TEXT NOT NULL, created_at INTEGER NOT NULL DEFAULT (strftime('%%s', 'now')))",
		b.table,
	)
	if _, err := tx.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("kv: create table: %w", err)
	}

	createIndex := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_key ON %s (key)", b.table, b.table)
	if _, err := tx.ExecContext(ctx, createIndex); err != nil {
		return fmt.Errorf("kv: create index: %w", err)
	}

	return tx.Commit()
}

func (b *sqliteBackend) Kind() Kind    { return KindSQLite }
func (b *sqliteBackend) Table() string { return b.table }
func (b *sqliteBackend) Legacy() bool  { return b.legacy }

func (b *sqliteBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx, b.queries.get, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (b *sqliteBackend) Upsert(ctx context.Context, key, value string) error {
	_, err := b.db.ExecContext(ctx, b.queries.upsert, key, value)
	return err
}

func (b *sqliteBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, b.queries.delete, key)
	return err
}

func (b *sqliteBackend) BatchUpsert(ctx context.Context, rows []row) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, b.queries.upsert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Key, r.Value); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (b *sqliteBackend) Clear(ctx context.Context, prefix string) error {
	_, err := b.db.ExecContext(ctx, b.queries.clear, prefix)
	return err
}

func (b *sqliteBackend) Search(ctx context.Context, pattern string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, b.queries.search, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (b *sqliteBackend) GetAll(ctx context.Context, prefix string) ([]row, error) {
	rows, err := b.db.QueryContext(ctx, b.queries.getAll, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) DeleteExpired(ctx context.Context, prefix string, cutoff int64) (int64, error) {
	res, err := b.db.ExecContext(ctx, b.queries.deleteExpired, prefix, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
