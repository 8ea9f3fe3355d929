package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Fixed pool bounds for the networked backend. The queue serializes a single
// handle's traffic, so the pool mainly absorbs connection churn and lets
// other handles in the same cluster share the server.
const (
	pgMaxConns       = 10
	pgMaxConnIdle    = 30 * time.Second
	pgConnectTimeout = 10 * time.Second
)

// postgresQueries holds the networked engine's dialect: numbered $n
// placeholders and INSERT ... ON CONFLICT upserts.
type postgresQueries struct {
	get           string
	upsert        string
	delete        string
	clear         string
	search        string
	getAll        string
	deleteExpired string
}

func postgresQueriesFor(table string) postgresQueries {
	return postgresQueries{
		get:    fmt.Sprintf("SELECT value FROM %s WHERE key = $1", table),
		upsert: fmt.Sprintf("INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value", table),
		delete: fmt.Sprintf("DELETE FROM %s WHERE key = $1", table),
		clear:  fmt.Sprintf("DELETE FROM %s WHERE key LIKE $1", table),
		search: fmt.Sprintf("SELECT key FROM %s WHERE key LIKE $1", table),
		getAll: fmt.Sprintf("SELECT key, value FROM %s WHERE key LIKE $1", table),
		deleteExpired: fmt.Sprintf(
			"DELETE FROM %s WHERE key LIKE $1 AND (value::jsonb ->> 'expires') IS NOT NULL AND ((value::jsonb ->> 'expires')::bigint) <= $2",
			table,
		),
	}
}

type postgresBackend struct {
	pool    *pgxpool.Pool
	table   string
	legacy  bool
	queries postgresQueries
}

func openPostgres(ctx context.Context, url string) (backend, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse postgres url: %w", err)
	}
	cfg.MaxConns = pgMaxConns
	cfg.MaxConnIdleTime = pgMaxConnIdle
	cfg.ConnConfig.ConnectTimeout = pgConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("kv: connect postgres: %w", err)
	}

	b := &postgresBackend{pool: pool, table: defaultTable}
	if err := b.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	b.queries = postgresQueriesFor(b.table)
	return b, nil
}

// initSchema binds to a legacy keyv table when one exists, otherwise creates
// the primary table and its index inside a single transaction.
func (b *postgresBackend) initSchema(ctx context.Context) error {
	var exists bool
	err := b.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)",
		legacyTable,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("kv: probe legacy table: %w", err)
	}
	if exists {
		b.table = legacyTable
		b.legacy = true
		return nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("kv: begin schema transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	createTable := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value TEXT NOT NULL, created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT)",
		b.table,
	)
	if _, err := tx.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("kv: create table: %w", err)
	}

	createIndex := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_key ON %s (key)", b.table, b.table)
	if _, err := tx.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("kv: create index: %w", err)
	}

	return tx.Commit(ctx)
}

func (b *postgresBackend) Kind() Kind    { return KindPostgres }
func (b *postgresBackend) Table() string { return b.table }
func (b *postgresBackend) Legacy() bool  { return b.legacy }

func (b *postgresBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := b.pool.QueryRow(ctx, b.queries.get, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (b *postgresBackend) Upsert(ctx context.Context, key, value string) error {
	_, err := b.pool.Exec(ctx, b.queries.upsert, key, value)
	return err
}

func (b *postgresBackend) Delete(ctx context.Context, key string) error {
	_, err := b.pool.Exec(ctx, b.queries.delete, key)
	return err
}

// BatchUpsert acquires a dedicated connection for the duration of the
// transaction so the batch commits or rolls back as a unit.
func (b *postgresBackend) BatchUpsert(ctx context.Context, rows []row) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range rows {
		if _, err := tx.Exec(ctx, b.queries.upsert, r.Key, r.Value); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (b *postgresBackend) Clear(ctx context.Context, prefix string) error {
	_, err := b.pool.Exec(ctx, b.queries.clear, prefix)
	return err
}

func (b *postgresBackend) Search(ctx context.Context, pattern string) ([]string, error) {
	rows, err := b.pool.Query(ctx, b.queries.search, pattern)
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

func (b *postgresBackend) GetAll(ctx context.Context, prefix string) ([]row, error) {
	rows, err := b.pool.Query(ctx, b.queries.getAll, prefix)
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

func (b *postgresBackend) DeleteExpired(ctx context.Context, prefix string, cutoff int64) (int64, error) {
	tag, err := b.pool.Exec(ctx, b.queries.deleteExpired, prefix, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
