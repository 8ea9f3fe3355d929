// Package kv implements the panel's embedded key-value store: one uniform
// get/set contract over two storage engines (an embedded single-file sqlite
// database and a pooled postgres connection), optional per-key expiry layered
// on top of engines that have none, and a serialized operation queue that
// bounds concurrency against the backend.
package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/heliactyl/heliactyldb/pkg/logger"
)

const (
	defaultNamespace    = "heliactyl"
	defaultMaxQueueSize = 10_000
	defaultOpTimeout    = 30 * time.Second
	defaultCacheSize    = 1_000
	defaultCacheTTL     = 5 * time.Minute
)

// Config describes how to open a database handle.
type Config struct {
	// URL selects the backend: postgres:// or postgresql:// for the networked
	// engine, sqlite:// or a bare filesystem path for the embedded one.
	URL string

	// Namespace prefixes every stored key. Ignored when a legacy table is
	// detected, in which case the namespace binds to the legacy identifier.
	Namespace string

	// EnableTTL turns on expiry semantics (lazy deletion on read plus the
	// periodic sweep). Disabled by default.
	EnableTTL bool

	MaxQueueSize     int           // queued operation limit, default 10000
	OperationTimeout time.Duration // per-operation deadline, default 30s
	CacheSize        int           // read cache capacity, default 1000
}

// Option customises a handle, primarily for testing.
type Option func(*DB)

// WithClock overrides the clock used for expiry decisions and latency stats.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		if now != nil {
			db.now = now
		}
	}
}

// WithCron injects a preconfigured cron instance for the maintenance jobs.
func WithCron(c *cron.Cron) Option {
	return func(db *DB) {
		if c != nil {
			db.cron = c
		}
	}
}

// DB is one database handle. It exclusively owns its queue and read cache;
// the backend adapter exclusively owns the physical connection or pool.
// All methods are safe for concurrent use.
type DB struct {
	backend    backend
	queue      *opQueue
	cache      *readCache
	cron       *cron.Cron
	log        *zap.Logger
	now        func() time.Time
	ns         string
	ttlEnabled bool

	closeOnce sync.Once
	closeErr  error
}

// Open classifies the connection URL, initialises the chosen backend (schema
// included), and returns a ready handle. It fails fast on a missing URL or an
// unrecognised scheme.
func Open(ctx context.Context, cfg Config, opts ...Option) (*DB, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = defaultMaxQueueSize
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOpTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	db := &DB{
		log:        logger.WithModule("kv"),
		now:        time.Now,
		ns:         cfg.Namespace,
		ttlEnabled: cfg.EnableTTL,
	}
	for _, opt := range opts {
		opt(db)
	}

	b, err := openBackend(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	db.backend = b

	// A legacy table carries its own key prefix; never mix namespaces within
	// one handle.
	if b.Legacy() {
		db.ns = legacyTable
	}

	cache, err := newReadCache(cfg.CacheSize, db.now)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("kv: init read cache: %w", err)
	}
	db.cache = cache

	db.queue = newOpQueue(cfg.MaxQueueSize, cfg.OperationTimeout, db.log, db.now)

	if err := db.startMaintenance(); err != nil {
		db.queue.close()
		b.Close()
		return nil, err
	}

	db.log.Info("database opened",
		zap.String("backend", string(b.Kind())),
		zap.String("table", b.Table()),
		zap.String("namespace", db.ns),
		zap.Bool("legacy", b.Legacy()),
		zap.Bool("ttl", db.ttlEnabled),
	)
	return db, nil
}

func (db *DB) namespaced(key string) string {
	return db.ns + ":" + key
}

func (db *DB) prefix() string {
	return db.ns + ":%"
}

// Kind reports which storage engine backs this handle.
func (db *DB) Kind() Kind { return db.backend.Kind() }

// Namespace reports the key prefix in effect for this handle.
func (db *DB) Namespace() string { return db.ns }

// Table reports the physical table the handle is bound to.
func (db *DB) Table() string { return db.backend.Table() }

// lookup carries a raw envelope read out of a queued get operation.
type lookup struct {
	raw   string
	found bool
}

func (db *DB) getEnvelope(ctx context.Context, key string) (envelope, bool, error) {
	if key == "" {
		return envelope{}, false, ErrEmptyKey
	}
	full := db.namespaced(key)

	res, err := db.queue.do(ctx, "get", func(ctx context.Context) (interface{}, error) {
		raw, found, err := db.backend.Get(ctx, full)
		if err != nil {
			return nil, err
		}
		return lookup{raw: raw, found: found}, nil
	})
	if err != nil {
		return envelope{}, false, err
	}

	l := res.(lookup)
	if !l.found {
		return envelope{}, false, nil
	}

	env, err := decodeEnvelope(l.raw)
	if err != nil {
		return envelope{}, false, fmt.Errorf("key %q: %w", key, err)
	}

	if db.ttlEnabled && env.expiredAt(db.now()) {
		db.deleteExpiredKey(full)
		return envelope{}, false, nil
	}
	return env, true, nil
}

// deleteExpiredKey removes a lazily-detected expired key in the background.
// Failure is logged, never surfaced to the read that triggered it.
func (db *DB) deleteExpiredKey(full string) {
	go func() {
		_, err := db.queue.do(context.Background(), "expire", func(ctx context.Context) (interface{}, error) {
			return nil, db.backend.Delete(ctx, full)
		})
		if err != nil {
			db.log.Warn("lazy expiry delete failed",
				zap.String("key", full),
				zap.Error(err),
				zap.Int("queue_depth", db.queue.depth()),
			)
		}
	}()
}

// Get returns the value stored under key, or found == false when the key is
// absent or expired. A stored entry that cannot be decoded is a hard error,
// distinct from absence.
func (db *DB) Get(ctx context.Context, key string) (interface{}, bool, error) {
	env, found, err := db.getEnvelope(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}

	value, err := env.decodeValue()
	if err != nil {
		return nil, false, fmt.Errorf("key %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores a JSON-serializable value. A positive ttl sets an absolute
// expiry, honoured only when the handle has TTL support enabled.
func (db *DB) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	var expires int64
	if db.ttlEnabled && ttl > 0 {
		expires = db.now().Add(ttl).UnixMilli()
	}

	encoded, err := encodeEnvelope(value, expires)
	if err != nil {
		return err
	}
	full := db.namespaced(key)

	_, err = db.queue.do(ctx, "set", func(ctx context.Context) (interface{}, error) {
		return nil, db.backend.Upsert(ctx, full, encoded)
	})
	return err
}

// Delete removes a key. Deleting an absent key is not an error.
func (db *DB) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	full := db.namespaced(key)

	_, err := db.queue.do(ctx, "delete", func(ctx context.Context) (interface{}, error) {
		return nil, db.backend.Delete(ctx, full)
	})
	return err
}

// Has reports whether a live (non-expired) entry exists for key.
func (db *DB) Has(ctx context.Context, key string) (bool, error) {
	_, found, err := db.getEnvelope(ctx, key)
	return found, err
}

// Clear removes every key in this handle's namespace. Idempotent.
func (db *DB) Clear(ctx context.Context) error {
	_, err := db.queue.do(ctx, "clear", func(ctx context.Context) (interface{}, error) {
		return nil, db.backend.Clear(ctx, db.prefix())
	})
	return err
}

// GetAll returns every live key/value pair in the namespace. Rows that fail
// to decode or that are expired are skipped and logged, never failing the
// whole call.
func (db *DB) GetAll(ctx context.Context) (map[string]interface{}, error) {
	res, err := db.queue.do(ctx, "get_all", func(ctx context.Context) (interface{}, error) {
		return db.backend.GetAll(ctx, db.prefix())
	})
	if err != nil {
		return nil, err
	}

	rows := res.([]row)
	out := make(map[string]interface{}, len(rows))
	strip := db.ns + ":"
	now := db.now()

	for _, r := range rows {
		logical := r.Key[len(strip):]

		env, err := decodeEnvelope(r.Value)
		if err != nil {
			db.log.Warn("skipping undecodable entry", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		if db.ttlEnabled && env.expiredAt(now) {
			continue
		}

		value, err := env.decodeValue()
		if err != nil {
			db.log.Warn("skipping undecodable entry", zap.String("key", r.Key), zap.Error(err))
			continue
		}
		out[logical] = value
	}
	return out, nil
}

// Search returns the logical keys matching a SQL LIKE pattern.
func (db *DB) Search(ctx context.Context, pattern string) ([]string, error) {
	full := db.ns + ":" + pattern

	res, err := db.queue.do(ctx, "search", func(ctx context.Context) (interface{}, error) {
		return db.backend.Search(ctx, full)
	})
	if err != nil {
		return nil, err
	}

	raw := res.([]string)
	strip := db.ns + ":"
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k[len(strip):])
	}
	return keys, nil
}

// Increment adds amount to the numeric value stored under key (0 when
// absent) and returns the new value. The read and the write are two separate
// queue turns, so concurrent increments on the same key can lose updates.
func (db *DB) Increment(ctx context.Context, key string, amount float64) (float64, error) {
	value, found, err := db.Get(ctx, key)
	if err != nil {
		return 0, err
	}

	current := 0.0
	if found && value != nil {
		num, ok := value.(float64)
		if !ok {
			return 0, fmt.Errorf("%w: key %q holds %T", ErrNotNumeric, key, value)
		}
		current = num
	}

	next := current + amount
	if err := db.Set(ctx, key, next, 0); err != nil {
		return 0, err
	}
	return next, nil
}

// Decrement subtracts amount from the numeric value stored under key.
func (db *DB) Decrement(ctx context.Context, key string, amount float64) (float64, error) {
	return db.Increment(ctx, key, -amount)
}

// SetMultiple writes all entries inside one backend transaction: any failure
// leaves none of them written. The batch executes as a single queued
// operation.
func (db *DB) SetMultiple(ctx context.Context, entries map[string]interface{}, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	var expires int64
	if db.ttlEnabled && ttl > 0 {
		expires = db.now().Add(ttl).UnixMilli()
	}

	// Encode everything up front so a single bad entry rejects the whole
	// batch before anything touches the backend.
	keys := make([]string, 0, len(entries))
	for key := range entries {
		if key == "" {
			return ErrEmptyKey
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([]row, 0, len(keys))
	for _, key := range keys {
		encoded, err := encodeEnvelope(entries[key], expires)
		if err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		rows = append(rows, row{Key: db.namespaced(key), Value: encoded})
	}

	_, err := db.queue.do(ctx, "set_multiple", func(ctx context.Context) (interface{}, error) {
		return nil, db.backend.BatchUpsert(ctx, rows)
	})
	return err
}

// GetCached reads through the in-process LRU cache, falling back to storage
// on a miss and populating the cache with the given entry TTL (default 5m).
// Cache hits bypass the queue entirely and may observe staler data than a
// concurrently in-flight write.
func (db *DB) GetCached(ctx context.Context, key string, ttl time.Duration) (interface{}, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	full := db.namespaced(key)

	if value, ok := db.cache.get(full); ok {
		return value, true, nil
	}

	value, found, err := db.Get(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}
	if value != nil {
		db.cache.set(full, value, ttl)
	}
	return value, true, nil
}

// SetCached writes through to storage first, then refreshes the cache entry.
// The cache is never the source of truth.
func (db *DB) SetCached(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	if err := db.Set(ctx, key, value, 0); err != nil {
		return err
	}
	db.cache.set(db.namespaced(key), value, ttl)
	return nil
}

// ClearCache evicts cached entries by exact logical key or '*' wildcard
// pattern. Synchronous; storage is untouched.
func (db *DB) ClearCache(pattern string) {
	db.cache.clear(db.ns + ":" + pattern)
}

// Stats returns a diagnostic snapshot of the handle.
func (db *DB) Stats() Stats {
	count, avg := db.queue.stats.snapshot()
	return Stats{
		Backend:        db.backend.Kind(),
		Table:          db.backend.Table(),
		Namespace:      db.ns,
		TTLEnabled:     db.ttlEnabled,
		QueueDepth:     db.queue.depth(),
		QueueCapacity:  db.queue.capacity(),
		Operations:     count,
		AverageLatency: avg,
		CacheEntries:   db.cache.len(),
	}
}

// Close stops the maintenance jobs, drains the queue, and closes the
// backend. Safe to call more than once.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		if db.cron != nil {
			<-db.cron.Stop().Done()
		}
		db.queue.close()
		db.closeErr = multierr.Append(db.closeErr, db.backend.Close())
	})
	return db.closeErr
}
