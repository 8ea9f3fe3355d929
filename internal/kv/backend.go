package kv

import (
	"context"
	"fmt"
	"strings"
)

// Table names used by the persisted layout. A pre-existing keyv table from a
// prior generation of the panel is reused as-is so upgrades keep their data.
const (
	defaultTable = "heliactyl"
	legacyTable  = "keyv"
)

// Kind identifies which storage engine backs a handle.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// row is a raw stored entry: a fully namespaced key and its envelope text.
type row struct {
	Key   string
	Value string
}

// backend is the contract every storage engine adapter implements. All keys
// passed in are already namespaced; all values are serialized envelopes.
// Adapters perform no locking of their own: the operation queue is the sole
// mutual-exclusion mechanism in front of them.
type backend interface {
	Kind() Kind
	Table() string
	Legacy() bool

	Get(ctx context.Context, key string) (string, bool, error)
	Upsert(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// BatchUpsert writes all rows inside one transaction; any failure rolls
	// back the whole batch.
	BatchUpsert(ctx context.Context, rows []row) error
	// Clear removes every row whose key matches the LIKE prefix pattern.
	Clear(ctx context.Context, prefix string) error
	// Search returns the full keys matching a SQL LIKE pattern.
	Search(ctx context.Context, pattern string) ([]string, error)
	// GetAll returns every row whose key matches the LIKE prefix pattern.
	GetAll(ctx context.Context, prefix string) ([]row, error)
	// DeleteExpired removes rows whose envelope expiry is before cutoff
	// (epoch milliseconds), using the engine's native JSON extraction.
	DeleteExpired(ctx context.Context, prefix string, cutoff int64) (int64, error)

	Close() error
}

// classifyURL decides which backend a connection descriptor selects.
// postgres(ql):// URLs pick the networked engine; sqlite:// URLs and bare
// filesystem paths pick the embedded engine. Anything else is rejected at
// construction time.
func classifyURL(url string) (Kind, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return "", fmt.Errorf("kv: connection URL is required")
	}

	switch {
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return KindPostgres, nil
	case strings.HasPrefix(trimmed, "sqlite://"):
		return KindSQLite, nil
	case strings.Contains(trimmed, "://"):
		scheme := trimmed[:strings.Index(trimmed, "://")]
		return "", fmt.Errorf("kv: unsupported connection scheme %q", scheme)
	default:
		// Bare filesystem path.
		return KindSQLite, nil
	}
}

func openBackend(ctx context.Context, url string) (backend, error) {
	kind, err := classifyURL(url)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindPostgres:
		return openPostgres(ctx, strings.TrimSpace(url))
	default:
		path := strings.TrimSpace(url)
		path = strings.TrimPrefix(path, "sqlite://")
		return openSQLite(ctx, path)
	}
}
