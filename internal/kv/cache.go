package kv

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/heliactyl/heliactyldb/pkg/metrics"
)

// readCache fronts the storage engine for the GetCached/SetCached helpers.
// It is size-bounded (LRU eviction) and time-bounded (per-entry expiry),
// completely independent of the storage layer's TTL semantics, and never the
// source of truth.
type readCache struct {
	entries *lru.Cache[string, cacheEntry]
	now     func() time.Time
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

func newReadCache(size int, now func() time.Time) (*readCache, error) {
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &readCache{entries: entries, now: now}, nil
}

func (c *readCache) get(key string) (interface{}, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.entries.Remove(key)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}

	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return entry.value, true
}

func (c *readCache) set(key string, value interface{}, ttl time.Duration) {
	c.entries.Add(key, cacheEntry{value: value, expiresAt: c.now().Add(ttl)})
}

// clear evicts by exact key, or by wildcard pattern across all cached keys
// when the pattern contains '*'.
func (c *readCache) clear(pattern string) {
	if pattern == "*" {
		c.entries.Purge()
		return
	}

	if !strings.Contains(pattern, "*") {
		c.entries.Remove(pattern)
		return
	}

	for _, key := range c.entries.Keys() {
		if matchWildcard(pattern, key) {
			c.entries.Remove(key)
		}
	}
}

func (c *readCache) len() int {
	return c.entries.Len()
}

// matchWildcard matches '*' segments in order, anchoring literal prefixes
// and suffixes.
func matchWildcard(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}

	parts := strings.Split(pattern, "*")

	if first := parts[0]; first != "" {
		if !strings.HasPrefix(s, first) {
			return false
		}
		s = s[len(first):]
	}

	last := len(parts) - 1
	for i := 1; i < last; i++ {
		part := parts[i]
		if part == "" {
			continue
		}
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}

	if lastPart := parts[last]; lastPart != "" {
		return strings.HasSuffix(s, lastPart)
	}
	return true
}
