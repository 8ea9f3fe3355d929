package kv

import (
	"sync"
	"time"
)

// statsResetThreshold bounds the cumulative latency counters. Past it the
// counters restart from the most recent sample, trading a true rolling
// window for constant memory.
const statsResetThreshold = 1_000_000

type rollingStats struct {
	mu    sync.Mutex
	count uint64
	total time.Duration
}

func (s *rollingStats) record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.total += d
	if s.count > statsResetThreshold {
		s.count = 1
		s.total = d
	}
}

func (s *rollingStats) snapshot() (count uint64, avg time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return 0, 0
	}
	return s.count, s.total / time.Duration(s.count)
}

// Stats is a point-in-time diagnostic snapshot of one handle.
type Stats struct {
	Backend        Kind          `json:"backend"`
	Table          string        `json:"table"`
	Namespace      string        `json:"namespace"`
	TTLEnabled     bool          `json:"ttl_enabled"`
	QueueDepth     int           `json:"queue_depth"`
	QueueCapacity  int           `json:"queue_capacity"`
	Operations     uint64        `json:"operations"`
	AverageLatency time.Duration `json:"average_latency"`
	CacheEntries   int           `json:"cache_entries"`
}
