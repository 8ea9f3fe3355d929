package kv

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/heliactyl/heliactyldb/pkg/metrics"
)

const (
	sweepSpec     = "@every 1m"
	telemetrySpec = "@every 1m"
)

// startMaintenance schedules the background jobs: the expiry sweep (only
// when TTL support is enabled) and periodic telemetry.
func (db *DB) startMaintenance() error {
	if db.cron == nil {
		db.cron = cron.New()
	}

	if db.ttlEnabled {
		if _, err := db.cron.AddFunc(sweepSpec, db.sweepExpired); err != nil {
			return err
		}
	}
	if _, err := db.cron.AddFunc(telemetrySpec, db.emitTelemetry); err != nil {
		return err
	}

	db.cron.Start()
	return nil
}

// sweepExpired issues one backend-native delete of every row in the
// namespace whose envelope expiry is in the past, using the engine's JSON
// extraction instead of round-tripping rows through the application.
func (db *DB) sweepExpired() {
	cutoff := db.now().UnixMilli()

	res, err := db.queue.do(context.Background(), "sweep", func(ctx context.Context) (interface{}, error) {
		return db.backend.DeleteExpired(ctx, db.prefix(), cutoff)
	})
	if err != nil {
		db.log.Warn("expiry sweep failed",
			zap.Error(err),
			zap.Int("queue_depth", db.queue.depth()),
		)
		return
	}

	if n := res.(int64); n > 0 {
		metrics.ExpiredKeysSwept.Add(float64(n))
		db.log.Info("expiry sweep removed keys", zap.Int64("count", n))
	}
}

func (db *DB) emitTelemetry() {
	count, avg := db.queue.stats.snapshot()
	depth := db.queue.depth()

	metrics.QueueDepth.Set(float64(depth))

	db.log.Debug("store telemetry",
		zap.Int("queue_depth", depth),
		zap.Uint64("operations", count),
		zap.Duration("avg_latency", avg),
		zap.Int("cache_entries", db.cache.len()),
	)
}
