package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations counts queued store operations by operation name and result (ok|error|timeout).
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heliactyl_store_operations_total",
			Help: "Total number of store operations processed by the queue",
		},
		[]string{"op", "result"},
	)

	// StoreOperationLatency measures backend call latency per queued operation.
	StoreOperationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heliactyl_store_operation_seconds",
			Help:    "Backend latency of queued store operations",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueueDepth tracks the number of operations waiting in the serialized queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heliactyl_store_queue_depth",
			Help: "Current depth of the serialized operation queue",
		},
	)

	// CacheRequests counts read-cache lookups by result (hit|miss).
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heliactyl_store_cache_requests_total",
			Help: "Read cache lookups",
		},
		[]string{"result"},
	)

	// ExpiredKeysSwept counts keys removed by the periodic TTL sweep.
	ExpiredKeysSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heliactyl_store_expired_keys_swept_total",
			Help: "Keys deleted by the background expiry sweep",
		},
	)

	// APILatency measures HTTP request latencies of the KV daemon.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heliactyl_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
