package kv

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heliactyl/heliactyldb/pkg/metrics"
)

// operation is one unit of queued work: a closure performing exactly one
// backend call, paired with a buffered result channel so an abandoned caller
// never blocks the worker.
type operation struct {
	name string
	run  func(context.Context) (interface{}, error)
	done chan opResult
}

type opResult struct {
	value interface{}
	err   error
}

// opQueue funnels every backend call of one handle through a single worker
// goroutine: strict FIFO, at most one operation in flight, bounded depth, and
// a per-operation deadline covering queue wait plus execution. A timed-out
// caller is rejected but the backend call itself is never cancelled; its
// eventual result is discarded.
type opQueue struct {
	ops     chan *operation
	timeout time.Duration
	stats   *rollingStats
	log     *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newOpQueue(size int, timeout time.Duration, log *zap.Logger, now func() time.Time) *opQueue {
	q := &opQueue{
		ops:     make(chan *operation, size),
		timeout: timeout,
		stats:   &rollingStats{},
		log:     log,
		now:     now,
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// do submits a backend call and waits for it to settle. Admission is
// instant: a full queue rejects with ErrQueueFull before anything is queued.
func (q *opQueue) do(ctx context.Context, name string, run func(context.Context) (interface{}, error)) (interface{}, error) {
	op := &operation{name: name, run: run, done: make(chan opResult, 1)}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrClosed
	}
	select {
	case q.ops <- op:
		q.mu.RUnlock()
	default:
		q.mu.RUnlock()
		metrics.StoreOperations.WithLabelValues(name, "rejected").Inc()
		return nil, ErrQueueFull
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case res := <-op.done:
		return res.value, res.err
	case <-timer.C:
		metrics.StoreOperations.WithLabelValues(name, "timeout").Inc()
		q.log.Warn("operation timed out; backend outcome unknown",
			zap.String("op", name),
			zap.Duration("timeout", q.timeout),
			zap.Int("queue_depth", len(q.ops)),
		)
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *opQueue) worker() {
	defer q.wg.Done()

	for op := range q.ops {
		start := q.now()
		value, err := op.run(context.Background())
		elapsed := q.now().Sub(start)

		q.stats.record(elapsed)
		metrics.StoreOperationLatency.Observe(elapsed.Seconds())

		result := "ok"
		if err != nil {
			result = "error"
			q.log.Warn("operation failed",
				zap.String("op", op.name),
				zap.Error(err),
				zap.Duration("elapsed", elapsed),
				zap.Int("queue_depth", len(q.ops)),
			)
		}
		metrics.StoreOperations.WithLabelValues(op.name, result).Inc()

		op.done <- opResult{value: value, err: err}
	}
}

func (q *opQueue) depth() int {
	return len(q.ops)
}

func (q *opQueue) capacity() int {
	return cap(q.ops)
}

// close drains the queue: already-admitted operations still run, new
// submissions fail with ErrClosed.
func (q *opQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ops)
	q.mu.Unlock()

	q.wg.Wait()
}
