package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T, size int, timeout time.Duration) *opQueue {
	t.Helper()

	q := newOpQueue(size, timeout, zap.NewNop(), time.Now)
	t.Cleanup(q.close)
	return q
}

// blockWorker occupies the in-flight slot until the returned release func is
// called, guaranteeing later submissions pile up in FIFO order.
func blockWorker(t *testing.T, q *opQueue, wg *sync.WaitGroup) (release func()) {
	t.Helper()

	started := make(chan struct{})
	gate := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.do(context.Background(), "gate", func(context.Context) (interface{}, error) {
			close(started)
			<-gate
			return nil, nil
		})
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("gate operation never started")
	}

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func TestQueueRunsOperations(t *testing.T) {
	q := newTestQueue(t, 16, time.Second)

	res, err := q.do(context.Background(), "test", func(context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, res)
}

func TestQueueFIFOOrdering(t *testing.T) {
	q := newTestQueue(t, 16, 5*time.Second)

	var wg sync.WaitGroup
	release := blockWorker(t, q, &wg)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func(context.Context) (interface{}, error) {
		return func(context.Context) (interface{}, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.do(context.Background(), "a", record("a"))
	}()
	require.Eventually(t, func() bool { return q.depth() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.do(context.Background(), "b", record("b"))
	}()
	require.Eventually(t, func() bool { return q.depth() == 2 }, time.Second, time.Millisecond)

	release()
	wg.Wait()

	require.Equal(t, []string{"a", "b"}, order)
}

func TestQueueBackpressure(t *testing.T) {
	const size = 4
	q := newTestQueue(t, size, 5*time.Second)

	var wg sync.WaitGroup
	release := blockWorker(t, q, &wg)
	defer func() {
		release()
		wg.Wait()
	}()

	// Fill every waiting slot while the gate op occupies the in-flight slot.
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.do(context.Background(), "fill", func(context.Context) (interface{}, error) {
				return nil, nil
			})
		}()
	}
	require.Eventually(t, func() bool { return q.depth() == size }, time.Second, time.Millisecond)

	touched := false
	_, err := q.do(context.Background(), "overflow", func(context.Context) (interface{}, error) {
		touched = true
		return nil, nil
	})
	require.ErrorIs(t, err, ErrQueueFull)
	require.False(t, touched, "rejected operation must never reach the backend")
}

func TestQueueTimeoutDiscardsResult(t *testing.T) {
	q := newTestQueue(t, 16, 30*time.Millisecond)

	finished := make(chan struct{})

	_, err := q.do(context.Background(), "slow", func(context.Context) (interface{}, error) {
		time.Sleep(100 * time.Millisecond)
		close(finished)
		return "late", nil
	})
	require.ErrorIs(t, err, ErrTimeout)

	// The backend call was not cancelled; it runs to completion and its
	// result is discarded.
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("in-flight operation should run to completion")
	}
}

func TestQueueContextCancellation(t *testing.T) {
	q := newTestQueue(t, 16, time.Second)

	var wg sync.WaitGroup
	release := blockWorker(t, q, &wg)
	defer func() {
		release()
		wg.Wait()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.do(ctx, "cancelled", func(context.Context) (interface{}, error) { return nil, nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueClosedRejectsNewWork(t *testing.T) {
	q := newOpQueue(4, time.Second, zap.NewNop(), time.Now)
	q.close()

	_, err := q.do(context.Background(), "late", func(context.Context) (interface{}, error) { return nil, nil })
	require.ErrorIs(t, err, ErrClosed)

	q.close() // idempotent
}

func TestRollingStatsReset(t *testing.T) {
	s := &rollingStats{}

	for i := 0; i < statsResetThreshold; i++ {
		s.record(time.Millisecond)
	}
	count, avg := s.snapshot()
	require.EqualValues(t, statsResetThreshold, count)
	require.Equal(t, time.Millisecond, avg)

	// Crossing the threshold keeps only the most recent sample.
	s.record(5 * time.Millisecond)
	count, avg = s.snapshot()
	require.EqualValues(t, 1, count)
	require.Equal(t, 5*time.Millisecond, avg)
}
