package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-pipeline/internal/infra/queue"
)

func startConsumer(t *testing.T, q queue.Queue, h queue.Handler) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, h)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestMemory_DeliversEveryJob(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{Workers: 3, Buffer: 16})

	var mu sync.Mutex
	seen := map[int64]bool{}
	stop := startConsumer(t, q, func(_ context.Context, job queue.Job) error {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range job.LogIDs {
			seen[id] = true
		}
		return nil
	})
	defer stop()

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{i}}))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemory_RedeliversUntilMaxAttempts(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{Workers: 1, Buffer: 4, MaxAttempts: 3})

	var calls atomic.Int32
	stop := startConsumer(t, q, func(_ context.Context, job queue.Job) error {
		calls.Add(1)
		return errors.New("db unavailable")
	})
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{1}}))

	assert.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "job must not be retried past max attempts")
}

func TestMemory_RecoversFromPanic(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{Workers: 1, Buffer: 4})

	var handled atomic.Int32
	stop := startConsumer(t, q, func(_ context.Context, job queue.Job) error {
		if job.LogIDs[0] == 1 {
			panic("boom")
		}
		handled.Add(1)
		return nil
	})
	defer stop()

	require.NoError(t, q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{1}}))
	require.NoError(t, q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{2}}))

	assert.Eventually(t, func() bool { return handled.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestMemory_EnqueueAfterShutdown(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{})
	require.NoError(t, q.Shutdown(context.Background()))

	err := q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{1}})
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestMemory_EnqueueHonoursContext(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{Buffer: 1})
	require.NoError(t, q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{1}}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, queue.Job{LogIDs: []int64{2}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestMemory_EnqueueFullBufferTimesOut(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{Buffer: 1, EnqueueTimeout: 20 * time.Millisecond})
	require.NoError(t, q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{1}}))

	start := time.Now()
	err := q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{2}})
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMemory_ShutdownReleasesBlockedEnqueue(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{Buffer: 1, EnqueueTimeout: time.Minute})
	require.NoError(t, q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{1}}))

	errc := make(chan error, 1)
	go func() {
		errc <- q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{2}})
	}()
	time.Sleep(20 * time.Millisecond)

	shutdown := make(chan error, 1)
	go func() { shutdown <- q.Shutdown(context.Background()) }()

	select {
	case err := <-shutdown:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked behind a waiting Enqueue")
	}
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, queue.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue not released by Shutdown")
	}
}

func TestMemory_ShutdownWaitsForInFlight(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{Workers: 1, Buffer: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	go func() {
		_ = q.Consume(context.Background(), func(_ context.Context, _ queue.Job) error {
			close(started)
			<-release
			finished.Store(true)
			return nil
		})
	}()

	require.NoError(t, q.Enqueue(context.Background(), queue.Job{LogIDs: []int64{1}}))
	<-started

	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()
	require.NoError(t, q.Shutdown(context.Background()))
	assert.True(t, finished.Load())
}
