package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	backendMemory = "memory"

	defaultEnqueueTimeout = 5 * time.Second
	defaultJobTimeout     = 2 * time.Minute
)

// MemoryConfig sizes the in-process pool.
type MemoryConfig struct {
	Workers     int
	Buffer      int
	MaxAttempts int
	JobTimeout  time.Duration
	// EnqueueTimeout bounds how long Enqueue waits for buffer space.
	EnqueueTimeout time.Duration
}

// Memory is a bounded in-process queue: a buffered channel drained by a
// fixed set of worker goroutines.
type Memory struct {
	cfg            MemoryConfig
	jobs           chan Job
	mu             sync.RWMutex
	closed         bool
	stopping       chan struct{}
	wg             sync.WaitGroup // worker goroutines
	shutdownCtx    context.Context // cancelled when shutdown times out
	shutdownCancel context.CancelFunc
}

var _ Queue = (*Memory)(nil)

func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	return &Memory{
		cfg:            cfg,
		jobs:           make(chan Job, cfg.Buffer),
		stopping:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
}

// Enqueue waits up to EnqueueTimeout for buffer space. The wait is not
// done under the lock, and Shutdown releases a waiting caller.
func (q *Memory) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		recordEnqueue(backendMemory, "closed")
		return ErrClosed
	}

	select {
	case q.jobs <- job:
		recordEnqueue(backendMemory, "ok")
		return nil
	default:
	}

	timer := time.NewTimer(q.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case q.jobs <- job:
		recordEnqueue(backendMemory, "ok")
		return nil
	case <-q.stopping:
		recordEnqueue(backendMemory, "closed")
		return ErrClosed
	case <-timer.C:
		recordEnqueue(backendMemory, "full")
		return ErrQueueFull
	case <-ctx.Done():
		recordEnqueue(backendMemory, "error")
		return fmt.Errorf("enqueue: %w", ctx.Err())
	}
}

// Consume starts the worker pool and blocks until ctx is cancelled or the
// queue is shut down. In-flight jobs finish before it returns.
func (q *Memory) Consume(ctx context.Context, handler Handler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrClosed
	}
	q.wg.Add(q.cfg.Workers)
	q.mu.RUnlock()

	for i := 0; i < q.cfg.Workers; i++ {
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.stopping:
					return
				case job := <-q.jobs:
					q.handle(handler, job)
				}
			}
		}()
	}
	q.wg.Wait()
	return nil
}

func (q *Memory) handle(handler Handler, job Job) {
	jobsInFlight.WithLabelValues(backendMemory).Inc()
	defer jobsInFlight.WithLabelValues(backendMemory).Dec()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in shard job",
				slog.String("request_id", job.RequestID),
				slog.Int("log_count", len(job.LogIDs)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			recordHandled(backendMemory, "panic", time.Since(start))
		}
	}()

	ctx, cancel := context.WithTimeout(q.shutdownCtx, q.cfg.JobTimeout)
	defer cancel()

	err := handler(ctx, job)
	if err == nil {
		recordHandled(backendMemory, "success", time.Since(start))
		return
	}

	job.Attempt++
	if job.Attempt >= q.cfg.MaxAttempts {
		slog.Error("Shard job dropped after max attempts",
			slog.String("request_id", job.RequestID),
			slog.Int("attempts", job.Attempt),
			slog.Any("error", err))
		recordHandled(backendMemory, "dropped", time.Since(start))
		return
	}

	slog.Warn("Shard job failed, requeueing",
		slog.String("request_id", job.RequestID),
		slog.Int("attempt", job.Attempt),
		slog.Any("error", err))
	recordHandled(backendMemory, "retry", time.Since(start))
	select {
	case q.jobs <- job:
	default:
		slog.Error("Shard job dropped: queue full on requeue",
			slog.String("request_id", job.RequestID))
	}
}

// Shutdown rejects new jobs and waits for in-flight handlers. When ctx
// expires first, the handlers' contexts are cancelled.
func (q *Memory) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down memory queue")

	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.stopping)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Memory queue shutdown complete", slog.Int("abandoned_jobs", len(q.jobs)))
		return nil
	case <-ctx.Done():
		q.shutdownCancel()
		slog.Warn("Memory queue shutdown timeout")
		return ctx.Err()
	}
}

// Len returns the number of buffered jobs.
func (q *Memory) Len() int {
	return len(q.jobs)
}
