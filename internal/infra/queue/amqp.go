package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

const (
	backendAMQP = "amqp"

	retryCountHeader = "x-retry-count"
)

// AMQPConfig names the durable queue and sizes the consumer.
type AMQPConfig struct {
	QueueName   string
	Workers     int
	Prefetch    int
	MaxAttempts int
	JobTimeout  time.Duration
}

// Channel is the subset of *amqp.Channel the queue uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQP publishes shard jobs to a durable queue and consumes them with manual acks.
type AMQP struct {
	cfg            AMQPConfig
	ch             Channel
	conn           io.Closer
	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

var _ Queue = (*AMQP)(nil)

// DialAMQP connects to the broker and declares the queue.
func DialAMQP(url string, cfg AMQPConfig) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	q, err := NewAMQP(ch, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

// NewAMQP declares the queue on an open channel.
func NewAMQP(ch Channel, cfg AMQPConfig) (*AMQP, error) {
	if cfg.QueueName == "" {
		cfg.QueueName = "notify_shards"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	if _, err := ch.QueueDeclare(
		cfg.QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	return &AMQP{cfg: cfg, ch: ch, shutdownCtx: shutdownCtx, shutdownCancel: shutdownCancel}, nil
}

func (q *AMQP) Enqueue(_ context.Context, job Job) error {
	if err := q.publish(job); err != nil {
		recordEnqueue(backendAMQP, "error")
		return err
	}
	recordEnqueue(backendAMQP, "ok")
	return nil
}

func (q *AMQP) publish(job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = q.ch.Publish("", q.cfg.QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.RequestID,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{retryCountHeader: int32(job.Attempt)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Consume registers a manual-ack consumer and fans deliveries out to
// cfg.Workers goroutines. It returns when ctx is cancelled or the channel closes.
func (q *AMQP) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := q.ch.Consume(
		q.cfg.QueueName,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	q.wg.Add(q.cfg.Workers)
	for i := 0; i < q.cfg.Workers; i++ {
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.handle(handler, d)
				}
			}
		}()
	}
	q.wg.Wait()
	return nil
}

func (q *AMQP) handle(handler Handler, d amqp.Delivery) {
	jobsInFlight.WithLabelValues(backendAMQP).Inc()
	defer jobsInFlight.WithLabelValues(backendAMQP).Dec()

	start := time.Now()
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		slog.Error("Invalid shard job payload", slog.Any("error", err))
		_ = d.Ack(false)
		recordHandled(backendAMQP, "dropped", time.Since(start))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in shard job",
				slog.String("request_id", job.RequestID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			_ = d.Ack(false)
			recordHandled(backendAMQP, "panic", time.Since(start))
		}
	}()

	ctx, cancel := context.WithTimeout(q.shutdownCtx, q.cfg.JobTimeout)
	defer cancel()

	err := handler(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		recordHandled(backendAMQP, "success", time.Since(start))
		return
	}

	job.Attempt++
	if job.Attempt >= q.cfg.MaxAttempts {
		slog.Error("Shard job dropped after max attempts",
			slog.String("request_id", job.RequestID),
			slog.Int("attempts", job.Attempt),
			slog.Any("error", err))
		_ = d.Ack(false)
		recordHandled(backendAMQP, "dropped", time.Since(start))
		return
	}

	// republish with the bumped attempt; fall back to a broker requeue
	if perr := q.publish(job); perr != nil {
		slog.Warn("Republish failed, requeueing delivery",
			slog.String("request_id", job.RequestID),
			slog.Any("error", perr))
		_ = d.Nack(false, true)
	} else {
		_ = d.Ack(false)
	}
	slog.Warn("Shard job failed, retrying",
		slog.String("request_id", job.RequestID),
		slog.Int("attempt", job.Attempt),
		slog.Any("error", err))
	recordHandled(backendAMQP, "retry", time.Since(start))
}

// Shutdown closes the channel, which ends the delivery stream, and waits
// for in-flight handlers.
func (q *AMQP) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down amqp queue")
	if err := q.ch.Close(); err != nil {
		slog.Warn("Failed to close amqp channel", slog.Any("error", err))
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		slog.Info("AMQP queue shutdown complete")
	case <-ctx.Done():
		q.shutdownCancel()
		slog.Warn("AMQP queue shutdown timeout")
		err = ctx.Err()
	}
	if q.conn != nil {
		_ = q.conn.Close()
	}
	return err
}
