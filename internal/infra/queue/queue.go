// Package queue carries shard jobs from the dispatcher to shard workers.
//
// Both backends deliver a job at least once. A handler error redelivers the
// job until MaxAttempts is reached, after which it is dropped and counted.
package queue

import (
	"context"
	"errors"
)

var (
	ErrClosed    = errors.New("queue: closed")
	ErrQueueFull = errors.New("queue: full")
)

// DefaultMaxAttempts bounds redelivery of a job whose handler keeps failing.
const DefaultMaxAttempts = 3

// Job is one shard: delivery log rows sharing a body, sent in one gateway call.
type Job struct {
	LogIDs    []int64 `json:"log_ids"`
	RequestID string  `json:"request_id,omitempty"`
	Attempt   int     `json:"attempt,omitempty"`
}

// Handler processes one job. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Consume runs handler for incoming jobs until ctx is cancelled.
	Consume(ctx context.Context, handler Handler) error
	// Shutdown stops accepting jobs and waits for in-flight handlers.
	Shutdown(ctx context.Context) error
}
