package repository

import (
	"context"
	"time"

	"notify-pipeline/internal/domain/entity"
)

// RetryFilter selects delivery logs eligible for compensation.
type RetryFilter struct {
	CreatedSince time.Time
	// StaleBefore picks up pending rows created before this instant.
	StaleBefore time.Time
	MaxRetries  int
	Limit       int
}

// DeliveryLogRepository stores per-recipient delivery attempts.
type DeliveryLogRepository interface {
	// InsertBatch inserts all logs in one statement and sets their IDs.
	InsertBatch(ctx context.Context, logs []*entity.DeliveryLog) error
	ListByIDs(ctx context.Context, ids []int64) ([]*entity.DeliveryLog, error)
	ListByTaskID(ctx context.Context, taskID string) ([]*entity.DeliveryLog, error)
	GetByDeliveryID(ctx context.Context, deliveryID string) (*entity.DeliveryLog, error)

	// ExistingFingerprints returns the subset of fingerprints held by
	// non-recalled rows created at or after since.
	ExistingFingerprints(ctx context.Context, fingerprints []string, since time.Time) (map[string]struct{}, error)

	ApplyShardOutcome(ctx context.Context, ids []int64, outcome entity.ShardOutcome) error
	SetDirectoryCodes(ctx context.Context, codes map[int64]string) error

	ListRetryCandidates(ctx context.Context, filter RetryFilter) ([]*entity.DeliveryLog, error)
	// IncrementRetry bumps retry_count of rows still below maxRetries and returns their ids.
	IncrementRetry(ctx context.Context, ids []int64, maxRetries int) ([]int64, error)
	CountExhausted(ctx context.Context, since time.Time, maxRetries int) (int, error)

	// MarkRecalled flags not-yet-recalled rows and returns how many changed.
	MarkRecalled(ctx context.Context, ids []int64, at time.Time) (int, error)

	ApplyReceipt(ctx context.Context, deliveryID string, receivedAt, readAt *time.Time) (bool, error)
	MarkDone(ctx context.Context, deliveryID string) (bool, error)
	ListDoneRecipients(ctx context.Context, bodyID int64) ([]string, error)
}
