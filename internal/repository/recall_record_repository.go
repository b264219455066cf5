package repository

import (
	"context"

	"notify-pipeline/internal/domain/entity"
)

// RecallRecordRepository stores one recall outcome per (app, body, task).
type RecallRecordRepository interface {
	Get(ctx context.Context, key entity.RecallKey) (*entity.RecallRecord, error)
	// Upsert creates the record or updates it in place. AffectedCount is added
	// to the stored count, so callers pass only rows newly marked by this call.
	Upsert(ctx context.Context, record *entity.RecallRecord) error
}
