package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/repository"
)

type RecallRecordRepo struct{ db *sql.DB }

func NewRecallRecordRepo(db *sql.DB) repository.RecallRecordRepository {
	return &RecallRecordRepo{db: db}
}

func (repo *RecallRecordRepo) Get(ctx context.Context, key entity.RecallKey) (*entity.RecallRecord, error) {
	const query = `
SELECT id, app_id, body_id, task_id, recalled_at, success, affected_count, raw_result
FROM recall_records
WHERE app_id = $1 AND body_id = $2 AND task_id = $3`
	var r entity.RecallRecord
	err := repo.db.QueryRowContext(ctx, query, key.AppID, key.BodyID, key.TaskID).Scan(
		&r.ID, &r.AppID, &r.BodyID, &r.TaskID, &r.RecalledAt, &r.Success, &r.AffectedCount, &r.RawResult)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &r, nil
}

// Upsert keys on (app_id, body_id, task_id). affected_count accumulates.
func (repo *RecallRecordRepo) Upsert(ctx context.Context, record *entity.RecallRecord) error {
	const query = `
INSERT INTO recall_records (app_id, body_id, task_id, recalled_at, success, affected_count, raw_result)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (app_id, body_id, task_id) DO UPDATE SET
       recalled_at    = EXCLUDED.recalled_at,
       success        = EXCLUDED.success,
       affected_count = recall_records.affected_count + EXCLUDED.affected_count,
       raw_result     = EXCLUDED.raw_result
RETURNING id, affected_count`
	err := repo.db.QueryRowContext(ctx, query,
		record.AppID, record.BodyID, record.TaskID, record.RecalledAt,
		record.Success, record.AffectedCount, record.RawResult,
	).Scan(&record.ID, &record.AffectedCount)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}
