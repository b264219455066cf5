package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/repository"
)

type ScheduleRepo struct{ db *sql.DB }

func NewScheduleRepo(db *sql.DB) repository.ScheduleRepository {
	return &ScheduleRepo{db: db}
}

const scheduleColumns = `id, cron_expr, max_runs, deadline, body_id, recipients, org_units, remark,
       state, job_id, run_count, activated_at, deleted_at, created_at, updated_at`

func scanSchedule(row interface{ Scan(...any) error }) (*entity.PeriodicSchedule, error) {
	var s entity.PeriodicSchedule
	var state string
	var recipients, orgUnits pq.StringArray
	if err := row.Scan(
		&s.ID, &s.CronExpr, &s.MaxRuns, &s.Deadline, &s.BodyID, &recipients, &orgUnits, &s.Remark,
		&state, &s.JobID, &s.RunCount, &s.ActivatedAt, &s.DeletedAt, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.State = entity.ScheduleState(state)
	s.Recipients = append([]string{}, recipients...)
	s.OrgUnits = append([]string{}, orgUnits...)
	return &s, nil
}

func (repo *ScheduleRepo) list(ctx context.Context, op, query string, args ...any) ([]*entity.PeriodicSchedule, error) {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	schedules := make([]*entity.PeriodicSchedule, 0, 16)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: Scan: %w", op, err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (repo *ScheduleRepo) Get(ctx context.Context, id int64) (*entity.PeriodicSchedule, error) {
	const query = `SELECT ` + scheduleColumns + `
FROM periodic_schedules
WHERE id = $1`
	s, err := scanSchedule(repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return s, nil
}

func (repo *ScheduleRepo) Create(ctx context.Context, s *entity.PeriodicSchedule) error {
	const query = `
INSERT INTO periodic_schedules (cron_expr, max_runs, deadline, body_id, recipients, org_units, remark, state)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at`
	err := repo.db.QueryRowContext(ctx, query,
		s.CronExpr, s.MaxRuns, s.Deadline, s.BodyID,
		pq.Array(s.Recipients), pq.Array(s.OrgUnits), s.Remark, string(s.State),
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (repo *ScheduleRepo) Update(ctx context.Context, s *entity.PeriodicSchedule) error {
	const query = `
UPDATE periodic_schedules SET
       cron_expr    = $2,
       max_runs     = $3,
       deadline     = $4,
       body_id      = $5,
       recipients   = $6,
       org_units    = $7,
       remark       = $8,
       state        = $9,
       job_id       = $10,
       activated_at = $11,
       deleted_at   = $12,
       updated_at   = now()
WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query,
		s.ID, s.CronExpr, s.MaxRuns, s.Deadline, s.BodyID,
		pq.Array(s.Recipients), pq.Array(s.OrgUnits), s.Remark, string(s.State),
		s.JobID, s.ActivatedAt, s.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: RowsAffected: %w", err)
	}
	if n == 0 {
		return &entity.NotFoundError{Resource: "schedule", Key: fmt.Sprint(s.ID)}
	}
	return nil
}

func (repo *ScheduleRepo) ListByState(ctx context.Context, state entity.ScheduleState) ([]*entity.PeriodicSchedule, error) {
	const query = `SELECT ` + scheduleColumns + `
FROM periodic_schedules
WHERE state = $1
ORDER BY id`
	return repo.list(ctx, "ListByState", query, string(state))
}

func (repo *ScheduleRepo) ListExpired(ctx context.Context, now time.Time) ([]*entity.PeriodicSchedule, error) {
	const query = `SELECT ` + scheduleColumns + `
FROM periodic_schedules
WHERE state = 'enabled' AND deadline IS NOT NULL AND deadline < $1
ORDER BY id`
	return repo.list(ctx, "ListExpired", query, now)
}

func (repo *ScheduleRepo) IncrementRunCount(ctx context.Context, id int64) error {
	const query = `UPDATE periodic_schedules SET run_count = run_count + 1, updated_at = now() WHERE id = $1`
	if _, err := repo.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("IncrementRunCount: %w", err)
	}
	return nil
}
