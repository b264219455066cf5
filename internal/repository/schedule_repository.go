package repository

import (
	"context"
	"time"

	"notify-pipeline/internal/domain/entity"
)

type ScheduleRepository interface {
	Get(ctx context.Context, id int64) (*entity.PeriodicSchedule, error)
	Create(ctx context.Context, schedule *entity.PeriodicSchedule) error
	Update(ctx context.Context, schedule *entity.PeriodicSchedule) error
	ListByState(ctx context.Context, state entity.ScheduleState) ([]*entity.PeriodicSchedule, error)
	// ListExpired returns enabled schedules whose deadline is before now.
	ListExpired(ctx context.Context, now time.Time) ([]*entity.PeriodicSchedule, error)
	IncrementRunCount(ctx context.Context, id int64) error
}
