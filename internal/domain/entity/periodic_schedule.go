package entity

import (
	"fmt"
	"time"
)

// ScheduleState is the lifecycle state of a PeriodicSchedule.
type ScheduleState string

const (
	ScheduleDraft    ScheduleState = "draft"
	ScheduleEnabled  ScheduleState = "enabled"
	ScheduleDisabled ScheduleState = "disabled"
	ScheduleExpired  ScheduleState = "expired"
	ScheduleDeleted  ScheduleState = "deleted"
)

// PeriodicSchedule is a cron-driven recurring dispatch of one MessageBody.
//
// Deadline is nil when MaxRuns is 0 (runs until disabled). JobID is the
// scheduling engine entry; 0 means no job is registered in this process.
type PeriodicSchedule struct {
	ID          int64
	CronExpr    string
	MaxRuns     int
	Deadline    *time.Time
	BodyID      int64
	Recipients  []string
	OrgUnits    []string
	Remark      string
	State       ScheduleState
	JobID       int
	RunCount    int
	ActivatedAt *time.Time
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// allowedTransitions lists the source states accepted by each target state.
var allowedTransitions = map[ScheduleState][]ScheduleState{
	ScheduleEnabled:  {ScheduleDraft, ScheduleDisabled},
	ScheduleDisabled: {ScheduleEnabled},
	ScheduleExpired:  {ScheduleEnabled},
	ScheduleDeleted:  {ScheduleDraft, ScheduleEnabled, ScheduleDisabled, ScheduleExpired},
}

// CanTransition reports whether the schedule may move to the target state.
func (s *PeriodicSchedule) CanTransition(to ScheduleState) bool {
	for _, from := range allowedTransitions[to] {
		if s.State == from {
			return true
		}
	}
	return false
}

// Transition moves the schedule to the target state or returns ErrInvalidTransition.
func (s *PeriodicSchedule) Transition(to ScheduleState) error {
	if !s.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

// ExpiryGrace is how long after its deadline a schedule still accepts a
// fire. The deadline is the scheduled time of the last run, and that run
// starts slightly after it; one minute is the cron granularity.
const ExpiryGrace = time.Minute

// Expired reports whether now is past the deadline plus ExpiryGrace.
func (s *PeriodicSchedule) Expired(now time.Time) bool {
	return s.Deadline != nil && now.After(s.Deadline.Add(ExpiryGrace))
}

// Validate checks the fields an operator supplies.
func (s *PeriodicSchedule) Validate() error {
	if s.CronExpr == "" {
		return &ValidationError{Field: "cron_expr", Message: "is required"}
	}
	if s.MaxRuns < 0 {
		return &ValidationError{Field: "max_runs", Message: "must be zero or positive"}
	}
	if s.BodyID <= 0 {
		return &ValidationError{Field: "body_id", Message: "must be positive"}
	}
	if len(s.Recipients) == 0 && len(s.OrgUnits) == 0 {
		return &ValidationError{Field: "recipients", Message: "recipients or org_units are required"}
	}
	return nil
}
