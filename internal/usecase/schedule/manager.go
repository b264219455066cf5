// Package schedule owns periodic schedules: their lifecycle, their engine
// jobs and what happens when a job fires.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/infra/scheduler"
	"notify-pipeline/internal/observability/tracing"
	"notify-pipeline/internal/repository"
	"notify-pipeline/internal/usecase/dispatch"
)

// Engine runs cron jobs. *scheduler.Engine implements it.
type Engine interface {
	Register(key, expr string, job scheduler.Job) (int, error)
	Remove(key string)
	InFlight(key string) bool
	Location() *time.Location
}

// Dispatcher sends a body to a recipient set. *dispatch.Service implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, in dispatch.DispatchInput) (*dispatch.DispatchResult, error)
}

type Manager struct {
	schedules     repository.ScheduleRepository
	bodies        repository.MessageBodyRepository
	logs          repository.DeliveryLogRepository
	dispatcher    Dispatcher
	resolver      dispatch.Resolver
	engine        Engine
	maxRecipients int
	now           func() time.Time
}

func NewManager(
	schedules repository.ScheduleRepository,
	bodies repository.MessageBodyRepository,
	logs repository.DeliveryLogRepository,
	dispatcher Dispatcher,
	resolver dispatch.Resolver,
	engine Engine,
	maxRecipients int,
) *Manager {
	if maxRecipients <= 0 {
		maxRecipients = dispatch.DefaultConfig().MaxRecipients
	}
	return &Manager{
		schedules:     schedules,
		bodies:        bodies,
		logs:          logs,
		dispatcher:    dispatcher,
		resolver:      resolver,
		engine:        engine,
		maxRecipients: maxRecipients,
		now:           time.Now,
	}
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// JobKey is the engine key of a schedule's job.
func JobKey(id int64) string {
	return "schedule:" + strconv.FormatInt(id, 10)
}

// Get returns the schedule or a NotFoundError.
func (m *Manager) Get(ctx context.Context, id int64) (*entity.PeriodicSchedule, error) {
	s, err := m.schedules.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if s == nil || s.State == entity.ScheduleDeleted {
		return nil, &entity.NotFoundError{Resource: "schedule", Key: strconv.FormatInt(id, 10)}
	}
	return s, nil
}

// Apply executes cmd and returns the schedule as stored afterwards.
func (m *Manager) Apply(ctx context.Context, cmd Command) (*entity.PeriodicSchedule, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "schedule.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("command", commandName(cmd)))

	s, err := m.apply(ctx, cmd)
	recordCommand(cmd, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	slog.Info("Schedule command applied",
		slog.String("command", commandName(cmd)),
		slog.Int64("schedule_id", s.ID),
		slog.String("state", string(s.State)))
	return s, nil
}

func (m *Manager) apply(ctx context.Context, cmd Command) (*entity.PeriodicSchedule, error) {
	if err := Validate(cmd); err != nil {
		return nil, err
	}
	switch c := cmd.(type) {
	case Create:
		return m.create(ctx, c)
	case Update:
		return m.update(ctx, c)
	case Enable:
		return m.enable(ctx, c.ID)
	case Disable:
		return m.disable(ctx, c.ID)
	case Delete:
		return m.delete(ctx, c.ID)
	default:
		return nil, &entity.ValidationError{Field: "action", Message: fmt.Sprintf("unsupported command %T", cmd)}
	}
}

func (m *Manager) create(ctx context.Context, c Create) (*entity.PeriodicSchedule, error) {
	body, err := m.bodies.Get(ctx, c.BodyID)
	if err != nil {
		return nil, fmt.Errorf("load message body: %w", err)
	}
	if body == nil {
		return nil, &entity.NotFoundError{Resource: "message body", Key: strconv.FormatInt(c.BodyID, 10)}
	}

	s := &entity.PeriodicSchedule{
		CronExpr:   c.CronExpr,
		MaxRuns:    c.MaxRuns,
		BodyID:     c.BodyID,
		Recipients: entity.DedupRecipients(c.Recipients),
		OrgUnits:   c.OrgUnits,
		Remark:     c.Remark,
		State:      entity.ScheduleDraft,
	}
	if err := m.schedules.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return s, nil
}

func (m *Manager) update(ctx context.Context, c Update) (*entity.PeriodicSchedule, error) {
	s, err := m.Get(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	timingChanged := false
	if c.CronExpr != nil && *c.CronExpr != s.CronExpr {
		s.CronExpr = *c.CronExpr
		timingChanged = true
	}
	if c.MaxRuns != nil && *c.MaxRuns != s.MaxRuns {
		s.MaxRuns = *c.MaxRuns
		timingChanged = true
	}
	if c.Recipients != nil {
		s.Recipients = entity.DedupRecipients(*c.Recipients)
	}
	if c.OrgUnits != nil {
		s.OrgUnits = *c.OrgUnits
	}
	if c.Remark != nil {
		s.Remark = *c.Remark
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	if timingChanged && s.ActivatedAt != nil {
		if err := m.computeDeadline(s, *s.ActivatedAt); err != nil {
			return nil, err
		}
	}
	if timingChanged && s.State == entity.ScheduleEnabled {
		if err := m.register(s); err != nil {
			return nil, err
		}
	}
	if err := m.schedules.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s, nil
}

func (m *Manager) enable(ctx context.Context, id int64) (*entity.PeriodicSchedule, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Transition(entity.ScheduleEnabled); err != nil {
		return nil, err
	}

	now := m.now().In(m.engine.Location())
	if err := m.computeDeadline(s, now); err != nil {
		return nil, err
	}
	s.ActivatedAt = &now
	if err := m.register(s); err != nil {
		return nil, err
	}
	if err := m.schedules.Update(ctx, s); err != nil {
		m.engine.Remove(JobKey(s.ID))
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s, nil
}

func (m *Manager) disable(ctx context.Context, id int64) (*entity.PeriodicSchedule, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Transition(entity.ScheduleDisabled); err != nil {
		return nil, err
	}
	m.engine.Remove(JobKey(s.ID))
	s.JobID = 0
	if err := m.schedules.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s, nil
}

func (m *Manager) delete(ctx context.Context, id int64) (*entity.PeriodicSchedule, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Transition(entity.ScheduleDeleted); err != nil {
		return nil, err
	}
	m.engine.Remove(JobKey(s.ID))
	now := m.now()
	s.JobID = 0
	s.DeletedAt = &now
	if err := m.schedules.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s, nil
}

// computeDeadline sets the deadline to the MaxRuns-th fire time after from.
// MaxRuns of zero clears it.
func (m *Manager) computeDeadline(s *entity.PeriodicSchedule, from time.Time) error {
	if s.MaxRuns == 0 {
		s.Deadline = nil
		return nil
	}
	deadline, err := scheduler.NthRunTime(s.CronExpr, s.MaxRuns, from, m.engine.Location())
	if err != nil {
		return &entity.ValidationError{Field: "cron_expr", Message: err.Error()}
	}
	s.Deadline = &deadline
	return nil
}

func (m *Manager) register(s *entity.PeriodicSchedule) error {
	id := s.ID
	jobID, err := m.engine.Register(JobKey(id), s.CronExpr, func(ctx context.Context) {
		if _, err := m.Fire(ctx, id); err != nil {
			slog.Error("Scheduled dispatch failed",
				slog.Int64("schedule_id", id),
				slog.Any("error", err))
		}
	})
	if err != nil {
		return &entity.ValidationError{Field: "cron_expr", Message: err.Error()}
	}
	s.JobID = jobID
	return nil
}

// Fire runs one occurrence of schedule id. It returns a nil result when the
// schedule is skipped.
func (m *Manager) Fire(ctx context.Context, id int64) (*dispatch.DispatchResult, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "schedule.Fire")
	defer span.End()
	span.SetAttributes(attribute.Int64("schedule_id", id))

	s, err := m.schedules.Get(ctx, id)
	if err != nil {
		firesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if s == nil || s.State != entity.ScheduleEnabled || s.Expired(m.now()) {
		firesTotal.WithLabelValues("skipped").Inc()
		slog.Info("Schedule firing skipped", slog.Int64("schedule_id", id))
		return nil, nil
	}

	res, err := m.fire(ctx, s)
	if err != nil {
		firesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, err
	}
	if err := m.schedules.IncrementRunCount(ctx, s.ID); err != nil {
		return res, fmt.Errorf("increment run count: %w", err)
	}
	return res, nil
}

func (m *Manager) fire(ctx context.Context, s *entity.PeriodicSchedule) (*dispatch.DispatchResult, error) {
	body, err := m.bodies.Get(ctx, s.BodyID)
	if err != nil {
		return nil, fmt.Errorf("load message body: %w", err)
	}
	if body == nil {
		return nil, &entity.NotFoundError{Resource: "message body", Key: strconv.FormatInt(s.BodyID, 10)}
	}

	recipients, err := dispatch.ResolveRecipients(ctx, m.resolver,
		entity.RecipientSpec{Identifiers: s.Recipients, OrgUnits: s.OrgUnits}, m.maxRecipients)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	if body.SurveyLinked() {
		done, err := m.logs.ListDoneRecipients(ctx, body.ID)
		if err != nil {
			return nil, fmt.Errorf("list done recipients: %w", err)
		}
		recipients = subtract(recipients, done)
	}
	if len(recipients) == 0 {
		firesTotal.WithLabelValues("no_recipients").Inc()
		slog.Info("Schedule has no remaining recipients", slog.Int64("schedule_id", s.ID))
		return &dispatch.DispatchResult{BodyID: body.ID}, nil
	}

	res, err := m.dispatcher.Dispatch(ctx, dispatch.DispatchInput{
		BodyID:     body.ID,
		Recipients: entity.RecipientSpec{Identifiers: recipients},
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch schedule %d: %w", s.ID, err)
	}
	firesTotal.WithLabelValues("dispatched").Inc()
	slog.Info("Schedule fired",
		slog.Int64("schedule_id", s.ID),
		slog.Int("created", res.Created),
		slog.Int("suppressed", res.Suppressed))
	return res, nil
}

func subtract(ids, remove []string) []string {
	if len(remove) == 0 {
		return ids
	}
	drop := make(map[string]struct{}, len(remove))
	for _, r := range entity.DedupRecipients(remove) {
		drop[r] = struct{}{}
	}
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

type MonitorStats struct {
	Expired  int
	Deferred int
}

// Monitor expires enabled schedules whose deadline passed more than
// entity.ExpiryGrace ago, so the final run is never cut off. A schedule
// whose job is running is left for the next sweep.
func (m *Manager) Monitor(ctx context.Context) (MonitorStats, error) {
	var stats MonitorStats
	due, err := m.schedules.ListExpired(ctx, m.now().Add(-entity.ExpiryGrace))
	if err != nil {
		return stats, fmt.Errorf("list expired schedules: %w", err)
	}
	for _, s := range due {
		key := JobKey(s.ID)
		if m.engine.InFlight(key) {
			stats.Deferred++
			monitorTotal.WithLabelValues("deferred").Inc()
			slog.Info("Schedule expiry deferred, run in flight", slog.Int64("schedule_id", s.ID))
			continue
		}
		if err := s.Transition(entity.ScheduleExpired); err != nil {
			return stats, err
		}
		m.engine.Remove(key)
		s.JobID = 0
		if err := m.schedules.Update(ctx, s); err != nil {
			return stats, fmt.Errorf("update schedule: %w", err)
		}
		stats.Expired++
		monitorTotal.WithLabelValues("expired").Inc()
		slog.Info("Schedule expired",
			slog.Int64("schedule_id", s.ID),
			slog.Int("run_count", s.RunCount))
	}
	return stats, nil
}

// Restore registers the job of every enabled schedule. It is called once
// at boot, before the engine starts.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	enabled, err := m.schedules.ListByState(ctx, entity.ScheduleEnabled)
	if err != nil {
		return 0, fmt.Errorf("list enabled schedules: %w", err)
	}
	restored := 0
	for _, s := range enabled {
		if err := m.register(s); err != nil {
			slog.Warn("Schedule not restored",
				slog.Int64("schedule_id", s.ID),
				slog.Any("error", err))
			continue
		}
		if err := m.schedules.Update(ctx, s); err != nil {
			return restored, fmt.Errorf("update schedule: %w", err)
		}
		restored++
	}
	slog.Info("Schedules restored", slog.Int("count", restored))
	return restored, nil
}
