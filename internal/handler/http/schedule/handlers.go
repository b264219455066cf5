package schedule

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/handler/http/respond"
	schedUC "notify-pipeline/internal/usecase/schedule"
)

// Manager is *schedule.Manager.
type Manager interface {
	Apply(ctx context.Context, cmd schedUC.Command) (*entity.PeriodicSchedule, error)
	Get(ctx context.Context, id int64) (*entity.PeriodicSchedule, error)
}

type DTO struct {
	ID          int64      `json:"id"`
	CronExpr    string     `json:"cron_expr"`
	MaxRuns     int        `json:"max_runs"`
	Deadline    *time.Time `json:"deadline"`
	BodyID      int64      `json:"body_id"`
	Recipients  []string   `json:"recipients"`
	OrgUnits    []string   `json:"org_units"`
	Remark      string     `json:"remark"`
	State       string     `json:"state"`
	JobID       int        `json:"job_id"`
	RunCount    int        `json:"run_count"`
	ActivatedAt *time.Time `json:"activated_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toDTO(s *entity.PeriodicSchedule) DTO {
	return DTO{
		ID:          s.ID,
		CronExpr:    s.CronExpr,
		MaxRuns:     s.MaxRuns,
		Deadline:    s.Deadline,
		BodyID:      s.BodyID,
		Recipients:  s.Recipients,
		OrgUnits:    s.OrgUnits,
		Remark:      s.Remark,
		State:       string(s.State),
		JobID:       s.JobID,
		RunCount:    s.RunCount,
		ActivatedAt: s.ActivatedAt,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &entity.ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return id, nil
}

// CommandHandler applies Action to the schedule in the path, if any.
// Status defaults to 200.
type CommandHandler struct {
	Svc    Manager
	Action string
	Status int
}

func (h CommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var id int64
	if chi.URLParam(r, "id") != "" {
		var err error
		if id, err = pathID(r); err != nil {
			respond.FromError(w, err)
			return
		}
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		respond.FromError(w, &entity.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	cmd, err := schedUC.ParseCommandFor(id, h.Action, data)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	s, err := h.Svc.Apply(r.Context(), cmd)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	status := h.Status
	if status == 0 {
		status = http.StatusOK
	}
	respond.JSON(w, status, toDTO(s))
}

type GetHandler struct{ Svc Manager }

func (h GetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	s, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, toDTO(s))
}
