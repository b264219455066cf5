// Package recall withdraws sent messages at the gateway and records the
// outcome once per (app, body, task).
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/infra/gateway"
	"notify-pipeline/internal/observability/tracing"
	"notify-pipeline/internal/repository"
)

var recallGroupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "recall_groups_total",
		Help: "Recall groups processed, by outcome",
	},
	[]string{"status"},
)

// Gateway withdraws a sent task. *gateway.Client implements it.
type Gateway interface {
	Recall(ctx context.Context, appID, taskID string) (*gateway.RecallResult, error)
}

// DeliveryCache forgets delivery fingerprints. *dispatch.DedupCache implements it.
type DeliveryCache interface {
	DeleteDeliveries(ctx context.Context, fingerprints []string)
}

// Input selects what to recall. Exactly one field must be set.
type Input struct {
	TaskID     string
	DeliveryID string
}

type Status string

const (
	StatusRecalled        Status = "recalled"
	StatusAlreadyRecalled Status = "already_recalled"
	StatusFailed          Status = "failed"
)

// GroupOutcome is the result for one (app, body, task) group.
type GroupOutcome struct {
	Key      entity.RecallKey
	Status   Status
	Affected int
	Error    string
}

type Outcome struct {
	RecalledAt time.Time
	Groups     []GroupOutcome
	// TaskSiblings counts unrecalled rows sharing the gateway task of a
	// recall by delivery id. The gateway withdraws the whole task, but only
	// the selected row is marked, so the siblings keep suppressing resends.
	TaskSiblings int
}

// Affected sums newly recalled rows across groups.
func (o *Outcome) Affected() int {
	n := 0
	for _, g := range o.Groups {
		n += g.Affected
	}
	return n
}

type Coordinator struct {
	logs    repository.DeliveryLogRepository
	bodies  repository.MessageBodyRepository
	records repository.RecallRecordRepository
	gateway Gateway
	cache   DeliveryCache
	now     func() time.Time
}

func NewCoordinator(
	logs repository.DeliveryLogRepository,
	bodies repository.MessageBodyRepository,
	records repository.RecallRecordRepository,
	gw Gateway,
	cache DeliveryCache,
) *Coordinator {
	return &Coordinator{logs: logs, bodies: bodies, records: records, gateway: gw, cache: cache, now: time.Now}
}

type group struct {
	key  entity.RecallKey
	rows []*entity.DeliveryLog
}

// Recall withdraws the task behind in. Re-running it is safe: groups with no
// pending rows do not call the gateway and leave their record untouched.
func (c *Coordinator) Recall(ctx context.Context, in Input) (*Outcome, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "recall.Recall")
	defer span.End()
	span.SetAttributes(attribute.String("task_id", in.TaskID), attribute.String("delivery_id", in.DeliveryID))

	rows, err := c.resolveRows(ctx, in)
	if err != nil {
		return nil, err
	}
	groups, err := c.group(ctx, rows)
	if err != nil {
		return nil, err
	}

	out := &Outcome{RecalledAt: c.now(), Groups: make([]GroupOutcome, len(groups))}
	if in.DeliveryID != "" {
		out.TaskSiblings = c.taskSiblings(ctx, rows[0])
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			res, err := c.recallGroup(gctx, grp, out.RecalledAt)
			if err != nil {
				return err
			}
			out.Groups[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("Recall completed",
		slog.String("task_id", in.TaskID),
		slog.String("delivery_id", in.DeliveryID),
		slog.Int("groups", len(out.Groups)),
		slog.Int("affected", out.Affected()),
		slog.Int("task_siblings", out.TaskSiblings))
	return out, nil
}

// taskSiblings counts the other unrecalled rows under row's gateway task.
// A lookup failure is logged and counted as zero.
func (c *Coordinator) taskSiblings(ctx context.Context, row *entity.DeliveryLog) int {
	rows, err := c.logs.ListByTaskID(ctx, row.TaskID)
	if err != nil {
		slog.Warn("Failed to count rows sharing the recalled task",
			slog.String("task_id", row.TaskID),
			slog.Any("error", err))
		return 0
	}
	n := 0
	for _, r := range rows {
		if r.ID != row.ID && !r.Recalled {
			n++
		}
	}
	if n > 0 {
		slog.Warn("Recall by delivery withdrew a shared gateway task",
			slog.String("task_id", row.TaskID),
			slog.String("delivery_id", row.DeliveryID),
			slog.Int("unmarked_rows", n))
	}
	return n
}

func (c *Coordinator) resolveRows(ctx context.Context, in Input) ([]*entity.DeliveryLog, error) {
	switch {
	case in.TaskID != "" && in.DeliveryID != "":
		return nil, &entity.ValidationError{Field: "task_id", Message: "task_id and delivery_id are mutually exclusive"}
	case in.TaskID != "":
		rows, err := c.logs.ListByTaskID(ctx, in.TaskID)
		if err != nil {
			return nil, fmt.Errorf("load task rows: %w", err)
		}
		if len(rows) == 0 {
			return nil, &entity.NotFoundError{Resource: "task", Key: in.TaskID}
		}
		return rows, nil
	case in.DeliveryID != "":
		row, err := c.logs.GetByDeliveryID(ctx, in.DeliveryID)
		if err != nil {
			return nil, fmt.Errorf("load delivery: %w", err)
		}
		if row == nil {
			return nil, &entity.NotFoundError{Resource: "delivery", Key: in.DeliveryID}
		}
		if row.TaskID == "" {
			return nil, &entity.ValidationError{Field: "delivery_id", Message: "delivery has not been sent"}
		}
		return []*entity.DeliveryLog{row}, nil
	default:
		return nil, &entity.ValidationError{Field: "task_id", Message: "task_id or delivery_id is required"}
	}
}

// group splits rows by (app, body, task). The app comes from the row's body.
func (c *Coordinator) group(ctx context.Context, rows []*entity.DeliveryLog) ([]group, error) {
	apps := make(map[int64]string)
	byKey := make(map[entity.RecallKey]*group)
	for _, r := range rows {
		app, ok := apps[r.BodyID]
		if !ok {
			body, err := c.bodies.Get(ctx, r.BodyID)
			if err != nil {
				return nil, fmt.Errorf("load message body: %w", err)
			}
			if body == nil {
				return nil, &entity.NotFoundError{Resource: "message body", Key: fmt.Sprint(r.BodyID)}
			}
			app = body.AppID
			apps[r.BodyID] = app
		}
		key := entity.RecallKey{AppID: app, BodyID: r.BodyID, TaskID: r.TaskID}
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key}
			byKey[key] = g
		}
		g.rows = append(g.rows, r)
	}

	out := make([]group, 0, len(byKey))
	for _, g := range byKey {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.BodyID != out[j].key.BodyID {
			return out[i].key.BodyID < out[j].key.BodyID
		}
		return out[i].key.TaskID < out[j].key.TaskID
	})
	return out, nil
}

// recallGroup returns an error only for store failures. Gateway failures
// are recorded on the recall record and reported in the outcome.
func (c *Coordinator) recallGroup(ctx context.Context, g group, at time.Time) (GroupOutcome, error) {
	res := GroupOutcome{Key: g.key}

	var pending []*entity.DeliveryLog
	for _, r := range g.rows {
		if !r.Recalled {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		res.Status = StatusAlreadyRecalled
		recallGroupsTotal.WithLabelValues(string(res.Status)).Inc()
		return res, nil
	}

	record := &entity.RecallRecord{
		AppID:      g.key.AppID,
		BodyID:     g.key.BodyID,
		TaskID:     g.key.TaskID,
		RecalledAt: at,
	}

	gwRes, err := c.gateway.Recall(ctx, g.key.AppID, g.key.TaskID)
	if err != nil {
		record.Success = false
		record.RawResult = err.Error()
		if upErr := c.records.Upsert(ctx, record); upErr != nil {
			return res, fmt.Errorf("save recall record: %w", upErr)
		}
		res.Status = StatusFailed
		res.Error = err.Error()
		recallGroupsTotal.WithLabelValues(string(res.Status)).Inc()
		slog.Warn("Gateway recall failed",
			slog.String("app_id", g.key.AppID),
			slog.String("task_id", g.key.TaskID),
			slog.Any("error", err))
		return res, nil
	}

	ids := make([]int64, len(pending))
	fps := make([]string, len(pending))
	for i, r := range pending {
		ids[i] = r.ID
		fps[i] = r.Fingerprint
	}
	n, err := c.logs.MarkRecalled(ctx, ids, at)
	if err != nil {
		return res, fmt.Errorf("mark rows recalled: %w", err)
	}

	record.Success = true
	record.AffectedCount = n
	record.RawResult = gwRes.Raw
	if err := c.records.Upsert(ctx, record); err != nil {
		return res, fmt.Errorf("save recall record: %w", err)
	}
	if c.cache != nil {
		c.cache.DeleteDeliveries(ctx, fps)
	}

	res.Status = StatusRecalled
	res.Affected = n
	recallGroupsTotal.WithLabelValues(string(res.Status)).Inc()
	return res, nil
}
