package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/infra/gateway"
	"notify-pipeline/internal/infra/queue"
	"notify-pipeline/internal/observability/tracing"
	"notify-pipeline/internal/repository"
)

// Gateway sends one message to a set of directory codes.
// *gateway.Client implements it.
type Gateway interface {
	Send(ctx context.Context, appID string, recipients []string, msg gateway.Message) (*gateway.SendResult, error)
}

const errRecipientNotInDirectory = "recipient not found in directory"

// Worker handles shard jobs taken from the queue.
type Worker struct {
	bodies   repository.MessageBodyRepository
	logs     repository.DeliveryLogRepository
	gateway  Gateway
	resolver Resolver
	// timeout bounds one gateway send.
	timeout time.Duration
	now     func() time.Time
}

func NewWorker(
	bodies repository.MessageBodyRepository,
	logs repository.DeliveryLogRepository,
	gw Gateway,
	resolver Resolver,
	timeout time.Duration,
) *Worker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Worker{
		bodies:   bodies,
		logs:     logs,
		gateway:  gw,
		resolver: resolver,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Handle sends one shard. Send and transform failures are written to the
// rows and swallowed; only store errors are returned so the queue redelivers.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	ctx, span := tracing.GetTracer().Start(ctx, "dispatch.HandleShard")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", job.RequestID),
		attribute.Int("rows", len(job.LogIDs)),
		attribute.Int("attempt", job.Attempt),
	)

	start := time.Now()
	defer func() { recordShardDuration(time.Since(start)) }()

	rows, err := w.logs.ListByIDs(ctx, job.LogIDs)
	if err != nil {
		return fmt.Errorf("load shard rows: %w", err)
	}

	pending := make([]*entity.DeliveryLog, 0, len(rows))
	for _, r := range rows {
		if r.Recalled || r.Succeeded() {
			continue
		}
		pending = append(pending, r)
	}
	if skipped := len(job.LogIDs) - len(pending); skipped > 0 {
		recordShardDeliveries("skipped", skipped)
	}
	if len(pending) == 0 {
		return nil
	}

	body, err := w.bodies.Get(ctx, pending[0].BodyID)
	if err != nil {
		return fmt.Errorf("load shard body: %w", err)
	}
	if body == nil {
		return w.fail(ctx, pending, job.RequestID, fmt.Sprintf("message body %d not found", pending[0].BodyID))
	}

	ready, unknown, err := w.resolveCodes(ctx, pending)
	if err != nil {
		return w.fail(ctx, pending, job.RequestID, err.Error())
	}
	if len(unknown) > 0 {
		if err := w.fail(ctx, unknown, job.RequestID, errRecipientNotInDirectory); err != nil {
			return err
		}
	}
	if len(ready) == 0 {
		return nil
	}

	msg, err := gateway.BuildMessage(body)
	if err != nil {
		return w.fail(ctx, ready, job.RequestID, err.Error())
	}

	codes := make([]string, len(ready))
	for i, r := range ready {
		codes[i] = r.DirectoryCode
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	res, err := w.gateway.Send(sendCtx, body.AppID, codes, msg)
	cancel()
	if err != nil {
		return w.fail(ctx, ready, job.RequestID, err.Error())
	}

	delivered, rejected := splitInvalid(ready, res.InvalidRecipients)
	outcome := entity.ShardOutcome{
		Success:   true,
		TaskID:    res.TaskID,
		RequestID: res.RequestID,
		SentAt:    w.now(),
	}
	if len(delivered) > 0 {
		if err := w.logs.ApplyShardOutcome(ctx, ids(delivered), outcome); err != nil {
			return fmt.Errorf("write shard outcome: %w", err)
		}
		recordShardDeliveries("success", len(delivered))
	}

	if len(rejected) > 0 {
		outcome.Success = false
		outcome.ErrorText = "gateway rejected recipient"
		if err := w.logs.ApplyShardOutcome(ctx, ids(rejected), outcome); err != nil {
			return fmt.Errorf("write shard outcome: %w", err)
		}
		recordShardDeliveries("failure", len(rejected))
	}

	slog.Info("Shard sent",
		slog.String("request_id", job.RequestID),
		slog.String("gateway_request_id", res.RequestID),
		slog.String("task_id", res.TaskID),
		slog.Int64("body_id", body.ID),
		slog.Int("delivered", len(delivered)),
		slog.Int("rejected", len(rejected)))
	return nil
}

// resolveCodes fills missing directory codes and persists them. Rows the
// directory does not know are returned separately.
func (w *Worker) resolveCodes(ctx context.Context, rows []*entity.DeliveryLog) (ready, unknown []*entity.DeliveryLog, err error) {
	var missing []string
	for _, r := range rows {
		if r.DirectoryCode == "" {
			missing = append(missing, r.Recipient)
		}
	}
	if len(missing) == 0 {
		return rows, nil, nil
	}
	if w.resolver == nil {
		return nil, nil, fmt.Errorf("resolve directory codes: no resolver configured")
	}

	codes, err := w.resolver.DirectoryCodes(ctx, missing)
	if err != nil {
		return nil, nil, err
	}

	found := make(map[int64]string)
	for _, r := range rows {
		if r.DirectoryCode != "" {
			ready = append(ready, r)
			continue
		}
		code, ok := codes[r.Recipient]
		if !ok || code == "" {
			unknown = append(unknown, r)
			continue
		}
		r.DirectoryCode = code
		found[r.ID] = code
		ready = append(ready, r)
	}
	if len(found) > 0 {
		if err := w.logs.SetDirectoryCodes(ctx, found); err != nil {
			slog.Warn("Failed to persist directory codes", slog.Any("error", err))
		}
	}
	return ready, unknown, nil
}

// fail records a failed attempt on rows. The error is returned only when the
// write itself fails.
func (w *Worker) fail(ctx context.Context, rows []*entity.DeliveryLog, requestID, reason string) error {
	outcome := entity.ShardOutcome{
		Success:   false,
		ErrorText: entity.TruncateErrorText(reason),
		RequestID: requestID,
		SentAt:    w.now(),
	}
	if err := w.logs.ApplyShardOutcome(ctx, ids(rows), outcome); err != nil {
		return fmt.Errorf("write shard outcome: %w", err)
	}
	recordShardDeliveries("failure", len(rows))
	slog.Warn("Shard delivery failed",
		slog.String("request_id", requestID),
		slog.Int("rows", len(rows)),
		slog.String("reason", outcome.ErrorText))
	return nil
}

func splitInvalid(rows []*entity.DeliveryLog, invalid []string) (ok, rejected []*entity.DeliveryLog) {
	if len(invalid) == 0 {
		return rows, nil
	}
	bad := make(map[string]struct{}, len(invalid))
	for _, code := range invalid {
		bad[code] = struct{}{}
	}
	for _, r := range rows {
		if _, isBad := bad[r.DirectoryCode]; isBad {
			rejected = append(rejected, r)
		} else {
			ok = append(ok, r)
		}
	}
	return ok, rejected
}

func ids(rows []*entity.DeliveryLog) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}
