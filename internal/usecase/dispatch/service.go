// Package dispatch turns a notification request into delivery log rows and
// shard jobs, and sends shards to the gateway.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"notify-pipeline/internal/config"
	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/domain/fingerprint"
	"notify-pipeline/internal/infra/queue"
	"notify-pipeline/internal/observability/tracing"
	"notify-pipeline/internal/repository"
)

// Config holds dispatcher limits.
type Config struct {
	MaxRecipients int
	// InsertChunk bounds the rows written by one insert statement.
	InsertChunk int
	ShardSize   int
	// DeliveryWindow is how long a delivered fingerprint suppresses a resend.
	DeliveryWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRecipients:  10000,
		InsertChunk:    500,
		ShardSize:      50,
		DeliveryWindow: 24 * time.Hour,
	}
}

// AppSource validates that an app is configured. *config.AppRegistry implements it.
type AppSource interface {
	Get(id string) (config.App, error)
}

// DispatchInput is one notification request. Either Body (new content) or
// BodyID (an existing body) is set; BodyID wins when both are.
type DispatchInput struct {
	Body       *entity.MessageBody
	BodyID     int64
	Recipients entity.RecipientSpec
	RequestID  string
}

// DispatchResult summarises an accepted dispatch.
type DispatchResult struct {
	BodyID     int64
	RequestID  string
	Recipients int
	Created    int
	// Suppressed counts recipients that already received this content
	// inside the delivery window.
	Suppressed    int
	LogIDs        []int64
	Shards        int
	EnqueueFailed int
	// NotStored counts recipients whose rows failed to insert. It is only
	// set alongside an error; the stored rows are already enqueued.
	NotStored int
}

type Service struct {
	bodies   repository.MessageBodyRepository
	logs     repository.DeliveryLogRepository
	cache    *DedupCache
	queue    queue.Queue
	resolver Resolver
	apps     AppSource
	cfg      Config
	now      func() time.Time
}

func NewService(
	bodies repository.MessageBodyRepository,
	logs repository.DeliveryLogRepository,
	cache *DedupCache,
	q queue.Queue,
	resolver Resolver,
	apps AppSource,
	cfg Config,
) *Service {
	def := DefaultConfig()
	if cfg.MaxRecipients <= 0 {
		cfg.MaxRecipients = def.MaxRecipients
	}
	if cfg.InsertChunk <= 0 {
		cfg.InsertChunk = def.InsertChunk
	}
	if cfg.ShardSize <= 0 {
		cfg.ShardSize = def.ShardSize
	}
	if cfg.DeliveryWindow <= 0 {
		cfg.DeliveryWindow = def.DeliveryWindow
	}
	if cache == nil {
		cache = NewDedupCache(nil, 0, 0)
	}
	return &Service{
		bodies:   bodies,
		logs:     logs,
		cache:    cache,
		queue:    q,
		resolver: resolver,
		apps:     apps,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Dispatch accepts one request. Validation and not-found errors are returned
// before anything is persisted; delivery failures are recorded on the rows.
// When a later insert chunk fails, the rows already stored are enqueued and
// the partial result is returned together with the error.
func (s *Service) Dispatch(ctx context.Context, in DispatchInput) (*DispatchResult, error) {
	return s.dispatch(ctx, NewMemo(), in)
}

// DispatchMany runs each input in order with one shared memo. It stops at the
// first error and returns the results accepted so far, including a partial
// result of the failing input.
func (s *Service) DispatchMany(ctx context.Context, inputs []DispatchInput) ([]*DispatchResult, error) {
	memo := NewMemo()
	results := make([]*DispatchResult, 0, len(inputs))
	for i, in := range inputs {
		res, err := s.dispatch(ctx, memo, in)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, fmt.Errorf("dispatch item %d: %w", i, err)
		}
	}
	return results, nil
}

func (s *Service) dispatch(ctx context.Context, memo *Memo, in DispatchInput) (*DispatchResult, error) {
	ctx, span := tracing.GetTracer().Start(ctx, "dispatch.Dispatch")
	defer span.End()

	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	span.SetAttributes(attribute.String("request_id", requestID))

	res, err := s.run(ctx, memo, in, requestID)
	switch {
	case err == nil:
		recordDispatch("success")
	case entity.IsValidation(err) || errors.Is(err, entity.ErrNotFound):
		recordDispatch("invalid")
	default:
		recordDispatch("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Service) run(ctx context.Context, memo *Memo, in DispatchInput, requestID string) (*DispatchResult, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	recipients, err := ResolveRecipients(ctx, s.resolver, in.Recipients, s.cfg.MaxRecipients)
	if err != nil {
		return nil, err
	}

	body, err := s.loadBody(ctx, memo, in)
	if err != nil {
		return nil, err
	}

	fresh, suppressed, err := s.filterDelivered(ctx, body, recipients)
	if err != nil {
		return nil, err
	}

	res := &DispatchResult{
		BodyID:     body.ID,
		RequestID:  requestID,
		Recipients: len(recipients),
		Suppressed: suppressed,
	}
	if len(fresh) == 0 {
		recordRecipients(0, suppressed)
		slog.Info("Dispatch fully suppressed",
			slog.String("request_id", requestID),
			slog.Int64("body_id", body.ID),
			slog.Int("suppressed", suppressed))
		return res, nil
	}

	logs := make([]*entity.DeliveryLog, 0, len(fresh))
	for _, r := range fresh {
		logs = append(logs, &entity.DeliveryLog{
			BodyID:      body.ID,
			Recipient:   r.recipient,
			Fingerprint: r.fingerprint,
			DeliveryID:  uuid.New().String(),
			RequestID:   requestID,
		})
	}
	inserted, insertErr := s.insertLogs(ctx, logs)
	if inserted == 0 {
		return nil, insertErr
	}
	logs = logs[:inserted]

	res.Created = len(logs)
	res.LogIDs = make([]int64, len(logs))
	for i, l := range logs {
		res.LogIDs[i] = l.ID
	}
	recordRecipients(res.Created, suppressed)

	res.Shards, res.EnqueueFailed = s.enqueueShards(ctx, res.LogIDs, requestID)

	if insertErr != nil {
		res.NotStored = len(fresh) - inserted
		slog.Error("Dispatch partially stored",
			slog.String("request_id", requestID),
			slog.Int64("body_id", body.ID),
			slog.Int("created", res.Created),
			slog.Int("not_stored", res.NotStored),
			slog.Any("error", insertErr))
		return res, insertErr
	}

	slog.Info("Dispatch accepted",
		slog.String("request_id", requestID),
		slog.Int64("body_id", body.ID),
		slog.String("app_id", body.AppID),
		slog.Int("recipients", res.Recipients),
		slog.Int("created", res.Created),
		slog.Int("suppressed", res.Suppressed),
		slog.Int("shards", res.Shards),
		slog.Int("enqueue_failed", res.EnqueueFailed))
	return res, nil
}

// validate checks new content and its app before any lookup.
func (s *Service) validate(in DispatchInput) error {
	if in.BodyID > 0 {
		return nil
	}
	if in.Body == nil {
		return &entity.ValidationError{Field: "body", Message: "body or body_id is required"}
	}
	if err := in.Body.Validate(); err != nil {
		return err
	}
	_, err := s.apps.Get(in.Body.AppID)
	return err
}

// loadBody returns the stored body for in, creating it when in carries new content.
func (s *Service) loadBody(ctx context.Context, memo *Memo, in DispatchInput) (*entity.MessageBody, error) {
	if in.BodyID > 0 {
		body, err := s.bodies.Get(ctx, in.BodyID)
		if err != nil {
			return nil, fmt.Errorf("load message body: %w", err)
		}
		if body == nil {
			return nil, &entity.NotFoundError{Resource: "message body", Key: fmt.Sprint(in.BodyID)}
		}
		if _, err := s.apps.Get(body.AppID); err != nil {
			return nil, err
		}
		return body, nil
	}

	body := *in.Body
	id, err := s.GetOrCreate(ctx, memo, &body)
	if err != nil {
		return nil, err
	}
	body.ID = id
	return &body, nil
}

// GetOrCreate returns the id of the body with b's content fingerprint,
// consulting the memo, the cache and the store before inserting.
func (s *Service) GetOrCreate(ctx context.Context, memo *Memo, b *entity.MessageBody) (int64, error) {
	fp := fingerprint.Content(fingerprint.FromBody(b))
	b.Fingerprint = fp

	if id, ok := memo.body(fp); ok {
		return id, nil
	}
	if id, ok := s.cache.BodyID(ctx, fp); ok {
		memo.setBody(fp, id)
		return id, nil
	}

	existing, err := s.bodies.FindByFingerprint(ctx, fp)
	if err != nil {
		return 0, fmt.Errorf("find message body: %w", err)
	}

	var id int64
	if existing != nil {
		id = existing.ID
		if existing.Source == "" && b.Source != "" {
			if err := s.bodies.BackfillDisplay(ctx, id, b.Source); err != nil {
				slog.Warn("Failed to backfill message body display fields",
					slog.Int64("body_id", id),
					slog.Any("error", err))
			}
		}
	} else {
		id, err = s.bodies.Create(ctx, b)
		if err != nil {
			return 0, fmt.Errorf("create message body: %w", err)
		}
	}

	s.cache.SetBody(ctx, fp, id)
	memo.setBody(fp, id)
	return id, nil
}

type pendingDelivery struct {
	recipient   string
	fingerprint string
}

// filterDelivered drops recipients whose delivery fingerprint is held by a
// non-recalled row inside the delivery window. A cache hit alone never
// suppresses: another replica may have recalled the row, so every hit is
// confirmed against the store and stale keys are evicted.
func (s *Service) filterDelivered(ctx context.Context, body *entity.MessageBody, recipients []string) ([]pendingDelivery, int, error) {
	candidates := make([]pendingDelivery, len(recipients))
	fps := make([]string, len(recipients))
	for i, r := range recipients {
		fp := fingerprint.Delivery(fingerprint.ForRecipient(body, r))
		candidates[i] = pendingDelivery{recipient: r, fingerprint: fp}
		fps[i] = fp
	}

	cached := s.cache.Deliveries(ctx, fps)
	since := s.now().Add(-s.cfg.DeliveryWindow)
	stored, err := s.logs.ExistingFingerprints(ctx, fps, since)
	if err != nil {
		return nil, 0, fmt.Errorf("check delivered fingerprints: %w", err)
	}

	var stale []string
	for fp := range cached {
		if _, ok := stored[fp]; !ok {
			stale = append(stale, fp)
		}
	}
	if len(stale) > 0 {
		s.cache.DeleteDeliveries(ctx, stale)
		slog.Info("Evicted stale delivery cache keys",
			slog.Int64("body_id", body.ID),
			slog.Int("keys", len(stale)))
	}

	fresh := make([]pendingDelivery, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := stored[c.fingerprint]; ok {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh, len(candidates) - len(fresh), nil
}

// insertLogs writes logs in chunks and caches each chunk once it is stored.
// It returns how many leading logs were stored; on error the stored prefix
// still has to be enqueued by the caller.
func (s *Service) insertLogs(ctx context.Context, logs []*entity.DeliveryLog) (int, error) {
	for start := 0; start < len(logs); start += s.cfg.InsertChunk {
		end := start + s.cfg.InsertChunk
		if end > len(logs) {
			end = len(logs)
		}
		chunk := logs[start:end]
		if err := s.logs.InsertBatch(ctx, chunk); err != nil {
			return start, fmt.Errorf("insert delivery logs: %w", err)
		}
		entries := make(map[string]string, len(chunk))
		for _, l := range chunk {
			entries[l.Fingerprint] = l.DeliveryID
		}
		s.cache.SetDeliveries(ctx, entries)
	}
	return len(logs), nil
}

// enqueueShards hands ids to the queue in shards. A shard that cannot be
// enqueued is marked failed on its rows and counted, never returned. Once
// the queue reports full, the remaining shards are marked failed without
// waiting again; compensation re-drives them.
func (s *Service) enqueueShards(ctx context.Context, ids []int64, requestID string) (shards, failed int) {
	full := false
	for _, shard := range Shard(ids, s.cfg.ShardSize) {
		shards++
		err := queue.ErrQueueFull
		if !full {
			err = s.queue.Enqueue(ctx, queue.Job{LogIDs: shard, RequestID: requestID})
			full = errors.Is(err, queue.ErrQueueFull)
		}
		if err == nil {
			recordShard("enqueued")
			continue
		}

		failed++
		recordShard("enqueue_failed")
		slog.Error("Failed to enqueue shard",
			slog.String("request_id", requestID),
			slog.Int("rows", len(shard)),
			slog.Any("error", err))

		outcome := entity.ShardOutcome{
			Success:   false,
			ErrorText: entity.TruncateErrorText("enqueue: " + err.Error()),
			RequestID: requestID,
			SentAt:    s.now(),
		}
		if markErr := s.logs.ApplyShardOutcome(context.WithoutCancel(ctx), shard, outcome); markErr != nil {
			slog.Error("Failed to mark unqueued shard as failed",
				slog.String("request_id", requestID),
				slog.Any("error", markErr))
		}
	}
	return shards, failed
}

// Redispatch re-enqueues existing rows, grouped by body so every shard
// shares one body. It returns the number of shards enqueued.
func (s *Service) Redispatch(ctx context.Context, logIDs []int64) (int, error) {
	if len(logIDs) == 0 {
		return 0, nil
	}
	rows, err := s.logs.ListByIDs(ctx, logIDs)
	if err != nil {
		return 0, fmt.Errorf("load delivery logs: %w", err)
	}

	var order []int64
	byBody := make(map[int64][]int64)
	for _, r := range rows {
		if r.Recalled || r.Succeeded() {
			continue
		}
		if _, ok := byBody[r.BodyID]; !ok {
			order = append(order, r.BodyID)
		}
		byBody[r.BodyID] = append(byBody[r.BodyID], r.ID)
	}

	requestID := uuid.New().String()
	enqueued := 0
	for _, bodyID := range order {
		shards, failed := s.enqueueShards(ctx, byBody[bodyID], requestID)
		enqueued += shards - failed
	}
	return enqueued, nil
}
