// Package fixtures provides in-memory stores and sample data shared by
// use-case and handler tests. The stores follow the postgres adapters'
// query semantics closely enough for the pipeline's invariants to be tested
// without a database.
package fixtures

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/repository"
)

// Store holds every table in memory behind one lock.
type Store struct {
	mu sync.Mutex

	now func() time.Time

	bodies    map[int64]*entity.MessageBody
	logs      map[int64]*entity.DeliveryLog
	recalls   map[entity.RecallKey]*entity.RecallRecord
	schedules map[int64]*entity.PeriodicSchedule
	nextID    int64

	// Err, when set, is returned by every store call.
	Err error
}

func NewStore() *Store {
	return &Store{
		now:       time.Now,
		bodies:    map[int64]*entity.MessageBody{},
		logs:      map[int64]*entity.DeliveryLog{},
		recalls:   map[entity.RecallKey]*entity.RecallRecord{},
		schedules: map[int64]*entity.PeriodicSchedule{},
	}
}

// WithClock replaces the time source used for created_at columns.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) Bodies() repository.MessageBodyRepository { return bodyRepo{s} }
func (s *Store) Logs() repository.DeliveryLogRepository { return logRepo{s} }
func (s *Store) Recalls() repository.RecallRecordRepository { return recallRepo{s} }
func (s *Store) Schedules() repository.ScheduleRepository { return scheduleRepo{s} }

// AllLogs returns copies of every delivery log ordered by id.
func (s *Store) AllLogs() []entity.DeliveryLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.DeliveryLog, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BodyCount returns the number of stored message bodies.
func (s *Store) BodyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

// UpdateLog applies fn to the stored row with id.
func (s *Store) UpdateLog(id int64, fn func(*entity.DeliveryLog)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[id]; ok {
		fn(l)
	}
}

// AllRecalls returns copies of every recall record.
func (s *Store) AllRecalls() []entity.RecallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.RecallRecord, 0, len(s.recalls))
	for _, r := range s.recalls {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

/* ───────── message bodies ───────── */

type bodyRepo struct{ s *Store }

func (r bodyRepo) Get(_ context.Context, id int64) (*entity.MessageBody, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	b, ok := r.s.bodies[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r bodyRepo) FindByFingerprint(_ context.Context, fp string) (*entity.MessageBody, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	for _, b := range r.s.bodies {
		if b.Fingerprint == fp {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (r bodyRepo) Create(_ context.Context, body *entity.MessageBody) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return 0, r.s.Err
	}
	for _, b := range r.s.bodies {
		if b.Fingerprint == body.Fingerprint {
			body.ID = b.ID
			return b.ID, nil
		}
	}
	cp := *body
	cp.ID = r.s.id()
	cp.CreatedAt = r.s.now()
	cp.UpdatedAt = cp.CreatedAt
	r.s.bodies[cp.ID] = &cp
	body.ID = cp.ID
	return cp.ID, nil
}

func (r bodyRepo) BackfillDisplay(_ context.Context, id int64, source string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	if b, ok := r.s.bodies[id]; ok && b.Source == "" {
		b.Source = source
	}
	return nil
}

/* ───────── delivery logs ───────── */

type logRepo struct{ s *Store }

func (r logRepo) InsertBatch(_ context.Context, logs []*entity.DeliveryLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	for _, l := range logs {
		if _, ok := r.s.bodies[l.BodyID]; !ok {
			return fmt.Errorf("InsertBatch: body %d does not exist", l.BodyID)
		}
	}
	for _, l := range logs {
		if l.DeliveryID == "" {
			l.DeliveryID = uuid.New().String()
		}
		l.ID = r.s.id()
		l.CreatedAt = r.s.now()
		cp := *l
		r.s.logs[l.ID] = &cp
	}
	return nil
}

func (r logRepo) collect(match func(*entity.DeliveryLog) bool) []*entity.DeliveryLog {
	var out []*entity.DeliveryLog
	for _, l := range r.s.logs {
		if match(l) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r logRepo) ListByIDs(_ context.Context, ids []int64) ([]*entity.DeliveryLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	want := toSet(ids)
	return r.collect(func(l *entity.DeliveryLog) bool { _, ok := want[l.ID]; return ok }), nil
}

func (r logRepo) ListByTaskID(_ context.Context, taskID string) ([]*entity.DeliveryLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	return r.collect(func(l *entity.DeliveryLog) bool { return l.TaskID == taskID }), nil
}

func (r logRepo) GetByDeliveryID(_ context.Context, deliveryID string) (*entity.DeliveryLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	found := r.collect(func(l *entity.DeliveryLog) bool { return l.DeliveryID == deliveryID })
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (r logRepo) ExistingFingerprints(_ context.Context, fps []string, since time.Time) (map[string]struct{}, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	want := make(map[string]struct{}, len(fps))
	for _, fp := range fps {
		want[fp] = struct{}{}
	}
	out := map[string]struct{}{}
	for _, l := range r.s.logs {
		if _, ok := want[l.Fingerprint]; ok && !l.Recalled && !l.CreatedAt.Before(since) {
			out[l.Fingerprint] = struct{}{}
		}
	}
	return out, nil
}

func (r logRepo) ApplyShardOutcome(_ context.Context, ids []int64, o entity.ShardOutcome) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	for _, id := range ids {
		l, ok := r.s.logs[id]
		if !ok || l.Recalled {
			continue
		}
		success := o.Success
		sentAt := o.SentAt
		l.Success = &success
		l.ErrorText = entity.TruncateErrorText(o.ErrorText)
		l.TaskID = o.TaskID
		l.RequestID = o.RequestID
		l.SentAt = &sentAt
	}
	return nil
}

func (r logRepo) SetDirectoryCodes(_ context.Context, codes map[int64]string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	for id, code := range codes {
		if l, ok := r.s.logs[id]; ok {
			l.DirectoryCode = code
		}
	}
	return nil
}

func (r logRepo) ListRetryCandidates(_ context.Context, f repository.RetryFilter) ([]*entity.DeliveryLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	out := r.collect(func(l *entity.DeliveryLog) bool {
		if l.CreatedAt.Before(f.CreatedSince) || l.Recalled || l.RetryCount >= f.MaxRetries {
			return false
		}
		return l.Failed() || (l.Pending() && l.CreatedAt.Before(f.StaleBefore))
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BodyID != out[j].BodyID {
			return out[i].BodyID < out[j].BodyID
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r logRepo) IncrementRetry(_ context.Context, ids []int64, maxRetries int) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	var out []int64
	for _, id := range ids {
		if l, ok := r.s.logs[id]; ok && l.RetryCount < maxRetries {
			l.RetryCount++
			out = append(out, id)
		}
	}
	return out, nil
}

func (r logRepo) CountExhausted(_ context.Context, since time.Time, maxRetries int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return 0, r.s.Err
	}
	n := 0
	for _, l := range r.s.logs {
		if !l.CreatedAt.Before(since) && !l.Recalled && !l.Succeeded() && l.RetryCount >= maxRetries {
			n++
		}
	}
	return n, nil
}

func (r logRepo) MarkRecalled(_ context.Context, ids []int64, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return 0, r.s.Err
	}
	n := 0
	for _, id := range ids {
		if l, ok := r.s.logs[id]; ok && !l.Recalled {
			ts := at
			l.Recalled = true
			l.RecalledAt = &ts
			n++
		}
	}
	return n, nil
}

func (r logRepo) ApplyReceipt(_ context.Context, deliveryID string, receivedAt, readAt *time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return false, r.s.Err
	}
	for _, l := range r.s.logs {
		if l.DeliveryID != deliveryID {
			continue
		}
		if l.ReceivedAt == nil && receivedAt != nil {
			ts := *receivedAt
			l.ReceivedAt = &ts
		}
		if l.ReadAt == nil && readAt != nil {
			ts := *readAt
			l.ReadAt = &ts
		}
		return true, nil
	}
	return false, nil
}

func (r logRepo) MarkDone(_ context.Context, deliveryID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return false, r.s.Err
	}
	for _, l := range r.s.logs {
		if l.DeliveryID == deliveryID {
			l.Done = true
			return true, nil
		}
	}
	return false, nil
}

func (r logRepo) ListDoneRecipients(_ context.Context, bodyID int64) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	seen := map[string]struct{}{}
	for _, l := range r.s.logs {
		if l.BodyID == bodyID && l.Done {
			seen[l.Recipient] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for rcpt := range seen {
		out = append(out, rcpt)
	}
	sort.Strings(out)
	return out, nil
}

/* ───────── recall records ───────── */

type recallRepo struct{ s *Store }

func (r recallRepo) Get(_ context.Context, key entity.RecallKey) (*entity.RecallRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	rec, ok := r.s.recalls[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r recallRepo) Upsert(_ context.Context, rec *entity.RecallRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	key := entity.RecallKey{AppID: rec.AppID, BodyID: rec.BodyID, TaskID: rec.TaskID}
	stored, ok := r.s.recalls[key]
	if !ok {
		cp := *rec
		cp.ID = r.s.id()
		r.s.recalls[key] = &cp
		rec.ID = cp.ID
		return nil
	}
	stored.RecalledAt = rec.RecalledAt
	stored.Success = rec.Success
	stored.RawResult = rec.RawResult
	stored.AffectedCount += rec.AffectedCount
	rec.ID = stored.ID
	rec.AffectedCount = stored.AffectedCount
	return nil
}

/* ───────── periodic schedules ───────── */

type scheduleRepo struct{ s *Store }

func copySchedule(p *entity.PeriodicSchedule) *entity.PeriodicSchedule {
	cp := *p
	cp.Recipients = append([]string{}, p.Recipients...)
	cp.OrgUnits = append([]string{}, p.OrgUnits...)
	return &cp
}

func (r scheduleRepo) Get(_ context.Context, id int64) (*entity.PeriodicSchedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	p, ok := r.s.schedules[id]
	if !ok {
		return nil, nil
	}
	return copySchedule(p), nil
}

func (r scheduleRepo) Create(_ context.Context, p *entity.PeriodicSchedule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	p.ID = r.s.id()
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	r.s.schedules[p.ID] = copySchedule(p)
	return nil
}

func (r scheduleRepo) Update(_ context.Context, p *entity.PeriodicSchedule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	stored, ok := r.s.schedules[p.ID]
	if !ok {
		return &entity.NotFoundError{Resource: "schedule", Key: fmt.Sprint(p.ID)}
	}
	p.RunCount = stored.RunCount
	p.UpdatedAt = r.s.now()
	r.s.schedules[p.ID] = copySchedule(p)
	return nil
}

func (r scheduleRepo) ListByState(_ context.Context, state entity.ScheduleState) ([]*entity.PeriodicSchedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	var out []*entity.PeriodicSchedule
	for _, p := range r.s.schedules {
		if p.State == state {
			out = append(out, copySchedule(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r scheduleRepo) ListExpired(_ context.Context, now time.Time) ([]*entity.PeriodicSchedule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return nil, r.s.Err
	}
	var out []*entity.PeriodicSchedule
	for _, p := range r.s.schedules {
		if p.State == entity.ScheduleEnabled && p.Deadline != nil && p.Deadline.Before(now) {
			out = append(out, copySchedule(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r scheduleRepo) IncrementRunCount(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.Err != nil {
		return r.s.Err
	}
	if p, ok := r.s.schedules[id]; ok {
		p.RunCount++
	}
	return nil
}

func toSet(ids []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
