package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/repository"
)

type DeliveryLogRepo struct{ db *sql.DB }

func NewDeliveryLogRepo(db *sql.DB) repository.DeliveryLogRepository {
	return &DeliveryLogRepo{db: db}
}

const deliveryLogColumns = `id, body_id, recipient, directory_code, fingerprint, created_at,
       sent_at, received_at, read_at, success, error_text, task_id, request_id,
       delivery_id, recalled, recalled_at, done, retry_count`

// insertColumnsPerRow is the number of bind parameters InsertBatch uses per log.
const insertColumnsPerRow = 6

func scanDeliveryLog(row interface{ Scan(...any) error }) (*entity.DeliveryLog, error) {
	var l entity.DeliveryLog
	if err := row.Scan(
		&l.ID, &l.BodyID, &l.Recipient, &l.DirectoryCode, &l.Fingerprint, &l.CreatedAt,
		&l.SentAt, &l.ReceivedAt, &l.ReadAt, &l.Success, &l.ErrorText, &l.TaskID, &l.RequestID,
		&l.DeliveryID, &l.Recalled, &l.RecalledAt, &l.Done, &l.RetryCount,
	); err != nil {
		return nil, err
	}
	return &l, nil
}

func (repo *DeliveryLogRepo) queryLogs(ctx context.Context, op, query string, args ...any) ([]*entity.DeliveryLog, error) {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	logs := make([]*entity.DeliveryLog, 0, 64)
	for rows.Next() {
		l, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: Scan: %w", op, err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// InsertBatch writes all logs with one multi-row INSERT. Rows without a
// DeliveryID get a fresh UUID; IDs and CreatedAt are written back by delivery_id.
func (repo *DeliveryLogRepo) InsertBatch(ctx context.Context, logs []*entity.DeliveryLog) error {
	if len(logs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO delivery_logs (body_id, recipient, directory_code, fingerprint, delivery_id, request_id) VALUES `)
	args := make([]any, 0, len(logs)*insertColumnsPerRow)
	byDeliveryID := make(map[string]*entity.DeliveryLog, len(logs))
	for i, l := range logs {
		if l.DeliveryID == "" {
			l.DeliveryID = uuid.New().String()
		}
		byDeliveryID[l.DeliveryID] = l
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * insertColumnsPerRow
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, l.BodyID, l.Recipient, l.DirectoryCode, l.Fingerprint, l.DeliveryID, l.RequestID)
	}
	sb.WriteString(` RETURNING id, delivery_id, created_at`)

	rows, err := repo.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("InsertBatch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	returned := 0
	for rows.Next() {
		var id int64
		var deliveryID string
		var createdAt time.Time
		if err := rows.Scan(&id, &deliveryID, &createdAt); err != nil {
			return fmt.Errorf("InsertBatch: Scan: %w", err)
		}
		if l, ok := byDeliveryID[deliveryID]; ok {
			l.ID = id
			l.CreatedAt = createdAt
			returned++
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("InsertBatch: %w", err)
	}
	if returned != len(logs) {
		return fmt.Errorf("InsertBatch: inserted %d of %d rows", returned, len(logs))
	}
	return nil
}

func (repo *DeliveryLogRepo) ListByIDs(ctx context.Context, ids []int64) ([]*entity.DeliveryLog, error) {
	if len(ids) == 0 {
		return []*entity.DeliveryLog{}, nil
	}
	const query = `SELECT ` + deliveryLogColumns + `
FROM delivery_logs
WHERE id = ANY($1)
ORDER BY id`
	return repo.queryLogs(ctx, "ListByIDs", query, pq.Array(ids))
}

func (repo *DeliveryLogRepo) ListByTaskID(ctx context.Context, taskID string) ([]*entity.DeliveryLog, error) {
	const query = `SELECT ` + deliveryLogColumns + `
FROM delivery_logs
WHERE task_id = $1
ORDER BY id`
	return repo.queryLogs(ctx, "ListByTaskID", query, taskID)
}

func (repo *DeliveryLogRepo) GetByDeliveryID(ctx context.Context, deliveryID string) (*entity.DeliveryLog, error) {
	const query = `SELECT ` + deliveryLogColumns + `
FROM delivery_logs
WHERE delivery_id = $1`
	l, err := scanDeliveryLog(repo.db.QueryRowContext(ctx, query, deliveryID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetByDeliveryID: %w", err)
	}
	return l, nil
}

func (repo *DeliveryLogRepo) ExistingFingerprints(ctx context.Context, fingerprints []string, since time.Time) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(fingerprints) == 0 {
		return found, nil
	}
	const query = `
SELECT DISTINCT fingerprint
FROM delivery_logs
WHERE fingerprint = ANY($1) AND recalled = FALSE AND created_at >= $2`
	rows, err := repo.db.QueryContext(ctx, query, pq.Array(fingerprints), since)
	if err != nil {
		return nil, fmt.Errorf("ExistingFingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("ExistingFingerprints: Scan: %w", err)
		}
		found[strings.TrimSpace(fp)] = struct{}{}
	}
	return found, rows.Err()
}

// ApplyShardOutcome writes one gateway result to every row of the shard.
// Recalled rows are left untouched.
func (repo *DeliveryLogRepo) ApplyShardOutcome(ctx context.Context, ids []int64, outcome entity.ShardOutcome) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `
UPDATE delivery_logs
SET success = $2, error_text = $3, task_id = $4, request_id = $5, sent_at = $6
WHERE id = ANY($1) AND recalled = FALSE`
	_, err := repo.db.ExecContext(ctx, query,
		pq.Array(ids), outcome.Success, entity.TruncateErrorText(outcome.ErrorText),
		outcome.TaskID, outcome.RequestID, outcome.SentAt)
	if err != nil {
		return fmt.Errorf("ApplyShardOutcome: %w", err)
	}
	return nil
}

func (repo *DeliveryLogRepo) SetDirectoryCodes(ctx context.Context, codes map[int64]string) error {
	if len(codes) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(codes))
	for id := range codes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = codes[id]
	}

	const query = `
UPDATE delivery_logs AS d
SET directory_code = c.code
FROM unnest($1::bigint[], $2::text[]) AS c(id, code)
WHERE d.id = c.id`
	if _, err := repo.db.ExecContext(ctx, query, pq.Array(ids), pq.Array(values)); err != nil {
		return fmt.Errorf("SetDirectoryCodes: %w", err)
	}
	return nil
}

// ListRetryCandidates returns failed rows, and pending rows older than
// StaleBefore, that were created since CreatedSince and still have retries left.
func (repo *DeliveryLogRepo) ListRetryCandidates(ctx context.Context, filter repository.RetryFilter) ([]*entity.DeliveryLog, error) {
	const query = `SELECT ` + deliveryLogColumns + `
FROM delivery_logs
WHERE created_at >= $1
  AND recalled = FALSE
  AND retry_count < $3
  AND (success = FALSE OR (success IS NULL AND created_at < $2))
ORDER BY body_id, id
LIMIT $4`
	return repo.queryLogs(ctx, "ListRetryCandidates", query,
		filter.CreatedSince, filter.StaleBefore, filter.MaxRetries, filter.Limit)
}

func (repo *DeliveryLogRepo) IncrementRetry(ctx context.Context, ids []int64, maxRetries int) ([]int64, error) {
	if len(ids) == 0 {
		return []int64{}, nil
	}
	const query = `
UPDATE delivery_logs
SET retry_count = retry_count + 1
WHERE id = ANY($1) AND retry_count < $2
RETURNING id`
	rows, err := repo.db.QueryContext(ctx, query, pq.Array(ids), maxRetries)
	if err != nil {
		return nil, fmt.Errorf("IncrementRetry: %w", err)
	}
	defer func() { _ = rows.Close() }()

	claimed := make([]int64, 0, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("IncrementRetry: Scan: %w", err)
		}
		claimed = append(claimed, id)
	}
	return claimed, rows.Err()
}

func (repo *DeliveryLogRepo) CountExhausted(ctx context.Context, since time.Time, maxRetries int) (int, error) {
	const query = `
SELECT COUNT(*)
FROM delivery_logs
WHERE created_at >= $1 AND recalled = FALSE AND success IS NOT TRUE AND retry_count >= $2`
	var n int
	if err := repo.db.QueryRowContext(ctx, query, since, maxRetries).Scan(&n); err != nil {
		return 0, fmt.Errorf("CountExhausted: %w", err)
	}
	return n, nil
}

func (repo *DeliveryLogRepo) MarkRecalled(ctx context.Context, ids []int64, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const query = `
UPDATE delivery_logs
SET recalled = TRUE, recalled_at = $2
WHERE id = ANY($1) AND recalled = FALSE`
	res, err := repo.db.ExecContext(ctx, query, pq.Array(ids), at)
	if err != nil {
		return 0, fmt.Errorf("MarkRecalled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("MarkRecalled: RowsAffected: %w", err)
	}
	return int(n), nil
}

// ApplyReceipt records receive and read times. Timestamps already set are kept.
func (repo *DeliveryLogRepo) ApplyReceipt(ctx context.Context, deliveryID string, receivedAt, readAt *time.Time) (bool, error) {
	const query = `
UPDATE delivery_logs
SET received_at = COALESCE(received_at, $2::timestamptz),
    read_at     = COALESCE(read_at, $3::timestamptz)
WHERE delivery_id = $1`
	res, err := repo.db.ExecContext(ctx, query, deliveryID, receivedAt, readAt)
	if err != nil {
		return false, fmt.Errorf("ApplyReceipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ApplyReceipt: RowsAffected: %w", err)
	}
	return n > 0, nil
}

func (repo *DeliveryLogRepo) MarkDone(ctx context.Context, deliveryID string) (bool, error) {
	const query = `UPDATE delivery_logs SET done = TRUE WHERE delivery_id = $1`
	res, err := repo.db.ExecContext(ctx, query, deliveryID)
	if err != nil {
		return false, fmt.Errorf("MarkDone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("MarkDone: RowsAffected: %w", err)
	}
	return n > 0, nil
}

func (repo *DeliveryLogRepo) ListDoneRecipients(ctx context.Context, bodyID int64) ([]string, error) {
	const query = `
SELECT DISTINCT recipient
FROM delivery_logs
WHERE body_id = $1 AND done = TRUE
ORDER BY recipient`
	rows, err := repo.db.QueryContext(ctx, query, bodyID)
	if err != nil {
		return nil, fmt.Errorf("ListDoneRecipients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	recipients := make([]string, 0, 16)
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("ListDoneRecipients: Scan: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}
