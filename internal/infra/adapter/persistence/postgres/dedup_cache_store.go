package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"notify-pipeline/internal/repository"
)

// Querier is satisfied by *sql.DB and by circuitbreaker.DBCircuitBreaker.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DedupCacheStore keeps dedup entries in the UNLOGGED dedup_cache table.
// Expired rows are invisible to GetMany and are removed by Sweep.
type DedupCacheStore struct{ db Querier }

func NewDedupCacheStore(db Querier) *DedupCacheStore {
	return &DedupCacheStore{db: db}
}

var _ repository.DedupCacheStore = (*DedupCacheStore)(nil)

func (s *DedupCacheStore) GetMany(ctx context.Context, namespace string, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	const query = `
SELECT key, value
FROM dedup_cache
WHERE namespace = $1 AND key = ANY($2) AND expires_at > now()`
	rows, err := s.db.QueryContext(ctx, query, namespace, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("GetMany: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("GetMany: Scan: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetMany writes every entry with the same expiry in one statement.
func (s *DedupCacheStore) SetMany(ctx context.Context, namespace string, entries map[string]string, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = entries[k]
	}

	const query = `
INSERT INTO dedup_cache (namespace, key, value, expires_at)
SELECT $1, k, v, now() + make_interval(secs => $4)
FROM unnest($2::text[], $3::text[]) AS e(k, v)
ON CONFLICT (namespace, key) DO UPDATE SET
       value      = EXCLUDED.value,
       expires_at = EXCLUDED.expires_at`
	if _, err := s.db.ExecContext(ctx, query, namespace, pq.Array(keys), pq.Array(values), ttl.Seconds()); err != nil {
		return fmt.Errorf("SetMany: %w", err)
	}
	return nil
}

func (s *DedupCacheStore) DeleteMany(ctx context.Context, namespace string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	const query = `DELETE FROM dedup_cache WHERE namespace = $1 AND key = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, namespace, pq.Array(keys)); err != nil {
		return fmt.Errorf("DeleteMany: %w", err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (s *DedupCacheStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("Sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Sweep: RowsAffected: %w", err)
	}
	return int(n), nil
}
