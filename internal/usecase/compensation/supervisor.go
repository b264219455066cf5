// Package compensation re-drives failed and stale delivery log rows a bounded
// number of times.
package compensation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"notify-pipeline/internal/repository"
)

type Config struct {
	MaxRetries int
	// StaleAfter is how long a row may stay pending before it is retried.
	StaleAfter time.Duration
	BatchLimit int
	Location   *time.Location
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		StaleAfter: 30 * time.Minute,
		BatchLimit: 1000,
		Location:   time.Local,
	}
}

// Redispatcher re-enqueues existing rows. *dispatch.Service implements it.
type Redispatcher interface {
	Redispatch(ctx context.Context, logIDs []int64) (int, error)
}

// SweepStats reports one sweep.
type SweepStats struct {
	Candidates int
	Retried    int
	Shards     int
	Exhausted  int
}

type Supervisor struct {
	logs       repository.DeliveryLogRepository
	dispatcher Redispatcher
	cfg        Config
	now        func() time.Time
}

func NewSupervisor(logs repository.DeliveryLogRepository, dispatcher Redispatcher, cfg Config) *Supervisor {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = def.BatchLimit
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	return &Supervisor{logs: logs, dispatcher: dispatcher, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Supervisor) WithClock(now func() time.Time) *Supervisor {
	s.now = now
	return s
}

// Sweep selects today's failed rows and stale pending rows below the retry
// limit, claims them by bumping retry_count, and re-drives the claimed rows.
// The claim runs before the re-drive, so a crash in between can only skip a
// retry, never exceed the limit.
func (s *Supervisor) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.now().In(s.cfg.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.cfg.Location)

	candidates, err := s.logs.ListRetryCandidates(ctx, repository.RetryFilter{
		CreatedSince: today,
		StaleBefore:  now.Add(-s.cfg.StaleAfter),
		MaxRetries:   s.cfg.MaxRetries,
		Limit:        s.cfg.BatchLimit,
	})
	if err != nil {
		sweepTotal.WithLabelValues("error").Inc()
		return stats, fmt.Errorf("list retry candidates: %w", err)
	}
	stats.Candidates = len(candidates)

	if len(candidates) > 0 {
		ids := make([]int64, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		claimed, err := s.logs.IncrementRetry(ctx, ids, s.cfg.MaxRetries)
		if err != nil {
			sweepTotal.WithLabelValues("error").Inc()
			return stats, fmt.Errorf("claim retry candidates: %w", err)
		}
		stats.Retried = len(claimed)
		retriedTotal.Add(float64(len(claimed)))

		if len(claimed) > 0 {
			stats.Shards, err = s.dispatcher.Redispatch(ctx, claimed)
			if err != nil {
				sweepTotal.WithLabelValues("error").Inc()
				return stats, fmt.Errorf("redispatch: %w", err)
			}
		}
	}

	stats.Exhausted, err = s.logs.CountExhausted(ctx, today, s.cfg.MaxRetries)
	if err != nil {
		sweepTotal.WithLabelValues("error").Inc()
		return stats, fmt.Errorf("count exhausted rows: %w", err)
	}
	exhaustedRows.Set(float64(stats.Exhausted))
	if stats.Exhausted > 0 {
		slog.Warn("Delivery rows exhausted their retries",
			slog.Int("exhausted", stats.Exhausted),
			slog.Int("max_retries", s.cfg.MaxRetries))
	}

	sweepTotal.WithLabelValues("success").Inc()
	slog.Info("Compensation sweep completed",
		slog.Int("candidates", stats.Candidates),
		slog.Int("retried", stats.Retried),
		slog.Int("shards", stats.Shards),
		slog.Int("exhausted", stats.Exhausted))
	return stats, nil
}
