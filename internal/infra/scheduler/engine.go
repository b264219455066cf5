// Package scheduler is the cron engine that fires periodic schedules and the
// pipeline's background sweeps.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrNotStarted = errors.New("scheduler not started")

// parser accepts five-field expressions and descriptors such as @daily or @every 5m.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a scheduled function. ctx is cancelled when the engine stops.
type Job func(ctx context.Context)

// Engine wraps robfig/cron with keyed registration and in-flight tracking.
// A key identifies one schedule; registering it again replaces its entry.
type Engine struct {
	mu       sync.Mutex
	cron     *cron.Cron
	loc      *time.Location
	entries  map[string]cron.EntryID
	inFlight map[string]int
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
}

func New(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		loc:      loc,
		entries:  make(map[string]cron.EntryID),
		inFlight: make(map[string]int),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Location is the timezone the engine evaluates expressions in.
func (e *Engine) Location() *time.Location { return e.loc }

func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	e.cron.Start()
	slog.Info("Scheduler started",
		slog.String("timezone", e.loc.String()),
		slog.Int("entries", len(e.entries)))
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.mu.Unlock()

	done := e.cron.Stop().Done()
	select {
	case <-done:
		e.cancel()
		slog.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		e.cancel()
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Register adds job under key and returns the engine entry id. An existing
// entry for key is removed first.
func (e *Engine) Register(key, expr string, job Job) (int, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.entries[key]; ok {
		e.cron.Remove(old)
	}
	id := e.cron.Schedule(schedule, cron.FuncJob(func() { e.run(key, job) }))
	e.entries[key] = id
	return int(id), nil
}

// Remove unregisters key. Runs already in progress are not interrupted.
func (e *Engine) Remove(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.entries[key]; ok {
		e.cron.Remove(id)
		delete(e.entries, key)
	}
}

// Registered reports whether key has an entry.
func (e *Engine) Registered(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[key]
	return ok
}

// InFlight reports whether a run of key is executing now.
func (e *Engine) InFlight(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight[key] > 0
}

// Next returns the next fire time of key, or the zero time when key has no entry.
func (e *Engine) Next(key string) time.Time {
	e.mu.Lock()
	id, ok := e.entries[key]
	e.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return e.cron.Entry(id).Next
}

func (e *Engine) run(key string, job Job) {
	e.mu.Lock()
	e.inFlight[key]++
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inFlight[key]--
		if e.inFlight[key] <= 0 {
			delete(e.inFlight, key)
		}
		e.mu.Unlock()
	}()
	job(e.ctx)
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRunTimes returns the first n fire times of expr strictly after from,
// evaluated in loc.
func NextRunTimes(expr string, n int, from time.Time, loc *time.Location) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	if loc != nil {
		from = from.In(loc)
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = schedule.Next(t)
		if t.IsZero() {
			return nil, fmt.Errorf("cron expression %q has fewer than %d run times", expr, n)
		}
		out = append(out, t)
	}
	return out, nil
}

// NthRunTime returns the nth fire time of expr after from.
func NthRunTime(expr string, n int, from time.Time, loc *time.Location) (time.Time, error) {
	times, err := NextRunTimes(expr, n, from, loc)
	if err != nil {
		return time.Time{}, err
	}
	if len(times) == 0 {
		return time.Time{}, fmt.Errorf("run count must be positive, got %d", n)
	}
	return times[len(times)-1], nil
}

// cronLogger routes robfig/cron's logger to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
