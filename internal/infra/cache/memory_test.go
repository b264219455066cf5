package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-pipeline/internal/infra/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_SetManyAppliesOneTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	m := cache.NewMemory().WithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, m.SetMany(ctx, "delivery", map[string]string{"a": "1", "b": "2"}, time.Hour))

	got, err := m.GetMany(ctx, "delivery", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)

	clock.Advance(time.Hour)
	got, err = m.GetMany(ctx, "delivery", []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, got, "entries must expire together")
}

func TestMemory_NamespacesAreIsolated(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetMany(ctx, "body", map[string]string{"k": "body"}, time.Hour))
	require.NoError(t, m.SetMany(ctx, "delivery", map[string]string{"k": "delivery"}, time.Hour))

	got, _ := m.GetMany(ctx, "body", []string{"k"})
	assert.Equal(t, "body", got["k"])

	require.NoError(t, m.DeleteMany(ctx, "delivery", []string{"k"}))
	got, _ = m.GetMany(ctx, "body", []string{"k"})
	assert.Equal(t, "body", got["k"])
	got, _ = m.GetMany(ctx, "delivery", []string{"k"})
	assert.Empty(t, got)
}

func TestMemory_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	m := cache.NewMemory().WithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, m.SetMany(ctx, "body", map[string]string{"short": "1"}, time.Minute))
	require.NoError(t, m.SetMany(ctx, "body", map[string]string{"long": "2"}, time.Hour))
	clock.Advance(2 * time.Minute)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Len())
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	m := cache.NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.SetMany(ctx, "delivery", map[string]string{string(rune('a' + i)): "x"}, time.Hour)
			_, _ = m.GetMany(ctx, "delivery", []string{"a", "b"})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, m.Len())
}
