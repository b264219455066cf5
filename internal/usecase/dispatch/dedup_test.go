package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-pipeline/internal/infra/cache"
	"notify-pipeline/internal/infra/gateway"
	"notify-pipeline/internal/usecase/dispatch"
	"notify-pipeline/tests/fixtures"
)

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) GetMany(context.Context, string, []string) (map[string]string, error) {
	return nil, errors.New("cache down")
}
func (brokenStore) SetMany(context.Context, string, map[string]string, time.Duration) error {
	return errors.New("cache down")
}
func (brokenStore) DeleteMany(context.Context, string, []string) error {
	return errors.New("cache down")
}

// slowGateway blocks until the send context is done.
type slowGateway struct{}

func (slowGateway) Send(ctx context.Context, _ string, _ []string, _ gateway.Message) (*gateway.SendResult, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("gateway send: %w", ctx.Err())
}

func TestDedupCache_FailsOpen(t *testing.T) {
	c := dispatch.NewDedupCache(brokenStore{}, time.Hour, time.Hour)
	ctx := context.Background()

	_, ok := c.BodyID(ctx, "fp")
	assert.False(t, ok)
	assert.Empty(t, c.Deliveries(ctx, []string{"a", "b"}))
	c.SetBody(ctx, "fp", 1)
	c.SetDeliveries(ctx, map[string]string{"a": "d1"})
	c.DeleteDeliveries(ctx, []string{"a"})
}

func TestDedupCache_RoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	mem := cache.NewMemory().WithClock(func() time.Time { return now })
	c := dispatch.NewDedupCache(mem, 2*time.Hour, time.Hour)
	ctx := context.Background()

	c.SetBody(ctx, "body-fp", 42)
	id, ok := c.BodyID(ctx, "body-fp")
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	c.SetDeliveries(ctx, map[string]string{"d1": "x", "d2": "y"})
	assert.Equal(t, map[string]string{"d1": "x", "d2": "y"}, c.Deliveries(ctx, []string{"d1", "d2", "d3"}))

	now = now.Add(90 * time.Minute)
	assert.Empty(t, c.Deliveries(ctx, []string{"d1", "d2"}), "delivery keys use the shorter TTL")
	_, ok = c.BodyID(ctx, "body-fp")
	assert.True(t, ok)

	c.SetDeliveries(ctx, map[string]string{"d1": "x"})
	c.DeleteDeliveries(ctx, []string{"d1"})
	assert.Empty(t, c.Deliveries(ctx, []string{"d1"}))
}

func TestDispatch_BrokenCacheStillSuppresses(t *testing.T) {
	h := newHarness(t, dispatch.DefaultConfig())
	svc := dispatch.NewService(h.store.Bodies(), h.store.Logs(),
		dispatch.NewDedupCache(brokenStore{}, time.Hour, time.Hour),
		h.queue, h.resolver, fixtures.DefaultApps(), dispatch.DefaultConfig())
	ctx := context.Background()

	in := dispatch.DispatchInput{Body: fixtures.TextBody("hi"), Recipients: explicit("a")}
	_, err := svc.Dispatch(ctx, in)
	require.NoError(t, err)
	res, err := svc.Dispatch(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Suppressed)
	assert.Len(t, h.store.AllLogs(), 1)
	assert.Equal(t, 1, h.store.BodyCount())
}
