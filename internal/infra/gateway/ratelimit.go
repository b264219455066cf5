package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket in front of one gateway application.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Allow blocks until a token is available or ctx is done.
func (r *RateLimiter) Allow(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// limiterSet lazily creates one limiter per app.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

func newLimiterSet() *limiterSet {
	return &limiterSet{limiters: make(map[string]*RateLimiter)}
}

func (s *limiterSet) wait(ctx context.Context, appID string, rps float64, burst int) (time.Duration, error) {
	s.mu.Lock()
	l, ok := s.limiters[appID]
	if !ok {
		l = NewRateLimiter(rps, burst)
		s.limiters[appID] = l
	}
	s.mu.Unlock()

	start := time.Now()
	err := l.Allow(ctx)
	return time.Since(start), err
}
