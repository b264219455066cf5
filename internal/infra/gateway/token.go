package gateway

import (
	"sync"
	"time"
)

// tokenRefreshMargin renews a token this long before the gateway expires it.
const tokenRefreshMargin = 5 * time.Minute

type accessToken struct {
	value     string
	expiresAt time.Time
}

// tokenCache holds one access token per app.
type tokenCache struct {
	mu     sync.Mutex
	tokens map[string]accessToken
	now    func() time.Time
}

func newTokenCache() *tokenCache {
	return &tokenCache{tokens: make(map[string]accessToken), now: time.Now}
}

func (c *tokenCache) get(appID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[appID]
	if !ok || !c.now().Before(t.expiresAt.Add(-tokenRefreshMargin)) {
		return "", false
	}
	return t.value, true
}

func (c *tokenCache) put(appID, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[appID] = accessToken{value: value, expiresAt: c.now().Add(ttl)}
}

func (c *tokenCache) invalidate(appID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, appID)
}
