package repository

import (
	"context"
	"time"
)

// DedupCacheStore is a namespaced key/value store with per-key expiry.
//
// SetMany applies one TTL to every entry in a single batch operation.
// Implementations must not return entries whose TTL has elapsed.
type DedupCacheStore interface {
	GetMany(ctx context.Context, namespace string, keys []string) (map[string]string, error)
	SetMany(ctx context.Context, namespace string, entries map[string]string, ttl time.Duration) error
	DeleteMany(ctx context.Context, namespace string, keys []string) error
}
