package dispatch

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"notify-pipeline/internal/repository"
)

const (
	NamespaceBody     = "body"
	NamespaceDelivery = "delivery"
)

// DedupCache is the fingerprint cache in front of the body and delivery
// stores. Backend errors are logged and treated as misses: the stores stay
// authoritative, so a degraded cache only costs extra queries.
type DedupCache struct {
	store       repository.DedupCacheStore
	bodyTTL     time.Duration
	deliveryTTL time.Duration
}

// NewDedupCache returns a cache over store. A nil store disables caching.
func NewDedupCache(store repository.DedupCacheStore, bodyTTL, deliveryTTL time.Duration) *DedupCache {
	return &DedupCache{store: store, bodyTTL: bodyTTL, deliveryTTL: deliveryTTL}
}

func (c *DedupCache) BodyID(ctx context.Context, fingerprint string) (int64, bool) {
	if c.store == nil {
		return 0, false
	}
	got, err := c.store.GetMany(ctx, NamespaceBody, []string{fingerprint})
	if err != nil {
		c.fail(NamespaceBody, "get", err)
		return 0, false
	}
	raw, ok := got[fingerprint]
	if !ok {
		dedupLookupsTotal.WithLabelValues(NamespaceBody, "miss").Inc()
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.fail(NamespaceBody, "decode", err)
		return 0, false
	}
	dedupLookupsTotal.WithLabelValues(NamespaceBody, "hit").Inc()
	return id, true
}

func (c *DedupCache) SetBody(ctx context.Context, fingerprint string, id int64) {
	if c.store == nil {
		return
	}
	entries := map[string]string{fingerprint: strconv.FormatInt(id, 10)}
	if err := c.store.SetMany(ctx, NamespaceBody, entries, c.bodyTTL); err != nil {
		c.fail(NamespaceBody, "set", err)
	}
}

// Deliveries returns the cached subset of fingerprints, mapped to delivery ids.
func (c *DedupCache) Deliveries(ctx context.Context, fingerprints []string) map[string]string {
	if c.store == nil || len(fingerprints) == 0 {
		return map[string]string{}
	}
	got, err := c.store.GetMany(ctx, NamespaceDelivery, fingerprints)
	if err != nil {
		c.fail(NamespaceDelivery, "get", err)
		return map[string]string{}
	}
	dedupLookupsTotal.WithLabelValues(NamespaceDelivery, "hit").Add(float64(len(got)))
	dedupLookupsTotal.WithLabelValues(NamespaceDelivery, "miss").Add(float64(len(fingerprints) - len(got)))
	return got
}

// SetDeliveries stores every entry with the delivery TTL in one batch.
func (c *DedupCache) SetDeliveries(ctx context.Context, entries map[string]string) {
	if c.store == nil || len(entries) == 0 {
		return
	}
	if err := c.store.SetMany(ctx, NamespaceDelivery, entries, c.deliveryTTL); err != nil {
		c.fail(NamespaceDelivery, "set", err)
	}
}

func (c *DedupCache) DeleteDeliveries(ctx context.Context, fingerprints []string) {
	if c.store == nil || len(fingerprints) == 0 {
		return
	}
	if err := c.store.DeleteMany(ctx, NamespaceDelivery, fingerprints); err != nil {
		c.fail(NamespaceDelivery, "delete", err)
	}
}

func (c *DedupCache) fail(namespace, op string, err error) {
	dedupErrorsTotal.WithLabelValues(namespace, op).Inc()
	slog.Warn("Dedup cache unavailable, falling back to store",
		slog.String("namespace", namespace),
		slog.String("op", op),
		slog.Any("error", err))
}
