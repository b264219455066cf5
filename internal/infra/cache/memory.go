// Package cache provides DedupCacheStore backends.
package cache

import (
	"context"
	"sync"
	"time"

	"notify-pipeline/internal/repository"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is a process-local DedupCacheStore. Each batch call holds the lock
// once, so SetMany applies its TTL to every key atomically.
type Memory struct {
	mu    sync.RWMutex
	items map[string]map[string]entry
	now   func() time.Time
}

var _ repository.DedupCacheStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{items: make(map[string]map[string]entry), now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) GetMany(_ context.Context, namespace string, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()
	ns := m.items[namespace]
	for _, k := range keys {
		if e, ok := ns[k]; ok && now.Before(e.expiresAt) {
			out[k] = e.value
		}
	}
	return out, nil
}

func (m *Memory) SetMany(_ context.Context, namespace string, entries map[string]string, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	expiresAt := m.now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.items[namespace]
	if !ok {
		ns = make(map[string]entry, len(entries))
		m.items[namespace] = ns
	}
	for k, v := range entries {
		ns[k] = entry{value: v, expiresAt: expiresAt}
	}
	return nil
}

func (m *Memory) DeleteMany(_ context.Context, namespace string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.items[namespace]
	for _, k := range keys {
		delete(ns, k)
	}
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep(_ context.Context) (int, error) {
	now := m.now()
	removed := 0

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ns := range m.items {
		for k, e := range ns {
			if !now.Before(e.expiresAt) {
				delete(ns, k)
				removed++
			}
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ns := range m.items {
		n += len(ns)
	}
	return n
}
