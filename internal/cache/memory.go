package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryAdapter struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryAdapter returns an in-process cache. It is the default when no
// Redis address is configured, and what the tests use.
func NewMemoryAdapter() Adapter {
	return &memoryAdapter{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (a *memoryAdapter) Get(_ context.Context, key string) (string, bool, error) {
	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && a.now().After(e.expiresAt) {
		a.mu.Lock()
		delete(a.entries, key)
		a.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

func (a *memoryAdapter) Set(_ context.Context, key, value string, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = a.now().Add(ttl)
	}
	a.mu.Lock()
	a.entries[key] = memoryEntry{value: value, expiresAt: exp}
	a.mu.Unlock()
	return nil
}

func (a *memoryAdapter) Del(_ context.Context, keys ...string) error {
	a.mu.Lock()
	for _, k := range keys {
		delete(a.entries, k)
	}
	a.mu.Unlock()
	return nil
}
