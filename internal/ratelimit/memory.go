package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepInterval is how many increments pass between expiry sweeps.
const sweepInterval = 1024

type window struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Counters are not shared between
// instances, so it suits single-node deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*window
	now     func() time.Time
	ops     int
}

// NewMemoryStore creates an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a MemoryStore reading time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{entries: make(map[string]*window), now: now}
}

// IncrementAndGet implements Store.
func (m *MemoryStore) IncrementAndGet(_ context.Context, key string, d time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.ops++
	if m.ops%sweepInterval == 0 {
		m.sweep(now)
	}

	w, ok := m.entries[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(d)}
		m.entries[key] = w
	}
	w.count++
	return w.count, nil
}

// TTL implements Store. It returns 0 for unknown or expired keys.
func (m *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.entries[key]
	if !ok {
		return 0, nil
	}
	ttl := w.expiresAt.Sub(m.now())
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// Len returns the number of tracked keys, expired ones included until the
// next sweep.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) sweep(now time.Time) {
	for k, w := range m.entries {
		if !now.Before(w.expiresAt) {
			delete(m.entries, k)
		}
	}
}
