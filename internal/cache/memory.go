package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	value   string
	expires time.Time
}

// Memory is an in-process Cache for single-node deployments without Redis.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	nowFunc func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry), nowFunc: time.Now}
}

func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && !m.nowFunc().Before(e.expires) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.nowFunc().Add(ttl)
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	return e.value, ok, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{value: value, expires: m.expiry(ttl)}
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// AcquireLease implements Cache.
func (m *Memory) AcquireLease(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk := LeaseKey(key)
	if _, held := m.live(lk); held {
		return "", false, nil
	}
	token := uuid.NewString()
	m.entries[lk] = memEntry{value: token, expires: m.expiry(ttl)}
	return token, true, nil
}

// ReleaseLease implements Cache.
func (m *Memory) ReleaseLease(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk := LeaseKey(key)
	if e, ok := m.live(lk); ok && e.value == token {
		delete(m.entries, lk)
	}
	return nil
}
