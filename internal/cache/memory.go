package cache

import (
	"context"
	"sync"
	"time"

	"github.com/nao1215/phishguard/internal/model"
)

type memoryEntry struct {
	value      *model.FullAnalysis
	insertedAt time.Time
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty in-memory cache. A non-positive ttl uses
// DefaultTTL.
func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (*model.FullAnalysis, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || !fresh(e.insertedAt, m.now(), m.ttl) {
		return nil, false, nil
	}
	return e.value.Clone(), true, nil
}

// Put implements Cache.
func (m *Memory) Put(_ context.Context, key string, v *model.FullAnalysis) error {
	e := memoryEntry{value: v.Clone(), insertedAt: m.now()}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Stats implements Cache.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Total: len(m.entries)}
	for _, e := range m.entries {
		if fresh(e.insertedAt, now, m.ttl) {
			s.Active++
		}
	}
	return s, nil
}

// Clear implements Cache.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// TTL implements Cache.
func (m *Memory) TTL() time.Duration {
	return m.ttl
}
