package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process cache backed by go-cache.
type Memory struct {
	c *gocache.Cache

	// mu orders Put against InvalidateAll so a put for an old generation
	// can never land after the flush.
	mu  sync.RWMutex
	gen int64
}

// NewMemory creates an in-process cache. defaultTTL applies to Put calls
// with a zero ttl.
func NewMemory(defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &Memory{c: gocache.New(defaultTTL, 2*defaultTTL)}
}

// Get returns the value stored under key if it has not expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Generation returns the number of invalidations so far.
func (m *Memory) Generation(context.Context) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// Put stores value under key for ttl unless the cache was invalidated
// after generation gen was read.
func (m *Memory) Put(_ context.Context, gen int64, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if gen != m.gen {
		return
	}
	m.c.Set(key, value, ttl)
}

// InvalidateAll removes every entry.
func (m *Memory) InvalidateAll(context.Context) {
	m.mu.Lock()
	m.gen++
	m.c.Flush()
	m.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (m *Memory) Len() int {
	return m.c.ItemCount()
}
