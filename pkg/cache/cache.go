// Package cache defines the caching interface shared by the HTTP request
// layer and the location resolver, plus an in-memory TTL/LRU implementation.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// Memory is a thread-safe in-memory cache with TTL expiry and LRU eviction.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

type memEntry struct {
	key     string
	val     []byte
	written time.Time
}

// NewMemory creates a Memory cache. capacity <= 0 means unbounded;
// ttl <= 0 means entries never expire.
func NewMemory(ttl time.Duration, capacity int) *Memory {
	return &Memory{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// GetCache returns the cached value if present and not expired.
func (m *Memory) GetCache(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*memEntry)
	if m.ttl > 0 && m.now().Sub(entry.written) > m.ttl {
		m.order.Remove(el)
		delete(m.entries, key)
		return nil, false
	}
	m.order.MoveToFront(el)
	return entry.val, true
}

// SetCache stores a value, evicting the least recently used entry when the
// cache is at capacity.
func (m *Memory) SetCache(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memEntry)
		entry.val = val
		entry.written = m.now()
		m.order.MoveToFront(el)
		return nil
	}

	if m.capacity > 0 && m.order.Len() >= m.capacity {
		oldest := m.order.Back()
		if oldest != nil {
			m.order.Remove(oldest)
			delete(m.entries, oldest.Value.(*memEntry).key)
		}
	}

	m.entries[key] = m.order.PushFront(&memEntry{key: key, val: val, written: m.now()})
	return nil
}

// Len returns the number of live entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
