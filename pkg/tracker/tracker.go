// Package tracker collects usage counters for external providers and for the
// query pipeline itself. Snapshots feed the stats endpoint.
package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker tracks usage statistics per provider and per pipeline stage.
type Tracker struct {
	mu        sync.RWMutex
	stats     map[string]*ProviderStats
	queries   map[string]*int64 // By response query type
	fallbacks map[string]*int64 // By agent name
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	CacheHits     int64
	CacheMisses   int64
	APISuccess    int64
	APIFailures   int64
	APIZeroResult int64
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats:     make(map[string]*ProviderStats),
		queries:   make(map[string]*int64),
		fallbacks: make(map[string]*int64),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

func (t *Tracker) counter(m map[string]*int64, key string) *int64 {
	t.mu.RLock()
	c, ok := m[key]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok = m[key]; ok {
		return c
	}
	c = new(int64)
	m[key] = c
	return c
}

// TrackCacheHit increments the cache hit counter.
func (t *Tracker) TrackCacheHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheMisses, 1)
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
}

func (t *Tracker) TrackAPIZero(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIZeroResult, 1)
}

// TrackQuery counts a completed pipeline run by response query type.
func (t *Tracker) TrackQuery(queryType string) {
	atomic.AddInt64(t.counter(t.queries, queryType), 1)
}

// TrackFallback counts a rule-based fallback taken when an extraction agent
// failed or timed out.
func (t *Tracker) TrackFallback(agent string) {
	atomic.AddInt64(t.counter(t.fallbacks, agent), 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Providers: make(map[string]ProviderStats, len(t.stats)),
		Queries:   make(map[string]int64, len(t.queries)),
		Fallbacks: make(map[string]int64, len(t.fallbacks)),
	}
	for k, v := range t.stats {
		snap.Providers[k] = ProviderStats{
			CacheHits:     atomic.LoadInt64(&v.CacheHits),
			CacheMisses:   atomic.LoadInt64(&v.CacheMisses),
			APISuccess:    atomic.LoadInt64(&v.APISuccess),
			APIFailures:   atomic.LoadInt64(&v.APIFailures),
			APIZeroResult: atomic.LoadInt64(&v.APIZeroResult),
		}
	}
	for k, v := range t.queries {
		snap.Queries[k] = atomic.LoadInt64(v)
	}
	for k, v := range t.fallbacks {
		snap.Fallbacks[k] = atomic.LoadInt64(v)
	}
	return snap
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Providers map[string]ProviderStats `json:"providers"`
	Queries   map[string]int64         `json:"queries"`
	Fallbacks map[string]int64         `json:"fallbacks"`
}
