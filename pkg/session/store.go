// Package session keeps per-conversation state: a bounded chat history plus
// the spatial and collection context carried between turns. Clients identify
// themselves with an opaque session ID (typically a UUID generated
// client-side).
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"geoquery/pkg/model"
)

// cleanupInterval is how often Get() triggers lazy eviction of expired entries.
const cleanupInterval = 100

// Context is the state of one conversation. All access goes through its
// mutex; the orchestrator additionally holds it for a whole turn via Lock.
type Context struct {
	mu sync.Mutex

	QueryCount      int
	History         []model.Message
	LastBBox        *model.BBox
	LastCollections []string
	HasRenderedMap  bool
	ContextTopics   []string

	maxMessages int
}

// Lock serializes turns for one session.
func (c *Context) Lock() { c.mu.Lock() }

// Unlock releases the turn lock.
func (c *Context) Unlock() { c.mu.Unlock() }

// Record appends one user/assistant exchange and updates the carried
// context. Oldest messages are evicted once the history exceeds the bound.
// Call with the turn lock held.
func (c *Context) Record(query, reply string, bbox *model.BBox, collections []string, renderedMap bool) {
	now := time.Now()
	c.QueryCount++
	c.History = append(c.History,
		model.Message{Role: "user", Content: query, Timestamp: now},
		model.Message{Role: "assistant", Content: reply, Timestamp: now},
	)
	for len(c.History) > c.maxMessages {
		c.History = c.History[1:]
	}

	if bbox != nil {
		b := *bbox
		c.LastBBox = &b
	}
	if len(collections) > 0 {
		c.LastCollections = append([]string(nil), collections...)
	}
	if renderedMap {
		c.HasRenderedMap = true
	}
}

// AddTopic remembers a subject discussed in the conversation.
func (c *Context) AddTopic(topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	for _, t := range c.ContextTopics {
		if strings.EqualFold(t, topic) {
			return
		}
	}
	c.ContextTopics = append(c.ContextTopics, topic)
}

// RecentHistory renders the last maxExchanges exchanges as prompt context.
// Call with the turn lock held.
func (c *Context) RecentHistory(maxExchanges int) string {
	msgs := c.History
	if limit := maxExchanges * 2; limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if len(msgs) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}

type entry struct {
	ctx        *Context
	lastAccess time.Time
}

// Store maps session ids to conversation contexts with TTL eviction.
type Store struct {
	mu          sync.Mutex
	entries     map[string]*entry
	ttl         time.Duration
	maxMessages int
	getCalls    int
}

// NewStore creates a Store that evicts sessions inactive longer than ttl.
func NewStore(ttl time.Duration, maxMessages int) *Store {
	if maxMessages <= 0 {
		maxMessages = 20
	}
	return &Store{
		entries:     make(map[string]*entry),
		ttl:         ttl,
		maxMessages: maxMessages,
	}
}

// Get returns the context for the given session, creating it if needed.
// Each call refreshes the session's last-access timestamp.
func (s *Store) Get(id string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++
	if s.getCalls%cleanupInterval == 0 {
		s.cleanupLocked()
	}

	e, ok := s.entries[id]
	if !ok {
		e = &entry{ctx: &Context{maxMessages: s.maxMessages}}
		s.entries[id] = e
	}
	e.lastAccess = time.Now()
	return e.ctx
}

// Reset clears the context for a session.
func (s *Store) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Cleanup evicts all sessions that have been inactive longer than the TTL.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
}

func (s *Store) cleanupLocked() {
	cutoff := time.Now().Add(-s.ttl)
	for id, e := range s.entries {
		if e.lastAccess.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
