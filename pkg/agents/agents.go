// Package agents implements the LLM extraction agents of the query pipeline:
// intent classification, collection mapping, location extraction, datetime
// translation, and cloud-filter detection. Every agent degrades to a
// rule-based fallback when the LLM fails or times out.
package agents

import (
	"strings"
	"time"

	"geoquery/pkg/config"
	"geoquery/pkg/llm"
	"geoquery/pkg/registry"
	"geoquery/pkg/tracker"
)

// Agents bundles the extraction agents behind one LLM provider.
type Agents struct {
	llm      llm.Provider
	registry *registry.Registry
	tracker  *tracker.Tracker

	intentTimeout time.Duration
	agentTimeout  time.Duration

	// now is injectable for datetime tests.
	now func() time.Time
}

// New creates the agent set.
func New(provider llm.Provider, reg *registry.Registry, t *tracker.Tracker, cfg config.PipelineConfig) *Agents {
	return &Agents{
		llm:           provider,
		registry:      reg,
		tracker:       t,
		intentTimeout: cfg.IntentTimeout.Std(),
		agentTimeout:  cfg.AgentTimeout.Std(),
		now:           time.Now,
	}
}

// containsAny reports whether the lowercased text contains any needle.
func containsAny(lower string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
