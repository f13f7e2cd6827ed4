package agents

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"geoquery/pkg/llm"
)

// LocationResult is the location extraction output. An empty Name means the
// query carries no spatial reference.
type LocationResult struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"` // city, state, country, region, landmark
	Confidence float64 `json:"confidence"`
}

const locationPrompt = `Extract the geographic location from this satellite-data question.

Rules:
- Return the most specific place named (city, state, country, region, or landmark).
- For routes ("from X to Y"), return the primary endpoint X.
- If no location is named, return null for the name.
- Do not invent locations from context like "here" or "this area".

QUERY: %s

Respond with JSON: {"location": {"name": "..." or null, "type": "city|state|country|region|landmark", "confidence": 0.0-1.0}}`

// ExtractLocation pulls the place name from the query text.
func (a *Agents) ExtractLocation(ctx context.Context, query string) LocationResult {
	if a.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.agentTimeout)
		defer cancel()
	}

	var out struct {
		Location *LocationResult `json:"location"`
	}
	prompt := fmt.Sprintf(locationPrompt, query)
	if err := llm.GenerateJSONRetry(ctx, a.llm, "location", prompt, &out); err != nil {
		slog.Warn("Location extraction failed, using rule fallback", "error", err)
		a.tracker.TrackFallback("location")
		return ruleLocation(query)
	}
	if out.Location == nil {
		return LocationResult{}
	}
	return *out.Location
}

// prepositionRe captures the words following a spatial preposition, stopping
// at temporal or filter phrases.
var prepositionRe = regexp.MustCompile(`(?i)\b(?:in|of|over|near|around|for)\s+([A-Z][\w.'-]*(?:\s+[A-Z][\w.'-]*)*)`)

// ruleLocation is a crude but predictable fallback: the first capitalized
// phrase after a spatial preposition.
func ruleLocation(query string) LocationResult {
	m := prepositionRe.FindStringSubmatch(query)
	if m == nil {
		return LocationResult{}
	}

	name := strings.TrimSpace(m[1])
	// Trim trailing temporal words that ride along ("in Texas last month").
	for _, cut := range []string{" last ", " this ", " from ", " between ", " since ", " with "} {
		if idx := strings.Index(strings.ToLower(name), cut); idx > 0 {
			name = strings.TrimSpace(name[:idx])
		}
	}
	if name == "" {
		return LocationResult{}
	}
	return LocationResult{Name: name, Type: "region", Confidence: 0.3}
}
