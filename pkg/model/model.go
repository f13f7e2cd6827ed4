// Package model holds the domain types shared across the query pipeline:
// bounding boxes, datetime ranges, intents, STAC features, and the response
// envelope returned to the caller.
package model

import (
	"fmt"
	"strings"
	"time"
)

// DateOnly is the wire format for STAC datetime interval endpoints.
const DateOnly = "2006-01-02"

// DatetimeRange is a closed ISO-8601 date interval.
type DatetimeRange struct {
	Start time.Time
	End   time.Time
}

// String encodes the range as "YYYY-MM-DD/YYYY-MM-DD".
func (r DatetimeRange) String() string {
	return r.Start.Format(DateOnly) + "/" + r.End.Format(DateOnly)
}

// IsZero reports whether the range is unset.
func (r DatetimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// ParseDatetimeRange parses "YYYY-MM-DD/YYYY-MM-DD". Open-ended ranges
// ("YYYY-MM-DD/..") leave End zero.
func ParseDatetimeRange(s string) (DatetimeRange, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return DatetimeRange{}, fmt.Errorf("datetime range %q: want start/end", s)
	}
	start, err := time.Parse(DateOnly, parts[0])
	if err != nil {
		return DatetimeRange{}, fmt.Errorf("datetime range start: %w", err)
	}
	if parts[1] == ".." {
		return DatetimeRange{Start: start}, nil
	}
	end, err := time.Parse(DateOnly, parts[1])
	if err != nil {
		return DatetimeRange{}, fmt.Errorf("datetime range end: %w", err)
	}
	if end.Before(start) {
		return DatetimeRange{}, fmt.Errorf("datetime range %q: end before start", s)
	}
	return DatetimeRange{Start: start, End: end}, nil
}

// ComparisonRange holds the two periods of a before/after comparison query.
type ComparisonRange struct {
	Before DatetimeRange
	After  DatetimeRange
}

// CloudFilter restricts results by maximum cloud cover. Property is the
// collection-specific metadata field (usually "eo:cloud_cover").
type CloudFilter struct {
	Property    string
	Threshold   float64
	Collections []string
}

// IntentType classifies what the user wants from a single turn.
type IntentType string

const (
	IntentVision     IntentType = "vision"
	IntentStac       IntentType = "stac"
	IntentHybrid     IntentType = "hybrid"
	IntentContextual IntentType = "contextual"
)

// Intent is the classifier output plus derived capability flags.
type Intent struct {
	Type                IntentType `json:"intent_type"`
	NeedsSatelliteData  bool       `json:"needs_satellite_data"`
	NeedsVisionAnalysis bool       `json:"needs_vision_analysis"`
	NeedsContextualInfo bool       `json:"needs_contextual_info"`
	Confidence          float64    `json:"confidence"`
	Reasoning           string     `json:"reasoning"`
}

// StacFeature is one catalog item (a single acquisition footprint).
type StacFeature struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	BBox       BBox           `json:"bbox"`
	Properties map[string]any `json:"properties"`
}

// Datetime returns the acquisition time from the feature properties.
func (f StacFeature) Datetime() (time.Time, bool) {
	raw, ok := f.Properties["datetime"].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// CloudCover returns the cloud-cover percentage if the feature carries one.
func (f StacFeature) CloudCover() (float64, bool) {
	switch v := f.Properties["eo:cloud_cover"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Pin is a user-dropped coordinate used as the spatial focus when the query
// text names no location.
type Pin struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Message is one entry of a conversation history.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// FilterSet snapshots the filters a search ran with. The Negotiator records
// one of these for the original request and one for each relaxation.
type FilterSet struct {
	CloudThreshold *float64       `json:"cloud_cover,omitempty"`
	Datetime       *DatetimeRange `json:"datetime,omitempty"`
	Collections    []string       `json:"collections,omitempty"`
}

// RelaxationRecord documents what the Negotiator changed and why.
type RelaxationRecord struct {
	Original    FilterSet `json:"original_filters"`
	Alternative FilterSet `json:"alternative_filters"`
	Explanation string    `json:"explanation"`
}

// Diagnostics carries per-stage counts for failure messages.
type Diagnostics struct {
	RawCount             int    `json:"raw_count"`
	SpatialFilteredCount int    `json:"spatial_filtered_count"`
	FinalCount           int    `json:"final_count"`
	FailureStage         string `json:"failure_stage,omitempty"`
}
