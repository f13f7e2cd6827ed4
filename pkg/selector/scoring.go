package selector

import (
	"strings"
	"time"

	"geoquery/pkg/model"
)

// Weights distribute 100 points across the four scoring dimensions.
type Weights struct {
	Recency  float64
	Clouds   float64
	Coverage float64
	Quality  float64
}

var defaultWeights = Weights{Recency: 40, Clouds: 30, Coverage: 20, Quality: 10}

// weightsFor remaps the scoring weights by query phrasing.
func weightsFor(query string) Weights {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "most recent") || strings.Contains(lower, "latest"):
		return Weights{Recency: 70, Clouds: 15, Coverage: 10, Quality: 5}
	case strings.Contains(lower, "cloudless") || strings.Contains(lower, "clear"):
		return Weights{Recency: 15, Clouds: 60, Coverage: 15, Quality: 10}
	case strings.Contains(lower, "high resolution") || strings.Contains(lower, "high-resolution"):
		return Weights{Recency: 20, Clouds: 20, Coverage: 10, Quality: 50}
	case strings.Contains(lower, "full coverage") || strings.Contains(lower, "complete coverage"):
		return Weights{Recency: 20, Clouds: 15, Coverage: 50, Quality: 15}
	}
	return defaultWeights
}

// ScoredTile is a candidate with its weighted score breakdown. The four
// components already carry their weights, so Total is their plain sum and
// stays within [0, 100].
type ScoredTile struct {
	Feature    model.StacFeature
	AcquiredAt time.Time
	Overlap    float64

	Recency  float64
	Clouds   float64
	Coverage float64
	Quality  float64
	Total    float64
}

// score builds the weighted breakdown for one tile.
func score(f model.StacFeature, overlap float64, w Weights, now time.Time) ScoredTile {
	t := ScoredTile{Feature: f, Overlap: overlap}

	recencyCurve := 100.0
	if at, ok := f.Datetime(); ok {
		t.AcquiredAt = at
		recencyCurve = recencyScore(now.Sub(at).Hours() / 24)
	}

	cloudCurve := 100.0 // Absent cloud metadata (SAR, DEM) scores full
	if cc, ok := f.CloudCover(); ok {
		cloudCurve = cloudScore(cc)
	}

	t.Recency = recencyCurve / 100 * w.Recency
	t.Clouds = cloudCurve / 100 * w.Clouds
	t.Coverage = coverageScore(overlap) / 100 * w.Coverage
	t.Quality = qualityScore(f) / 100 * w.Quality
	t.Total = t.Recency + t.Clouds + t.Coverage + t.Quality
	return t
}

// recencyScore maps tile age in days to 0-100.
func recencyScore(days float64) float64 {
	switch {
	case days <= 7:
		return 100
	case days <= 30:
		return lerp(days, 7, 30, 100, 85)
	case days <= 60:
		return lerp(days, 30, 60, 85, 60)
	case days <= 180:
		return lerp(days, 60, 180, 60, 30)
	case days <= 730:
		return lerp(days, 180, 730, 30, 0)
	}
	return 0
}

// cloudScore maps cloud-cover percent to 0-100.
func cloudScore(pct float64) float64 {
	switch {
	case pct <= 5:
		return 100
	case pct <= 10:
		return lerp(pct, 5, 10, 100, 80)
	case pct <= 20:
		return lerp(pct, 10, 20, 80, 50)
	case pct <= 50:
		return lerp(pct, 20, 50, 50, 15)
	case pct <= 100:
		return lerp(pct, 50, 100, 15, 0)
	}
	return 0
}

// coverageScore maps bbox overlap (0-1) to 0-100.
func coverageScore(overlap float64) float64 {
	switch {
	case overlap >= 0.9:
		return 100
	case overlap >= 0.5:
		return lerp(overlap, 0.5, 0.9, 50, 100)
	case overlap >= 0.1:
		return lerp(overlap, 0.1, 0.5, 25, 50)
	case overlap > 0:
		return lerp(overlap, 0, 0.1, 0, 25)
	}
	return 0
}

// qualityScore reads collection-specific quality flags, defaulting to 50.
func qualityScore(f model.StacFeature) float64 {
	for _, key := range []string{"landsat:quality", "quality"} {
		if v, ok := f.Properties[key].(string); ok {
			switch strings.ToLower(v) {
			case "high":
				return 100
			case "medium":
				return 70
			case "low":
				return 30
			}
		}
	}
	return 50
}

func lerp(x, x0, x1, y0, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}
