package agents

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"geoquery/pkg/llm"
)

// CloudResult is the cloud-filter agent output. A nil Threshold means no
// explicit cloud intent was found.
type CloudResult struct {
	Intent    string // low, medium, high, none
	Threshold *float64
	Reasoning string
}

const cloudsPrompt = `Detect EXPLICIT cloud-cover intent in this satellite-data question.

Rules:
- Only explicit mentions count: "clear skies", "cloud-free", "less than 20%% clouds", "low cloud cover".
- NEVER infer cloud preferences from urgency, disaster type, or analysis depth.
- Mapping: low -> 25%%, medium -> 50%%, high -> 75%%. Explicit percentages win.

QUERY: %s

Respond with JSON: {"cloud_intent": "low|medium|high|none", "threshold_percent": number or null, "reasoning": "one sentence"}`

// ExtractClouds detects an explicit cloud-cover constraint.
func (a *Agents) ExtractClouds(ctx context.Context, query string) CloudResult {
	if a.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.agentTimeout)
		defer cancel()
	}

	var out struct {
		CloudIntent      string   `json:"cloud_intent"`
		ThresholdPercent *float64 `json:"threshold_percent"`
		Reasoning        string   `json:"reasoning"`
	}
	prompt := fmt.Sprintf(cloudsPrompt, query)
	if err := llm.GenerateJSONRetry(ctx, a.llm, "clouds", prompt, &out); err != nil {
		slog.Warn("Cloud filter agent failed, using rule fallback", "error", err)
		a.tracker.TrackFallback("clouds")
		return ruleClouds(query)
	}

	res := CloudResult{Intent: out.CloudIntent, Reasoning: out.Reasoning}
	switch out.CloudIntent {
	case "low", "medium", "high":
		t := intentThreshold(out.CloudIntent)
		if out.ThresholdPercent != nil && *out.ThresholdPercent > 0 && *out.ThresholdPercent <= 100 {
			t = *out.ThresholdPercent
		}
		res.Threshold = &t
	default:
		res.Intent = "none"
	}
	return res
}

func intentThreshold(intent string) float64 {
	switch intent {
	case "low":
		return 25
	case "medium":
		return 50
	case "high":
		return 75
	}
	return 0
}

var percentCloudRe = regexp.MustCompile(`(?i)(?:less than|under|below|<)\s*(\d{1,2})\s*%\s*(?:cloud|clouds|cloud cover)?`)

// ruleClouds is the keyword fallback for explicit cloud phrasing.
func ruleClouds(query string) CloudResult {
	lower := strings.ToLower(query)

	if m := percentCloudRe.FindStringSubmatch(query); m != nil && strings.Contains(lower, "cloud") {
		v, _ := strconv.ParseFloat(m[1], 64)
		return CloudResult{Intent: "low", Threshold: &v, Reasoning: "explicit percentage"}
	}

	switch {
	case containsAny(lower, "clear skies", "clear sky", "cloud-free", "cloudfree", "cloudless", "no clouds", "low cloud"):
		t := intentThreshold("low")
		return CloudResult{Intent: "low", Threshold: &t, Reasoning: "clear-sky keyword"}
	case containsAny(lower, "some clouds", "moderate cloud", "medium cloud"):
		t := intentThreshold("medium")
		return CloudResult{Intent: "medium", Threshold: &t, Reasoning: "moderate-cloud keyword"}
	case containsAny(lower, "any cloud", "clouds ok", "cloudy"):
		t := intentThreshold("high")
		return CloudResult{Intent: "high", Threshold: &t, Reasoning: "cloud-tolerant keyword"}
	}
	return CloudResult{Intent: "none"}
}
