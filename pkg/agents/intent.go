package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"geoquery/pkg/llm"
	"geoquery/pkg/model"
)

const intentPrompt = `You classify questions about satellite and geospatial data into exactly one intent.

Intents:
- "vision": the user asks about what is visible in an already-rendered image ("in this image", "visible", "can you see").
- "stac": the user wants data rendered on the map ("show", "load", "display") without asking for analysis.
- "hybrid": the user wants data rendered AND described/analyzed/explained/identified.
- "contextual": the user asks for explanation or background ("how", "what is", "explain", "why") without visualization keywords, or uses past tense without show/display/load.

CONVERSATION CONTEXT:
%s

QUERY: %s

Respond with JSON:
{"intent_type": "vision|stac|hybrid|contextual", "needs_satellite_data": bool, "needs_vision_analysis": bool, "needs_contextual_info": bool, "confidence": 0.0-1.0, "reasoning": "one sentence"}`

// ClassifyIntent runs the LLM classifier, degrading to the keyword rules on
// failure.
func (a *Agents) ClassifyIntent(ctx context.Context, query, history string) model.Intent {
	if a.intentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.intentTimeout)
		defer cancel()
	}

	if history == "" {
		history = "(none)"
	}

	var intent model.Intent
	prompt := fmt.Sprintf(intentPrompt, history, query)
	if err := llm.GenerateJSONRetry(ctx, a.llm, "intent", prompt, &intent); err != nil {
		slog.Warn("Intent classifier failed, using keyword fallback", "error", err)
		a.tracker.TrackFallback("intent")
		return classifyFallback(query)
	}

	if !validIntentType(intent.Type) {
		slog.Warn("Intent classifier returned unknown type, using keyword fallback", "type", intent.Type)
		a.tracker.TrackFallback("intent")
		return classifyFallback(query)
	}
	return intent
}

func validIntentType(t model.IntentType) bool {
	switch t {
	case model.IntentVision, model.IntentStac, model.IntentHybrid, model.IntentContextual:
		return true
	}
	return false
}

// classifyFallback applies the keyword taxonomy directly. Confidence is
// capped at 0.5 to signal the degraded path.
func classifyFallback(query string) model.Intent {
	lower := strings.ToLower(query)

	intent := model.Intent{Confidence: 0.4, Reasoning: "keyword fallback"}

	switch {
	case containsAny(lower, "in this image", "in the image", "visible", "can you see"):
		intent.Type = model.IntentVision
		intent.NeedsVisionAnalysis = true
	case containsAny(lower, "show", "load", "display") &&
		containsAny(lower, "describe", "analyze", "analyse", "explain", "identify"):
		intent.Type = model.IntentHybrid
		intent.NeedsSatelliteData = true
		intent.NeedsContextualInfo = true
	case containsAny(lower, "show", "load", "display"):
		intent.Type = model.IntentStac
		intent.NeedsSatelliteData = true
	default:
		intent.Type = model.IntentContextual
		intent.NeedsContextualInfo = true
	}
	return intent
}
