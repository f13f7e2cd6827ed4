package agents

import (
	"context"
	"testing"

	"geoquery/pkg/model"
)

func TestClassifyIntentLLMPath(t *testing.T) {
	p := &fakeProvider{json: `{"intent_type": "hybrid", "needs_satellite_data": true, "needs_contextual_info": true, "confidence": 0.9, "reasoning": "show plus analyze"}`}
	a := newTestAgents(p)

	intent := a.ClassifyIntent(context.Background(), "show and explain flooding in Pakistan", "")
	if intent.Type != model.IntentHybrid {
		t.Errorf("Type = %s, want hybrid", intent.Type)
	}
	if !intent.NeedsSatelliteData || !intent.NeedsContextualInfo {
		t.Error("capability flags lost")
	}
}

func TestClassifyIntentRejectsUnknownType(t *testing.T) {
	p := &fakeProvider{json: `{"intent_type": "interpretive-dance", "confidence": 0.9}`}
	a := newTestAgents(p)

	intent := a.ClassifyIntent(context.Background(), "show Seattle", "")
	if intent.Type != model.IntentStac {
		t.Errorf("Type = %s, want stac from keyword fallback", intent.Type)
	}
	if intent.Confidence > 0.5 {
		t.Errorf("fallback confidence = %g, want degraded", intent.Confidence)
	}
}

func TestClassifyIntentFallbackOnError(t *testing.T) {
	a := newTestAgents(&fakeProvider{})

	intent := a.ClassifyIntent(context.Background(), "display wildfires in California", "")
	if intent.Type != model.IntentStac {
		t.Errorf("Type = %s, want stac", intent.Type)
	}
}

func TestClassifyFallbackTaxonomy(t *testing.T) {
	tests := []struct {
		query string
		want  model.IntentType
	}{
		{"what is visible in this image?", model.IntentVision},
		{"can you see any ships?", model.IntentVision},
		{"show me Tokyo", model.IntentStac},
		{"load sentinel-2 over the alps", model.IntentStac},
		{"show and analyze deforestation in the Amazon", model.IntentHybrid},
		{"display and explain the burn scars", model.IntentHybrid},
		{"how does SAR imaging work?", model.IntentContextual},
		{"what happened during the 2023 floods?", model.IntentContextual},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := classifyFallback(tt.query)
			if got.Type != tt.want {
				t.Errorf("classifyFallback(%q) = %s, want %s", tt.query, got.Type, tt.want)
			}
		})
	}
}
