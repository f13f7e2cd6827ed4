package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"geoquery/pkg/llm"
)

const collectionsPrompt = `You map a satellite-data question to 1-3 collection IDs from this catalogue:

%s

Priority rules, in order:
1. Explicit platform mentions ("SAR", "radar", "Sentinel-1", "Landsat", "MODIS", "NAIP") override everything; return exactly that platform's IDs.
2. Use-case keywords map to categories: elevation/terrain -> elevation; fire/wildfire/burn -> fire; flood -> sar; vegetation/crops/agriculture -> optical; land cover -> landcover.
3. Generic "satellite imagery" -> ["sentinel-2-l2a", "landsat-c2-l2"].

QUERY: %s

Respond with JSON: {"collections": ["id", ...]}`

// MapCollections picks 1-3 collection ids for the query. Unknown ids from
// the LLM are dropped; an empty result falls back to keyword selection.
func (a *Agents) MapCollections(ctx context.Context, query string) []string {
	if a.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.agentTimeout)
		defer cancel()
	}

	var out struct {
		Collections []string `json:"collections"`
	}
	prompt := fmt.Sprintf(collectionsPrompt, a.catalogueSummary(), query)
	if err := llm.GenerateJSONRetry(ctx, a.llm, "collections", prompt, &out); err != nil {
		slog.Warn("Collection mapping failed, using keyword fallback", "error", err)
		a.tracker.TrackFallback("collections")
		return a.keywordCollections(query)
	}

	var valid []string
	for _, id := range out.Collections {
		if a.registry.Has(id) {
			valid = append(valid, id)
		} else {
			slog.Warn("Collection mapping returned unknown id, dropping", "id", id)
		}
	}
	if len(valid) > 3 {
		valid = valid[:3]
	}
	if len(valid) == 0 {
		a.tracker.TrackFallback("collections")
		return a.keywordCollections(query)
	}
	return valid
}

// catalogueSummary renders the registry as prompt context.
func (a *Agents) catalogueSummary() string {
	var sb strings.Builder
	for _, p := range a.registry.All() {
		tags := []string{string(p.Category)}
		if p.Static {
			tags = append(tags, "static")
		}
		if p.Composite {
			tags = append(tags, "composite")
		}
		if p.CloudFilterable() {
			tags = append(tags, "cloud-filterable")
		}
		fmt.Fprintf(&sb, "- %s: %s (%.1fm, %s)\n", p.ID, p.Title, p.ResolutionM, strings.Join(tags, ", "))
	}
	return sb.String()
}

// opticalPair is the generic-imagery default.
var opticalPair = []string{"sentinel-2-l2a", "landsat-c2-l2"}

// useCaseTerms maps phrases detected in the query to the catalogue keyword
// they resolve through. Earlier rows win.
var useCaseTerms = []struct{ detect, keyword string }{
	{"elevation", "elevation"},
	{"terrain", "terrain"},
	{"topography", "topography"},
	{"dem", "dem"},
	{"height", "height"},
	{"relief", "relief"},
	{"wildfire", "wildfire"},
	{"fire", "fire"},
	{"burn", "burn"},
	{"flood", "flood"},
	{"land cover", "land cover"},
	{"landcover", "landcover"},
	{"land use", "land use"},
	{"vegetation", "vegetation"},
	{"ndvi", "ndvi"},
	{"crop", "crops"},
	{"agriculture", "agriculture"},
}

// keywordCollections is the rule-based fallback. Platform mentions win over
// use-case keywords, which win over the generic optical default.
func (a *Agents) keywordCollections(query string) []string {
	lower := strings.ToLower(query)

	// 1. Platform mentions
	switch {
	case containsAny(lower, "sentinel-1", "sentinel 1", "sar", "radar"):
		return []string{"sentinel-1-grd"}
	case containsAny(lower, "sentinel-2", "sentinel 2"):
		return []string{"sentinel-2-l2a"}
	case containsAny(lower, "landsat"):
		return []string{"landsat-c2-l2"}
	case containsAny(lower, "modis"):
		if containsAny(lower, "fire", "wildfire", "burn", "thermal") {
			return []string{"modis-14A1-061"}
		}
		return []string{"modis-09A1-061"}
	case containsAny(lower, "naip", "aerial"):
		return []string{"naip"}
	case containsAny(lower, "hls", "harmonized"):
		return []string{"hls2-s30", "hls2-l30"}
	}

	// 2. Use-case keywords, resolved through the catalogue's keyword tags.
	for _, uc := range useCaseTerms {
		if !strings.Contains(lower, uc.detect) {
			continue
		}
		if ids := a.registry.MatchKeyword(uc.keyword); len(ids) > 0 {
			if len(ids) > 3 {
				ids = ids[:3]
			}
			return ids
		}
	}
	if containsAny(lower, "high resolution", "high-resolution", "detailed") {
		return []string{"naip", "sentinel-2-l2a"}
	}

	// 3. Generic default
	return append([]string(nil), opticalPair...)
}
