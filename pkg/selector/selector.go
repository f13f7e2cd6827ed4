// Package selector picks the best tiles from spatially-filtered STAC
// candidates: highest resolution first, a single acquisition window, and a
// weighted score over recency, clouds, coverage, and quality.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"geoquery/pkg/llm"
	"geoquery/pkg/model"
	"geoquery/pkg/registry"
	"geoquery/pkg/stac"
	"geoquery/pkg/tracker"
)

const (
	minSelection = 5
	maxSelection = 50

	// resolutionTolerance keeps collections within 1.2x of the sharpest one.
	resolutionTolerance = 1.2

	// coverageSlack accepts an older acquisition group only if it covers at
	// least this share of the best group's coverage.
	coverageSlack = 0.9
)

// qualityKeywords force the LLM-ranked path.
var qualityKeywords = []string{"best", "clearest", "most recent", "latest", "sharpest", "highest quality"}

// Selector ranks and trims candidates.
type Selector struct {
	registry *registry.Registry
	llm      llm.Provider
	tracker  *tracker.Tracker
	now      func() time.Time
}

// New creates a Selector.
func New(reg *registry.Registry, provider llm.Provider, t *tracker.Tracker) *Selector {
	return &Selector{registry: reg, llm: provider, tracker: t, now: time.Now}
}

// Select returns the chosen tiles, already capped to the area budget.
func (s *Selector) Select(ctx context.Context, query string, features []model.StacFeature, requested *model.BBox) []model.StacFeature {
	if len(features) == 0 {
		return nil
	}

	budget := s.budget(requested)
	candidates := s.filterResolution(features)
	if len(candidates) == 0 {
		// Resolution filter removed everything that intersects; relax.
		candidates = features
	}

	scored := s.scoreAll(query, candidates, requested)

	if s.useSmartPath(query, len(scored), requested) {
		if picked, err := s.smartSelect(ctx, query, scored, requested, budget); err == nil {
			return picked
		} else {
			slog.Warn("LLM tile selection failed, using rule-based path", "error", err)
			s.tracker.TrackFallback("selection")
		}
	}

	return s.fastSelect(scored, budget)
}

// budget caps the selection size by requested area.
func (s *Selector) budget(requested *model.BBox) int {
	if requested == nil {
		return maxSelection
	}
	area := stac.AreaKm2(*requested)
	b := maxSelection
	switch {
	case area < 100:
		b = 10
	case area < 1000:
		b = 20
	}
	if b < minSelection {
		b = minSelection
	}
	return b
}

// filterResolution keeps tiles from collections within tolerance of the best
// ground resolution present among the candidates.
func (s *Selector) filterResolution(features []model.StacFeature) []model.StacFeature {
	best := 0.0
	resolutions := make(map[string]float64)
	for _, f := range features {
		if _, seen := resolutions[f.Collection]; seen {
			continue
		}
		p, err := s.registry.Get(f.Collection)
		if err != nil {
			continue
		}
		resolutions[f.Collection] = p.ResolutionM
		if best == 0 || p.ResolutionM < best {
			best = p.ResolutionM
		}
	}
	if best == 0 {
		return features
	}

	var out []model.StacFeature
	for _, f := range features {
		res, ok := resolutions[f.Collection]
		if !ok || res <= best*resolutionTolerance {
			out = append(out, f)
		}
	}
	return out
}

func (s *Selector) scoreAll(query string, features []model.StacFeature, requested *model.BBox) []ScoredTile {
	w := weightsFor(query)
	now := s.now()

	scored := make([]ScoredTile, 0, len(features))
	for _, f := range features {
		overlap := 1.0
		if requested != nil {
			overlap = stac.Overlap(f.BBox, *requested)
		}
		scored = append(scored, score(f, overlap, w, now))
	}
	return scored
}

// useSmartPath decides between the rule-based and LLM-ranked paths.
func (s *Selector) useSmartPath(query string, candidates int, requested *model.BBox) bool {
	lower := strings.ToLower(query)
	for _, kw := range qualityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return candidates > s.budget(requested)
}

// fastSelect is the rule-based path: pick one acquisition-hour group, then
// the top tiles by score.
func (s *Selector) fastSelect(scored []ScoredTile, budget int) []model.StacFeature {
	group := bestGroup(scored)
	if len(group) == 0 {
		return nil
	}

	sort.SliceStable(group, func(i, j int) bool { return group[i].Total > group[j].Total })
	if len(group) > budget {
		group = group[:budget]
	}

	out := make([]model.StacFeature, 0, len(group))
	for _, t := range group {
		out = append(out, t.Feature)
	}
	return out
}

// bestGroup groups tiles by acquisition hour and returns the most recent
// group whose coverage is competitive. Tiles without a datetime (DEMs) form
// a single timeless group.
func bestGroup(scored []ScoredTile) []ScoredTile {
	groups := make(map[time.Time][]ScoredTile)
	for _, t := range scored {
		hour := t.AcquiredAt.Truncate(time.Hour)
		groups[hour] = append(groups[hour], t)
	}

	type grouped struct {
		hour     time.Time
		tiles    []ScoredTile
		coverage float64
	}
	var all []grouped
	bestCoverage := 0.0
	for hour, tiles := range groups {
		cov := 0.0
		for _, t := range tiles {
			cov += t.Overlap
		}
		if cov > 1 {
			cov = 1
		}
		all = append(all, grouped{hour: hour, tiles: tiles, coverage: cov})
		if cov > bestCoverage {
			bestCoverage = cov
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].hour.After(all[j].hour) })
	for _, g := range all {
		if g.coverage >= bestCoverage*coverageSlack {
			return g.tiles
		}
	}
	if len(all) > 0 {
		return all[0].tiles
	}
	return nil
}

const smartPromptHeader = `Select the best satellite tiles for this request. Rules, in priority order:
1. Prefer the highest-resolution collection.
2. All selected tiles must come from the same acquisition hour; prefer the most recent hour that still covers the area.
3. Prefer tiles intersecting the requested area.
4. Honour any cloud or date constraints in the request.

Select at most %d tile ids.

REQUEST: %s

CANDIDATES (id | collection | acquired | cloud%% | overlap | score):
%s
Respond with JSON: {"selected": ["id", ...]}`

// smartSelect asks the LLM to rank, then re-applies the hard rules to its
// answer so a sloppy response cannot break the invariants.
func (s *Selector) smartSelect(ctx context.Context, query string, scored []ScoredTile, requested *model.BBox, budget int) ([]model.StacFeature, error) {
	// Condensed summary, highest scores first, capped to keep the prompt sane.
	sorted := make([]ScoredTile, len(scored))
	copy(sorted, scored)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Total > sorted[j].Total })
	sample := sorted
	if len(sample) > 40 {
		sample = sample[:40]
	}

	var sb strings.Builder
	for _, t := range sample {
		cloud := "-"
		if cc, ok := t.Feature.CloudCover(); ok {
			cloud = fmt.Sprintf("%.0f", cc)
		}
		acquired := "-"
		if !t.AcquiredAt.IsZero() {
			acquired = t.AcquiredAt.Format(time.RFC3339)
		}
		fmt.Fprintf(&sb, "%s | %s | %s | %s | %.2f | %.0f\n",
			t.Feature.ID, t.Feature.Collection, acquired, cloud, t.Overlap, t.Total)
	}

	var out struct {
		Selected []string `json:"selected"`
	}
	prompt := fmt.Sprintf(smartPromptHeader, budget, query, sb.String())
	if err := llm.GenerateJSONRetry(ctx, s.llm, "selection", prompt, &out); err != nil {
		return nil, err
	}
	if len(out.Selected) == 0 {
		return nil, fmt.Errorf("llm selected no tiles")
	}

	byID := make(map[string]ScoredTile, len(scored))
	for _, t := range scored {
		byID[t.Feature.ID] = t
	}
	var picked []ScoredTile
	for _, id := range out.Selected {
		if t, ok := byID[id]; ok {
			picked = append(picked, t)
		}
	}
	if len(picked) == 0 {
		return nil, fmt.Errorf("llm selected only unknown tile ids")
	}

	// Re-apply the single-acquisition-hour rule and the budget.
	return s.fastSelect(picked, budget), nil
}
