// Package negotiator relaxes filters when a search selects nothing: clouds
// first, then the date window, then the collection set.
package negotiator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"geoquery/pkg/model"
	"geoquery/pkg/registry"
	"geoquery/pkg/selector"
	"geoquery/pkg/stac"
)

const (
	cloudStepPoints  = 25
	cloudCeiling     = 95.0
	maxWidenedWindow = 5 * 365 * 24 * time.Hour
)

// Negotiator re-runs search -> spatial filter -> select with relaxed filters.
type Negotiator struct {
	client     *stac.Client
	selector   *selector.Selector
	registry   *registry.Registry
	minOverlap float64
}

// New creates a Negotiator.
func New(client *stac.Client, sel *selector.Selector, reg *registry.Registry, minOverlap float64) *Negotiator {
	return &Negotiator{client: client, selector: sel, registry: reg, minOverlap: minOverlap}
}

// Result is a successful relaxation: the tiles found and the record of what
// changed.
type Result struct {
	Features []model.StacFeature
	Record   model.RelaxationRecord
}

// Negotiate tries the relaxation ladder. Relaxations are cumulative: a
// widened date window keeps the raised cloud ceiling. Returns nil when every
// step still comes up empty.
func (n *Negotiator) Negotiate(ctx context.Context, query string, build stac.BuildOutput) (*Result, error) {
	original := filterSet(build)
	current := build
	var explanations []string

	type step func(stac.BuildOutput) (stac.BuildOutput, string, bool)
	steps := []step{n.relaxClouds, n.widenDatetime, n.dropCollections}

	for _, s := range steps {
		next, explanation, applied := s(current)
		if !applied {
			continue
		}
		current = next
		explanations = append(explanations, explanation)
		slog.Info("Negotiator relaxation", "step", explanation)

		features, err := n.run(ctx, query, current)
		if err != nil {
			return nil, err
		}
		if len(features) > 0 {
			return &Result{
				Features: features,
				Record: model.RelaxationRecord{
					Original:    original,
					Alternative: filterSet(current),
					Explanation: strings.Join(explanations, " "),
				},
			}, nil
		}
	}

	return nil, nil
}

func (n *Negotiator) run(ctx context.Context, query string, build stac.BuildOutput) ([]model.StacFeature, error) {
	features, err := n.client.Search(ctx, build.Query)
	if err != nil {
		return nil, err
	}
	features = stac.FilterSpatial(features, build.BBox, n.minOverlap)
	return n.selector.Select(ctx, query, features, build.BBox), nil
}

// relaxClouds raises the threshold by 25 points, capped at 95.
func (n *Negotiator) relaxClouds(build stac.BuildOutput) (stac.BuildOutput, string, bool) {
	if build.CloudFilter == nil {
		return build, "", false
	}

	before := build.CloudFilter.Threshold
	relaxed := before + cloudStepPoints
	if relaxed > cloudCeiling {
		relaxed = cloudCeiling
	}
	if relaxed == before {
		return build, "", false
	}

	cf := *build.CloudFilter
	cf.Threshold = relaxed
	build.CloudFilter = &cf
	build.Query.Query = map[string]map[string]float64{
		cf.Property: {"lt": relaxed},
	}
	return build, fmt.Sprintf("Raised the cloud-cover limit from %.0f%% to %.0f%%.", before, relaxed), true
}

// widenDatetime doubles the window symmetrically around its midpoint, capped
// at five years.
func (n *Negotiator) widenDatetime(build stac.BuildOutput) (stac.BuildOutput, string, bool) {
	if build.Datetime == nil {
		return build, "", false
	}

	r := *build.Datetime
	window := r.End.Sub(r.Start)
	if window <= 0 {
		window = 24 * time.Hour
	}
	widened := window * 2
	if widened > maxWidenedWindow {
		widened = maxWidenedWindow
	}
	if widened == window {
		return build, "", false
	}

	mid := r.Start.Add(window / 2)
	wide := model.DatetimeRange{
		Start: mid.Add(-widened / 2),
		End:   mid.Add(widened / 2),
	}
	build.Datetime = &wide
	build.Query.Datetime = wide.String()
	return build, fmt.Sprintf("Widened the date range to %s.", wide.String()), true
}

// dropCollections falls back to a single versatile optical collection.
func (n *Negotiator) dropCollections(build stac.BuildOutput) (stac.BuildOutput, string, bool) {
	if len(build.Query.Collections) <= 1 {
		return build, "", false
	}

	// Prefer an optical collection already in the request.
	chosen := ""
	for _, id := range build.Query.Collections {
		p, err := n.registry.Get(id)
		if err == nil && p.Category == registry.CategoryOptical {
			chosen = id
			break
		}
	}
	if chosen == "" {
		chosen = n.registry.Default().ID
	}

	build.Query.Collections = []string{chosen}
	return build, fmt.Sprintf("Searched %s only.", chosen), true
}

// filterSet snapshots the filters of a build for the relaxation record.
func filterSet(build stac.BuildOutput) model.FilterSet {
	fs := model.FilterSet{Collections: append([]string(nil), build.Query.Collections...)}
	if build.CloudFilter != nil {
		t := build.CloudFilter.Threshold
		fs.CloudThreshold = &t
	}
	if build.Datetime != nil {
		r := *build.Datetime
		fs.Datetime = &r
	}
	return fs
}
