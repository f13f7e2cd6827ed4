// Package stac assembles, executes, and post-filters STAC searches.
package stac

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"geoquery/pkg/agents"
	"geoquery/pkg/model"
	"geoquery/pkg/registry"
)

var (
	// ErrUnresolvedLocation means no geocoder produced a valid bbox.
	ErrUnresolvedLocation = errors.New("location could not be resolved")

	// ErrMalformedQuery means the assembled query violates the collection
	// capability rules; that is an upstream bug, fatal for the turn.
	ErrMalformedQuery = errors.New("malformed stac query")
)

const (
	defaultLimit = 100
	minLimit     = 50
	maxLimit     = 1000
)

// SortSpec is one sortby entry on the wire.
type SortSpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// Query is the STAC search body. Field names are wire-compatible with the
// STAC API spec.
type Query struct {
	Collections []string                      `json:"collections"`
	BBox        *model.BBox                   `json:"bbox,omitempty"`
	Datetime    string                        `json:"datetime,omitempty"`
	Query       map[string]map[string]float64 `json:"query,omitempty"`
	SortBy      []SortSpec                    `json:"sortby,omitempty"`
	Limit       int                           `json:"limit"`
}

// Resolver turns a place name into a bbox.
type Resolver interface {
	Resolve(ctx context.Context, place string) (model.BBox, error)
	PinBBox(pin model.Pin) model.BBox
}

// Builder assembles STAC queries deterministically from agent outputs.
type Builder struct {
	registry        *registry.Registry
	resolver        Resolver
	defaultLookback time.Duration
	now             func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(reg *registry.Registry, resolver Resolver, defaultLookback time.Duration) *Builder {
	return &Builder{registry: reg, resolver: resolver, defaultLookback: defaultLookback, now: time.Now}
}

// BuildInput is the merged agent output feeding one query.
type BuildInput struct {
	Collections []string
	Datetime    *model.DatetimeRange // nil = no temporal expression
	Clouds      agents.CloudResult
	Location    agents.LocationResult
	Pin         *model.Pin  // Used only when the query names no location
	LastBBox    *model.BBox // Session fallback when neither is present
}

// BuildOutput carries the query plus the filter bookkeeping downstream
// stages need.
type BuildOutput struct {
	Query        Query
	BBox         *model.BBox
	CloudFilter  *model.CloudFilter
	CloudWarning string
	Datetime     *model.DatetimeRange
}

// Build assembles and validates the search query.
func (b *Builder) Build(ctx context.Context, in BuildInput) (BuildOutput, error) {
	if len(in.Collections) == 0 {
		return BuildOutput{}, fmt.Errorf("%w: no collections", ErrMalformedQuery)
	}

	profiles := make([]registry.Profile, 0, len(in.Collections))
	for _, id := range in.Collections {
		p, err := b.registry.Get(id)
		if err != nil {
			return BuildOutput{}, fmt.Errorf("collection %q: %w", id, err)
		}
		profiles = append(profiles, p)
	}

	out := BuildOutput{
		Query: Query{
			Collections: in.Collections,
			SortBy:      []SortSpec{{Field: "datetime", Direction: "desc"}},
			Limit:       defaultLimit,
		},
	}

	// Temporal rules: static collections take no datetime at all; an
	// all-composite set drops datetime but keeps the recency sort.
	anyStatic := false
	allComposite := true
	for _, p := range profiles {
		if p.Static {
			anyStatic = true
		}
		if !p.Composite {
			allComposite = false
		}
	}

	switch {
	case anyStatic:
		// The recency sort goes too: static items carry no usable
		// acquisition time, and some backends reject sorting on it.
		out.Query.SortBy = nil
	case allComposite:
		// sortby stays, datetime stays empty
	case in.Datetime != nil && !in.Datetime.IsZero():
		out.Query.Datetime = in.Datetime.String()
		out.Datetime = in.Datetime
	case b.defaultLookback > 0:
		end := b.now().Truncate(24 * time.Hour)
		r := model.DatetimeRange{Start: end.Add(-b.defaultLookback), End: end}
		out.Query.Datetime = r.String()
		out.Datetime = &r
	}

	// Cloud filter only applies where the metadata exists.
	if in.Clouds.Threshold != nil {
		var property string
		var filterable []string
		for _, p := range profiles {
			if p.CloudFilterable() {
				if property == "" {
					property = p.CloudProperty
				}
				filterable = append(filterable, p.ID)
			}
		}
		if property != "" {
			out.Query.Query = map[string]map[string]float64{
				property: {"lt": *in.Clouds.Threshold},
			}
			out.CloudFilter = &model.CloudFilter{
				Property:    property,
				Threshold:   *in.Clouds.Threshold,
				Collections: filterable,
			}
		} else {
			out.CloudWarning = "The selected collections have no cloud metadata, so the cloud filter was not applied."
		}
	}

	// Spatial focus: named location wins, then the pin, then the session's
	// previous bbox. No location at all means no spatial filter.
	switch {
	case in.Location.Name != "":
		bbox, err := b.resolver.Resolve(ctx, in.Location.Name)
		if err != nil {
			return BuildOutput{}, fmt.Errorf("%w: %q: %v", ErrUnresolvedLocation, in.Location.Name, err)
		}
		out.BBox = &bbox
	case in.Pin != nil:
		bbox := b.resolver.PinBBox(*in.Pin)
		out.BBox = &bbox
	case in.LastBBox != nil:
		bbox := *in.LastBBox
		out.BBox = &bbox
	}
	out.Query.BBox = out.BBox

	if out.BBox != nil {
		out.Query.Limit = deriveLimit(*out.BBox, profiles)
	}

	if err := b.validate(out.Query, profiles); err != nil {
		return BuildOutput{}, err
	}
	return out, nil
}

// deriveLimit scales the STAC limit with the requested area: enough tiles to
// cover it spatially, multiplied by the collection's revisit density. Small
// areas keep the default.
func deriveLimit(bbox model.BBox, profiles []registry.Profile) int {
	area := AreaKm2(bbox)
	if area <= 0 {
		return defaultLimit
	}

	// Use the smallest tile and the densest revisit among the selected
	// collections so the limit covers the worst case.
	tileArea := math.MaxFloat64
	factor := 1.0
	for _, p := range profiles {
		if p.TileAreaKm2 > 0 && p.TileAreaKm2 < tileArea {
			tileArea = p.TileAreaKm2
		}
		if p.TemporalFactor > factor {
			factor = p.TemporalFactor
		}
	}
	if tileArea == math.MaxFloat64 {
		return defaultLimit
	}

	spatial := math.Ceil(area / tileArea * 1.3)
	limit := int(spatial * factor)
	if limit < minLimit {
		limit = minLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < defaultLimit {
		limit = defaultLimit
	}
	return limit
}

// validate enforces the capability invariants on the assembled query.
func (b *Builder) validate(q Query, profiles []registry.Profile) error {
	if q.Limit < minLimit || q.Limit > maxLimit {
		return fmt.Errorf("%w: limit %d outside [%d, %d]", ErrMalformedQuery, q.Limit, minLimit, maxLimit)
	}

	if q.BBox != nil {
		if err := q.BBox.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedQuery, err)
		}
	}

	if q.Datetime != "" {
		for _, p := range profiles {
			if !p.AcceptsDatetime() {
				return fmt.Errorf("%w: datetime set but collection %s does not accept one", ErrMalformedQuery, p.ID)
			}
		}
		if _, err := model.ParseDatetimeRange(q.Datetime); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedQuery, err)
		}
	}

	if len(q.Query) > 0 {
		filterable := false
		for _, p := range profiles {
			if p.CloudFilterable() {
				filterable = true
				break
			}
		}
		if !filterable {
			return fmt.Errorf("%w: cloud filter set but no collection is cloud-filterable", ErrMalformedQuery)
		}
	}

	return nil
}
