package stac

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"geoquery/pkg/model"
)

// bounds splits a bbox into orb bounds, two of them when it crosses the
// antimeridian so planar intersection math stays valid.
func bounds(b model.BBox) []orb.Bound {
	if b.CrossesDateline() {
		return []orb.Bound{
			{Min: orb.Point{b.West(), b.South()}, Max: orb.Point{180, b.North()}},
			{Min: orb.Point{-180, b.South()}, Max: orb.Point{b.East(), b.North()}},
		}
	}
	return []orb.Bound{{Min: orb.Point{b.West(), b.South()}, Max: orb.Point{b.East(), b.North()}}}
}

// AreaKm2 returns the geodesic area of a bbox in square kilometers.
func AreaKm2(b model.BBox) float64 {
	var total float64
	for _, bd := range bounds(b) {
		total += geo.Area(bd)
	}
	return total / 1e6
}

// Overlap computes intersection_area / tile_area between a tile bbox and the
// requested bbox. The tile is the denominator: a full-coverage tile over a
// much larger request still scores 1.0.
func Overlap(tile, requested model.BBox) float64 {
	tileArea := AreaKm2(tile)
	if tileArea <= 0 {
		return 0
	}

	var intersection float64
	for _, tb := range bounds(tile) {
		for _, rb := range bounds(requested) {
			if ib, ok := intersect(tb, rb); ok {
				intersection += geo.Area(ib) / 1e6
			}
		}
	}
	return intersection / tileArea
}

func intersect(a, b orb.Bound) (orb.Bound, bool) {
	minX := math.Max(a.Min[0], b.Min[0])
	minY := math.Max(a.Min[1], b.Min[1])
	maxX := math.Min(a.Max[0], b.Max[0])
	maxY := math.Min(a.Max[1], b.Max[1])
	if minX >= maxX || minY >= maxY {
		return orb.Bound{}, false
	}
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}, true
}

// FilterSpatial drops features whose overlap with the requested bbox is
// below minOverlap. Order is preserved.
func FilterSpatial(features []model.StacFeature, requested *model.BBox, minOverlap float64) []model.StacFeature {
	if requested == nil {
		return features
	}

	out := make([]model.StacFeature, 0, len(features))
	for _, f := range features {
		if Overlap(f.BBox, *requested) >= minOverlap {
			out = append(out, f)
		}
	}
	return out
}
