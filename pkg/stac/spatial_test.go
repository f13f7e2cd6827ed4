package stac

import (
	"math"
	"testing"

	"geoquery/pkg/model"
)

func TestAreaKm2(t *testing.T) {
	// 1x1 degree near the equator is roughly 111 x 111 km.
	b := model.BBox{0, 0, 1, 1}
	area := AreaKm2(b)
	if area < 11000 || area > 13500 {
		t.Errorf("equator degree area = %g, want ~12300", area)
	}

	// The same box at 60N covers about half the longitude distance.
	high := model.BBox{0, 60, 1, 61}
	if ratio := AreaKm2(high) / area; ratio > 0.6 || ratio < 0.4 {
		t.Errorf("60N/equator ratio = %g, want ~0.5", ratio)
	}
}

func TestAreaKm2Dateline(t *testing.T) {
	crossing := AreaKm2(model.BBox{179, -1, -179, 1})
	normal := AreaKm2(model.BBox{0, -1, 2, 1})
	if math.Abs(crossing-normal)/normal > 0.01 {
		t.Errorf("dateline area %g != equivalent normal area %g", crossing, normal)
	}
}

func TestOverlap(t *testing.T) {
	requested := model.BBox{0, 0, 2, 2}

	tests := []struct {
		name string
		tile model.BBox
		want float64
	}{
		{"tile fully inside", model.BBox{0.5, 0.5, 1.5, 1.5}, 1.0},
		{"half overlap", model.BBox{1, 0, 3, 2}, 0.5},
		{"no overlap", model.BBox{5, 5, 6, 6}, 0},
		{"tile covers request", model.BBox{-2, -2, 4, 4}, 0.11}, // 4/36 of the tile
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Overlap(tt.tile, requested)
			if math.Abs(got-tt.want) > 0.03 {
				t.Errorf("Overlap = %g, want ~%g", got, tt.want)
			}
		})
	}
}

func TestOverlapDateline(t *testing.T) {
	requested := model.BBox{179, -1, -179, 1} // 2 degrees wide across the antimeridian
	tile := model.BBox{179, -1, 180, 1}       // covers the western half

	got := Overlap(tile, requested)
	if math.Abs(got-1.0) > 0.01 {
		t.Errorf("Overlap = %g, want 1.0 (tile fully inside request)", got)
	}
}

func TestFilterSpatial(t *testing.T) {
	requested := model.BBox{0, 0, 2, 2}
	features := []model.StacFeature{
		{ID: "inside", BBox: model.BBox{0.5, 0.5, 1.5, 1.5}},
		{ID: "sliver", BBox: model.BBox{1.99, 0, 4, 2}},
		{ID: "outside", BBox: model.BBox{10, 10, 11, 11}},
	}

	kept := FilterSpatial(features, &requested, 0.1)
	if len(kept) != 1 || kept[0].ID != "inside" {
		t.Errorf("kept = %v, want only the inside tile", ids(kept))
	}

	// No bbox: everything passes.
	if got := FilterSpatial(features, nil, 0.1); len(got) != 3 {
		t.Errorf("nil bbox filtered to %d features", len(got))
	}
}

func ids(fs []model.StacFeature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}
