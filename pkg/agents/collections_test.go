package agents

import (
	"context"
	"reflect"
	"testing"
)

func TestMapCollectionsLLMPath(t *testing.T) {
	p := &fakeProvider{json: `{"collections": ["sentinel-1-grd"]}`}
	a := newTestAgents(p)

	got := a.MapCollections(context.Background(), "radar imagery of the delta")
	if !reflect.DeepEqual(got, []string{"sentinel-1-grd"}) {
		t.Errorf("MapCollections = %v", got)
	}
}

func TestMapCollectionsDropsUnknownIDs(t *testing.T) {
	p := &fakeProvider{json: `{"collections": ["sentinel-2-l2a", "made-up-collection"]}`}
	a := newTestAgents(p)

	got := a.MapCollections(context.Background(), "imagery of Rome")
	if !reflect.DeepEqual(got, []string{"sentinel-2-l2a"}) {
		t.Errorf("MapCollections = %v, want unknown id dropped", got)
	}
}

func TestMapCollectionsCapsAtThree(t *testing.T) {
	p := &fakeProvider{json: `{"collections": ["sentinel-2-l2a", "landsat-c2-l2", "hls2-s30", "hls2-l30"]}`}
	a := newTestAgents(p)

	got := a.MapCollections(context.Background(), "everything optical")
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestMapCollectionsAllUnknownFallsBack(t *testing.T) {
	p := &fakeProvider{json: `{"collections": ["nope-1", "nope-2"]}`}
	a := newTestAgents(p)

	got := a.MapCollections(context.Background(), "satellite imagery of Lisbon")
	if !reflect.DeepEqual(got, []string{"sentinel-2-l2a", "landsat-c2-l2"}) {
		t.Errorf("MapCollections = %v, want optical pair", got)
	}
}

func TestKeywordCollections(t *testing.T) {
	a := newTestAgents(&fakeProvider{})

	tests := []struct {
		query string
		want  []string
	}{
		// Platform mentions win.
		{"show SAR data over the coast", []string{"sentinel-1-grd"}},
		{"sentinel-2 over Portugal", []string{"sentinel-2-l2a"}},
		{"landsat thermal change", []string{"landsat-c2-l2"}},
		{"modis fire detections", []string{"modis-14A1-061"}},
		{"modis surface reflectance", []string{"modis-09A1-061"}},
		{"naip photos of Iowa farms", []string{"naip"}},
		{"harmonized time series", []string{"hls2-s30", "hls2-l30"}},
		// Use-case keywords.
		{"elevation map of Nepal", []string{"cop-dem-glo-30", "nasadem"}},
		{"wildfire burn scars", []string{"modis-14A1-061"}},
		{"flooding along the Mississippi", []string{"sentinel-1-grd"}},
		{"land cover of Kenya", []string{"esa-worldcover"}},
		{"crop health in the valley", []string{"sentinel-2-l2a"}},
		{"terrain relief of the Alps", []string{"cop-dem-glo-30", "nasadem"}},
		{"agriculture monitoring", []string{"sentinel-2-l2a", "naip"}},
		{"high resolution view of the stadium", []string{"naip", "sentinel-2-l2a"}},
		// Platform beats use-case when both appear.
		{"landsat imagery of the wildfire", []string{"landsat-c2-l2"}},
		// Generic default.
		{"satellite imagery of Morocco", []string{"sentinel-2-l2a", "landsat-c2-l2"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := a.keywordCollections(tt.query)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("keywordCollections(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}
