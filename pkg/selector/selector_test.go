package selector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"geoquery/pkg/model"
	"geoquery/pkg/registry"
	"geoquery/pkg/tracker"
)

type fakeProvider struct {
	json string
}

func (f *fakeProvider) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProvider) GenerateJSON(_ context.Context, _, _ string, target any) error {
	if f.json == "" {
		return errors.New("provider down")
	}
	return json.Unmarshal([]byte(f.json), target)
}

func (f *fakeProvider) HealthCheck(context.Context) error { return nil }
func (f *fakeProvider) HasProfile(string) bool            { return true }

var testNow = time.Date(2025, 8, 18, 12, 0, 0, 0, time.UTC)

func newTestSelector(p *fakeProvider) *Selector {
	if p == nil {
		p = &fakeProvider{}
	}
	s := New(registry.New(), p, tracker.New())
	s.now = func() time.Time { return testNow }
	return s
}

// tile builds a sentinel-2 feature acquired the given number of days ago.
func tile(id string, daysAgo int, cloud float64, bbox model.BBox) model.StacFeature {
	return model.StacFeature{
		ID:         id,
		Collection: "sentinel-2-l2a",
		BBox:       bbox,
		Properties: map[string]any{
			"datetime":       testNow.AddDate(0, 0, -daysAgo).Format(time.RFC3339),
			"eo:cloud_cover": cloud,
		},
	}
}

func TestSelectEmpty(t *testing.T) {
	s := newTestSelector(nil)
	if got := s.Select(context.Background(), "q", nil, nil); got != nil {
		t.Errorf("Select(nil) = %v", got)
	}
}

func TestBudgetByArea(t *testing.T) {
	s := newTestSelector(nil)

	small := model.BBox{-122.33, 47.58, -122.27, 47.64} // a few km across
	town := model.BBox{-122.5, 47.3, -122.2, 47.6}
	region := model.BBox{-125, 42, -117, 49}

	if got := s.budget(&small); got != 10 {
		t.Errorf("small budget = %d, want 10", got)
	}
	if got := s.budget(&town); got != 20 {
		t.Errorf("town budget = %d, want 20", got)
	}
	if got := s.budget(&region); got != 50 {
		t.Errorf("region budget = %d, want 50", got)
	}
	if got := s.budget(nil); got != 50 {
		t.Errorf("nil budget = %d, want 50", got)
	}
}

func TestFilterResolution(t *testing.T) {
	s := newTestSelector(nil)
	bbox := model.BBox{-122.5, 47.2, -121.9, 47.8}

	features := []model.StacFeature{
		tile("s2", 3, 5, bbox),
		{ID: "landsat", Collection: "landsat-c2-l2", BBox: bbox, Properties: map[string]any{}},
		{ID: "modis", Collection: "modis-09A1-061", BBox: bbox, Properties: map[string]any{}},
	}

	// Best is sentinel-2 at 10m; tolerance 1.2x keeps only <=12m. Landsat
	// (30m) and MODIS (500m) drop.
	kept := s.filterResolution(features)
	if len(kept) != 1 || kept[0].ID != "s2" {
		t.Errorf("kept = %v", featureIDs(kept))
	}
}

func TestFilterResolutionKeepsPeers(t *testing.T) {
	s := newTestSelector(nil)
	bbox := model.BBox{-122.5, 47.2, -121.9, 47.8}

	// Landsat (30m) and HLS (30m) are peers; both stay.
	features := []model.StacFeature{
		{ID: "l1", Collection: "landsat-c2-l2", BBox: bbox, Properties: map[string]any{}},
		{ID: "h1", Collection: "hls2-l30", BBox: bbox, Properties: map[string]any{}},
	}
	if kept := s.filterResolution(features); len(kept) != 2 {
		t.Errorf("kept = %v, want both", featureIDs(kept))
	}
}

func TestFastSelectSingleAcquisitionWindow(t *testing.T) {
	s := newTestSelector(nil)
	bbox := model.BBox{0, 0, 1, 1}

	// Two acquisition hours; the recent one covers as well as the old one.
	features := []model.StacFeature{
		tile("new-a", 2, 5, model.BBox{0, 0, 1, 0.5}),
		tile("new-b", 2, 8, model.BBox{0, 0.5, 1, 1}),
		tile("old-a", 40, 2, model.BBox{0, 0, 1, 0.5}),
		tile("old-b", 40, 2, model.BBox{0, 0.5, 1, 1}),
	}

	got := s.Select(context.Background(), "show the area", features, &bbox)
	if len(got) != 2 {
		t.Fatalf("selected %d tiles, want 2", len(got))
	}
	for _, f := range got {
		if f.ID != "new-a" && f.ID != "new-b" {
			t.Errorf("selected %s from the older acquisition", f.ID)
		}
	}
}

func TestFastSelectPrefersCoverageOverRecency(t *testing.T) {
	s := newTestSelector(nil)
	bbox := model.BBox{0, 0, 1, 1}

	// The most recent pass only clips a corner; an older one covers fully.
	features := []model.StacFeature{
		tile("recent-sliver", 1, 5, model.BBox{0.9, 0.9, 1.5, 1.5}),
		tile("older-full", 20, 5, model.BBox{-0.2, -0.2, 1.2, 1.2}),
	}

	got := s.Select(context.Background(), "show the area", features, &bbox)
	if len(got) != 1 || got[0].ID != "older-full" {
		t.Errorf("selected %v, want the full-coverage acquisition", featureIDs(got))
	}
}

func TestSelectRespectsBudget(t *testing.T) {
	s := newTestSelector(&fakeProvider{}) // LLM down: smart path falls back
	bbox := model.BBox{-122.33, 47.58, -122.27, 47.64}

	var features []model.StacFeature
	for i := 0; i < 30; i++ {
		features = append(features, tile(fmt.Sprintf("t%d", i), 3, float64(i), model.BBox{-122.4, 47.5, -122.2, 47.7}))
	}

	got := s.Select(context.Background(), "show the neighborhood", features, &bbox)
	if len(got) > 10 {
		t.Errorf("selected %d tiles, budget is 10", len(got))
	}
}

func TestSmartSelectValidatedAgainstRules(t *testing.T) {
	// The LLM answers with tiles from two different acquisition hours plus
	// an unknown id; the selector must keep one hour only.
	p := &fakeProvider{json: `{"selected": ["new-a", "old-a", "ghost"]}`}
	s := newTestSelector(p)
	bbox := model.BBox{0, 0, 1, 1}

	features := []model.StacFeature{
		tile("new-a", 2, 5, model.BBox{-0.2, -0.2, 1.2, 1.2}),
		tile("old-a", 40, 2, model.BBox{-0.2, -0.2, 1.2, 1.2}),
	}

	got := s.Select(context.Background(), "best imagery of the area", features, &bbox)
	if len(got) != 1 {
		t.Fatalf("selected %v, want exactly one tile", featureIDs(got))
	}
	if got[0].ID != "new-a" {
		t.Errorf("selected %s, want the recent acquisition", got[0].ID)
	}
}

func TestSmartSelectFallsBackOnLLMFailure(t *testing.T) {
	tr := tracker.New()
	s := New(registry.New(), &fakeProvider{}, tr)
	s.now = func() time.Time { return testNow }
	bbox := model.BBox{0, 0, 1, 1}

	features := []model.StacFeature{
		tile("a", 2, 5, model.BBox{-0.2, -0.2, 1.2, 1.2}),
		tile("b", 2, 50, model.BBox{-0.2, -0.2, 1.2, 1.2}),
	}

	got := s.Select(context.Background(), "best view", features, &bbox)
	if len(got) == 0 {
		t.Fatal("fallback returned nothing")
	}
	if tr.Snapshot().Fallbacks["selection"] != 1 {
		t.Error("selection fallback not tracked")
	}
}

func TestSelectTimelessTiles(t *testing.T) {
	s := newTestSelector(nil)
	bbox := model.BBox{80, 26, 90, 30}

	// DEM tiles carry no datetime; they form one group and survive.
	features := []model.StacFeature{
		{ID: "dem-1", Collection: "cop-dem-glo-30", BBox: model.BBox{80, 26, 85, 30}, Properties: map[string]any{}},
		{ID: "dem-2", Collection: "cop-dem-glo-30", BBox: model.BBox{85, 26, 90, 30}, Properties: map[string]any{}},
	}

	got := s.Select(context.Background(), "elevation of the range", features, &bbox)
	if len(got) != 2 {
		t.Errorf("selected %v, want both DEM tiles", featureIDs(got))
	}
}

func featureIDs(fs []model.StacFeature) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}
