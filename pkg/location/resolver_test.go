package location

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"geoquery/pkg/cache"
	"geoquery/pkg/config"
	"geoquery/pkg/model"
)

type fakeFetcher struct {
	responses map[string][]byte // matched by URL substring
	calls     []string
}

func (f *fakeFetcher) Get(_ context.Context, u, _ string) ([]byte, error) {
	f.calls = append(f.calls, u)
	for sub, body := range f.responses {
		if strings.Contains(u, sub) {
			return body, nil
		}
	}
	return nil, errors.New("backend down")
}

type fakeLLM struct {
	jsonFn func(prompt string, target any) error
}

func (f *fakeLLM) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeLLM) GenerateJSON(_ context.Context, _, prompt string, target any) error {
	if f.jsonFn == nil {
		return errors.New("llm down")
	}
	return f.jsonFn(prompt, target)
}

func (f *fakeLLM) HealthCheck(context.Context) error { return nil }
func (f *fakeLLM) HasProfile(string) bool            { return true }

func testConfig() config.GeocoderConfig {
	return config.GeocoderConfig{
		NominatimURL:   "https://nominatim.test/search",
		PhotonURL:      "https://photon.test/api",
		BackendTimeout: config.Duration(time.Second),
		TotalTimeout:   config.Duration(5 * time.Second),
	}
}

func newTestResolver(f *fakeFetcher, l *fakeLLM) *Resolver {
	if l == nil {
		l = &fakeLLM{}
	}
	c := cache.NewMemory(time.Hour, 100)
	return NewResolver(f, l, c, testConfig(), config.Distance(8000))
}

func TestResolveRegionTable(t *testing.T) {
	f := &fakeFetcher{}
	r := newTestResolver(f, nil)

	bbox, err := r.Resolve(context.Background(), "Europe")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if bbox != (model.BBox{-10.5, 35.0, 40.0, 71.0}) {
		t.Errorf("bbox = %v", bbox)
	}
	if len(f.calls) != 0 {
		t.Errorf("region lookup should not hit geocoders: %v", f.calls)
	}
}

func TestResolveRegionCrossesDateline(t *testing.T) {
	r := newTestResolver(&fakeFetcher{}, nil)

	bbox, err := r.Resolve(context.Background(), "fiji")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !bbox.CrossesDateline() {
		t.Errorf("fiji bbox should cross the antimeridian: %v", bbox)
	}
}

func TestResolveNominatim(t *testing.T) {
	f := &fakeFetcher{responses: map[string][]byte{
		"nominatim.test": []byte(`[{"boundingbox": ["48.1", "48.9", "2.2", "2.5"]}]`),
	}}
	r := newTestResolver(f, nil)

	bbox, err := r.Resolve(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := model.BBox{2.2, 48.1, 2.5, 48.9}
	if bbox != want {
		t.Errorf("bbox = %v, want %v", bbox, want)
	}
}

func TestResolveFallsThroughToPhoton(t *testing.T) {
	// Nominatim returns nothing; photon has an extent.
	f := &fakeFetcher{responses: map[string][]byte{
		"nominatim.test": []byte(`[]`),
		"photon.test":    []byte(`{"features": [{"properties": {"extent": [5.9, 47.8, 10.5, 45.8]}}]}`),
	}}
	r := newTestResolver(f, nil)

	bbox, err := r.Resolve(context.Background(), "Switzerland")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := model.BBox{5.9, 45.8, 10.5, 47.8}
	if bbox != want {
		t.Errorf("bbox = %v, want %v", bbox, want)
	}
}

func TestResolvePhotonPointResult(t *testing.T) {
	f := &fakeFetcher{responses: map[string][]byte{
		"nominatim.test": []byte(`[]`),
		"photon.test":    []byte(`{"features": [{"properties": {}, "geometry": {"coordinates": [11.57, 48.14]}}]}`),
	}}
	r := newTestResolver(f, nil)

	bbox, err := r.Resolve(context.Background(), "Marienplatz")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	center := bbox.Center()
	if math.Abs(center[0]-11.57) > 0.01 || math.Abs(center[1]-48.14) > 0.01 {
		t.Errorf("point bbox center = %v, want near [11.57 48.14]", center)
	}
}

func TestResolveLLMLastResort(t *testing.T) {
	f := &fakeFetcher{} // all geocoders down
	l := &fakeLLM{jsonFn: func(_ string, target any) error {
		return json.Unmarshal([]byte(`{"bbox": [-80, 25, -79, 26]}`), target)
	}}
	r := newTestResolver(f, l)

	bbox, err := r.Resolve(context.Background(), "the bermuda shallows")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if bbox != (model.BBox{-80, 25, -79, 26}) {
		t.Errorf("bbox = %v", bbox)
	}
}

func TestResolveUnknownPlaceFails(t *testing.T) {
	r := newTestResolver(&fakeFetcher{}, &fakeLLM{jsonFn: func(_ string, target any) error {
		return nil // bbox stays nil
	}})

	if _, err := r.Resolve(context.Background(), "xyzzy nowhere"); err == nil {
		t.Fatal("expected resolution failure")
	}
}

func TestResolveCachesResults(t *testing.T) {
	f := &fakeFetcher{responses: map[string][]byte{
		"nominatim.test": []byte(`[{"boundingbox": ["48.1", "48.9", "2.2", "2.5"]}]`),
	}}
	r := newTestResolver(f, nil)

	if _, err := r.Resolve(context.Background(), "Paris"); err != nil {
		t.Fatal(err)
	}
	calls := len(f.calls)
	if _, err := r.Resolve(context.Background(), "paris"); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != calls {
		t.Errorf("second resolve hit the network: %d -> %d calls", calls, len(f.calls))
	}
}

func TestResolveEmptyPlace(t *testing.T) {
	r := newTestResolver(&fakeFetcher{}, nil)
	if _, err := r.Resolve(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty place")
	}
}

func TestPinBBox(t *testing.T) {
	r := newTestResolver(&fakeFetcher{}, nil)
	pin := model.Pin{Lat: 48.0, Lng: 11.5}

	bbox := r.PinBBox(pin)
	if err := bbox.Validate(); err != nil {
		t.Fatalf("invalid pin bbox: %v", err)
	}
	center := bbox.Center()
	if math.Abs(center[0]-11.5) > 0.001 || math.Abs(center[1]-48.0) > 0.001 {
		t.Errorf("center = %v, want pin location", center)
	}
	// 8 km radius: about 0.072 degrees of latitude either side.
	halfLat := (bbox.North() - bbox.South()) / 2
	if math.Abs(halfLat-8.0/110.574) > 0.001 {
		t.Errorf("latitude half-extent = %g", halfLat)
	}
}

func TestPinBBoxClampsAtPoles(t *testing.T) {
	r := newTestResolver(&fakeFetcher{}, nil)
	bbox := r.PinBBox(model.Pin{Lat: 89.99, Lng: 0})
	if bbox.North() > 90 {
		t.Errorf("north = %g, want clamped to 90", bbox.North())
	}
}

func TestPinBBoxSameCellSharesBox(t *testing.T) {
	r := newTestResolver(&fakeFetcher{}, nil)

	a := r.PinBBox(model.Pin{Lat: 48.1000, Lng: 11.5000})
	b := r.PinBBox(model.Pin{Lat: 48.1001, Lng: 11.5001})
	if a != b {
		t.Errorf("pins in the same cell got different boxes: %v vs %v", a, b)
	}

	far := r.PinBBox(model.Pin{Lat: 50.0, Lng: 12.0})
	if a == far {
		t.Error("distant pin reused the cached box")
	}
}

func TestPinCacheKeyStable(t *testing.T) {
	a := PinCacheKey(model.Pin{Lat: 48.1000, Lng: 11.5000})
	b := PinCacheKey(model.Pin{Lat: 48.1001, Lng: 11.5001})
	if a != b {
		t.Errorf("nearby pins should share a cache key: %q vs %q", a, b)
	}

	far := PinCacheKey(model.Pin{Lat: 50.0, Lng: 12.0})
	if a == far {
		t.Error("distant pins should not share a cache key")
	}
}

func TestLookupRegion(t *testing.T) {
	if _, ok := lookupRegion("  Sahara "); !ok {
		t.Error("expected sahara to be a known region")
	}
	if _, ok := lookupRegion("smallville"); ok {
		t.Error("unexpected region match")
	}
}
