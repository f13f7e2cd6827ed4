package registry

import (
	"context"
	"errors"
	"testing"
)

type fakeFetcher struct {
	responses map[string][]byte
	calls     []string
}

func (f *fakeFetcher) Get(_ context.Context, url, _ string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if body, ok := f.responses[url]; ok {
		return body, nil
	}
	return nil, errors.New("not found")
}

func TestProbeRefinesTileArea(t *testing.T) {
	r := New()
	f := &fakeFetcher{responses: map[string][]byte{
		"https://example.com/collections/sentinel-2-l2a": []byte(`{
			"id": "sentinel-2-l2a",
			"summaries": {"gsd": [10, 20, 60], "proj:shape": [[10980, 10980]]}
		}`),
	}}

	p := NewProber(r, f, "https://example.com/collections/")
	p.Probe(context.Background(), "sentinel-2-l2a")

	prof, _ := r.Get("sentinel-2-l2a")
	// 10980 px at 10 m -> 109.8 km per side.
	want := 109.8 * 109.8
	if prof.TileAreaKm2 < want-1 || prof.TileAreaKm2 > want+1 {
		t.Errorf("TileAreaKm2 = %g, want ~%g", prof.TileAreaKm2, want)
	}
}

func TestProbeKeepsBakedValueOnFailure(t *testing.T) {
	r := New()
	before, _ := r.Get("landsat-c2-l2")

	p := NewProber(r, &fakeFetcher{}, "https://example.com/collections")
	p.Probe(context.Background(), "landsat-c2-l2")

	after, _ := r.Get("landsat-c2-l2")
	if after.TileAreaKm2 != before.TileAreaKm2 {
		t.Errorf("TileAreaKm2 changed on failed probe: %g -> %g", before.TileAreaKm2, after.TileAreaKm2)
	}
}

func TestProbeSkipsUnknownCollections(t *testing.T) {
	f := &fakeFetcher{}
	p := NewProber(New(), f, "https://example.com/collections")
	p.Probe(context.Background(), "not-in-catalogue")

	if len(f.calls) != 0 {
		t.Errorf("probe fetched for unknown collection: %v", f.calls)
	}
}

func TestTileAreaFromSummaries(t *testing.T) {
	tests := []struct {
		name  string
		gsd   []float64
		shape string
		want  float64
	}{
		{"flat pair", []float64{30}, `[3660, 3660]`, 3660 * 0.03 * 3660 * 0.03},
		{"nested pairs", []float64{10, 20}, `[[10980, 10980]]`, 109.8 * 109.8},
		{"no gsd", nil, `[100, 100]`, 0},
		{"no shape", []float64{10}, ``, 0},
		{"bad shape", []float64{10}, `"wide"`, 0},
		{"zero gsd", []float64{0}, `[100, 100]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tileAreaFromSummaries(tt.gsd, []byte(tt.shape))
			if diff := got - tt.want; diff > 0.01 || diff < -0.01 {
				t.Errorf("tileAreaFromSummaries = %g, want %g", got, tt.want)
			}
		})
	}
}
