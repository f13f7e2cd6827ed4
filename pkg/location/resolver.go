// Package location turns place names and map pins into bounding boxes, using
// a static region table, a chain of geocoders, and an LLM as the last resort.
package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"

	h3 "github.com/uber/h3-go/v4"

	"geoquery/pkg/cache"
	"geoquery/pkg/config"
	"geoquery/pkg/llm"
	"geoquery/pkg/model"
)

// pinCellResolution is the H3 resolution used to snap pins for cache keys.
// Res 7 cells are ~5 km across, so nearby pins share a cache entry.
const pinCellResolution = 7

// Fetcher is the subset of the request client the resolver needs.
type Fetcher interface {
	Get(ctx context.Context, url, cacheKey string) ([]byte, error)
}

// Resolver resolves place names to bounding boxes.
type Resolver struct {
	rc        Fetcher
	llm       llm.Provider
	cache     cache.Cacher
	cfg       config.GeocoderConfig
	pinRadius config.Distance
}

// NewResolver creates a Resolver.
func NewResolver(rc Fetcher, provider llm.Provider, c cache.Cacher, cfg config.GeocoderConfig, pinRadius config.Distance) *Resolver {
	return &Resolver{rc: rc, llm: provider, cache: c, cfg: cfg, pinRadius: pinRadius}
}

// Resolve turns a place name into a bounding box. Backends are tried in
// order until one returns a valid box; results are cached.
func (r *Resolver) Resolve(ctx context.Context, place string) (model.BBox, error) {
	place = strings.TrimSpace(place)
	if place == "" {
		return model.BBox{}, fmt.Errorf("empty place name")
	}

	if bbox, ok := lookupRegion(place); ok {
		return bbox, nil
	}

	key := "loc:" + strings.ToLower(place)
	if data, hit := r.cache.GetCache(ctx, key); hit {
		var bbox model.BBox
		if err := json.Unmarshal(data, &bbox); err == nil {
			return bbox, nil
		}
	}

	if total := r.cfg.TotalTimeout.Std(); total > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, total)
		defer cancel()
	}

	backends := []struct {
		name string
		fn   func(context.Context, string) (model.BBox, error)
	}{
		{"nominatim", r.nominatim},
		{"photon", r.photon},
		{"opencage", r.opencage},
		{"llm", r.llmFallback},
	}

	var lastErr error
	for _, b := range backends {
		if b.name == "opencage" && r.cfg.OpenCageKey == "" {
			continue
		}
		if ctx.Err() != nil {
			return model.BBox{}, ctx.Err()
		}

		bbox, err := r.resolveWith(ctx, b.fn, place)
		if err != nil {
			slog.Debug("Geocoder backend failed", "backend", b.name, "place", place, "error", err)
			lastErr = err
			continue
		}
		if err := bbox.Validate(); err != nil {
			slog.Warn("Geocoder returned invalid bbox", "backend", b.name, "place", place, "error", err)
			lastErr = err
			continue
		}

		if data, mErr := json.Marshal(bbox); mErr == nil {
			_ = r.cache.SetCache(ctx, key, data)
		}
		return bbox, nil
	}

	return model.BBox{}, fmt.Errorf("could not resolve %q: %w", place, lastErr)
}

// resolveWith runs one backend under its own timeout.
func (r *Resolver) resolveWith(ctx context.Context, fn func(context.Context, string) (model.BBox, error), place string) (model.BBox, error) {
	if per := r.cfg.BackendTimeout.Std(); per > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, per)
		defer cancel()
	}
	return fn(ctx, place)
}

// PinBBox returns a search box around a dropped pin, sized by the configured
// radius. Boxes are cached per H3 cell, so pins dropped within the same cell
// reuse one box and follow-up turns keep a stable viewport.
func (r *Resolver) PinBBox(pin model.Pin) model.BBox {
	key := PinCacheKey(pin)
	if data, hit := r.cache.GetCache(context.Background(), key); hit {
		var bbox model.BBox
		if err := json.Unmarshal(data, &bbox); err == nil {
			return bbox
		}
	}

	radiusKm := r.pinRadius.Kilometers()
	if radiusKm <= 0 {
		radiusKm = 8
	}

	dLat := radiusKm / 110.574
	dLng := radiusKm / (111.320 * math.Cos(pin.Lat*math.Pi/180))

	bbox := clampBBox(model.BBox{pin.Lng - dLng, pin.Lat - dLat, pin.Lng + dLng, pin.Lat + dLat})
	if data, err := json.Marshal(bbox); err == nil {
		_ = r.cache.SetCache(context.Background(), key, data)
	}
	return bbox
}

// PinCacheKey snaps a pin to its H3 cell so nearby pins share cache entries.
func PinCacheKey(pin model.Pin) string {
	cell, err := h3.LatLngToCell(h3.NewLatLng(pin.Lat, pin.Lng), pinCellResolution)
	if err != nil {
		return fmt.Sprintf("pin:%.4f:%.4f", pin.Lat, pin.Lng)
	}
	return "pin:" + cell.String()
}

func clampBBox(b model.BBox) model.BBox {
	if b[1] < -90 {
		b[1] = -90
	}
	if b[3] > 90 {
		b[3] = 90
	}
	for _, i := range []int{0, 2} {
		if b[i] < -180 {
			b[i] += 360
		}
		if b[i] > 180 {
			b[i] -= 360
		}
	}
	return b
}

// nominatim queries the OSM Nominatim search endpoint.
func (r *Resolver) nominatim(ctx context.Context, place string) (model.BBox, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")

	body, err := r.rc.Get(ctx, r.cfg.NominatimURL+"?"+q.Encode(), "")
	if err != nil {
		return model.BBox{}, err
	}

	var results []struct {
		BoundingBox []string `json:"boundingbox"` // [south, north, west, east]
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return model.BBox{}, fmt.Errorf("nominatim parse: %w", err)
	}
	if len(results) == 0 || len(results[0].BoundingBox) != 4 {
		return model.BBox{}, fmt.Errorf("nominatim: no results")
	}

	vals := make([]float64, 4)
	for i, s := range results[0].BoundingBox {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.BBox{}, fmt.Errorf("nominatim bbox value: %w", err)
		}
		vals[i] = v
	}
	return model.BBox{vals[2], vals[0], vals[3], vals[1]}, nil
}

// photon queries the Komoot Photon endpoint.
func (r *Resolver) photon(ctx context.Context, place string) (model.BBox, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("limit", "1")

	body, err := r.rc.Get(ctx, r.cfg.PhotonURL+"?"+q.Encode(), "")
	if err != nil {
		return model.BBox{}, err
	}

	var doc struct {
		Features []struct {
			Properties struct {
				Extent []float64 `json:"extent"` // [west, north, east, south]
			} `json:"properties"`
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.BBox{}, fmt.Errorf("photon parse: %w", err)
	}
	if len(doc.Features) == 0 {
		return model.BBox{}, fmt.Errorf("photon: no results")
	}

	f := doc.Features[0]
	if len(f.Properties.Extent) == 4 {
		e := f.Properties.Extent
		return model.BBox{e[0], e[3], e[2], e[1]}, nil
	}

	// Point-only result: build a small box around the coordinate.
	if len(f.Geometry.Coordinates) == 2 {
		return r.PinBBox(model.Pin{Lat: f.Geometry.Coordinates[1], Lng: f.Geometry.Coordinates[0]}), nil
	}
	return model.BBox{}, fmt.Errorf("photon: result has no extent")
}

// opencage queries the OpenCage geocoding API.
func (r *Resolver) opencage(ctx context.Context, place string) (model.BBox, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("key", r.cfg.OpenCageKey)
	q.Set("limit", "1")
	q.Set("no_annotations", "1")

	body, err := r.rc.Get(ctx, "https://api.opencagedata.com/geocode/v1/json?"+q.Encode(), "")
	if err != nil {
		return model.BBox{}, err
	}

	var doc struct {
		Results []struct {
			Bounds *struct {
				Northeast struct{ Lat, Lng float64 } `json:"northeast"`
				Southwest struct{ Lat, Lng float64 } `json:"southwest"`
			} `json:"bounds"`
			Geometry struct{ Lat, Lng float64 } `json:"geometry"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return model.BBox{}, fmt.Errorf("opencage parse: %w", err)
	}
	if len(doc.Results) == 0 {
		return model.BBox{}, fmt.Errorf("opencage: no results")
	}

	res := doc.Results[0]
	if res.Bounds != nil {
		return model.BBox{res.Bounds.Southwest.Lng, res.Bounds.Southwest.Lat, res.Bounds.Northeast.Lng, res.Bounds.Northeast.Lat}, nil
	}
	return r.PinBBox(model.Pin{Lat: res.Geometry.Lat, Lng: res.Geometry.Lng}), nil
}

// llmFallback asks the LLM for an approximate box when every geocoder came
// up empty. Good enough for informal names geocoders don't know.
func (r *Resolver) llmFallback(ctx context.Context, place string) (model.BBox, error) {
	prompt := fmt.Sprintf(`Return the approximate geographic bounding box for the place or region %q.

Respond with JSON: {"bbox": [west, south, east, north]} using decimal degrees (WGS84).
If the place does not exist, respond with {"bbox": null}.`, place)

	var out struct {
		BBox *model.BBox `json:"bbox"`
	}
	if err := llm.GenerateJSONRetry(ctx, r.llm, "location", prompt, &out); err != nil {
		return model.BBox{}, err
	}
	if out.BBox == nil {
		return model.BBox{}, fmt.Errorf("llm: unknown place %q", place)
	}
	return *out.BBox, nil
}
