// Package registry holds the catalogue of known STAC collections and the
// capability rules the query builder and selector depend on.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownCollection is returned for ids missing from the catalogue.
var ErrUnknownCollection = errors.New("unknown collection")

// Category groups collections by what they measure.
type Category string

const (
	CategoryOptical   Category = "optical"
	CategorySAR       Category = "sar"
	CategoryElevation Category = "elevation"
	CategoryFire      Category = "fire"
	CategoryLandCover Category = "landcover"
	CategoryAerial    Category = "aerial"
)

// Profile describes one collection's capabilities.
type Profile struct {
	ID       string
	Title    string
	Category Category
	Platform string
	Keywords []string

	// ResolutionM is the ground sample distance of the primary asset.
	ResolutionM float64

	// TileAreaKm2 is the typical footprint of one item. Refined at runtime
	// by the collections probe when the API reports a different extent.
	TileAreaKm2 float64

	// Static collections (DEMs, land cover) have no meaningful acquisition
	// time; queries against them must not carry a datetime.
	Static bool

	// Composite collections aggregate a time window per item. They drop the
	// datetime filter and sort by datetime descending instead.
	Composite bool

	// CloudProperty is the STAC property used for cloud filtering, empty if
	// the collection has no cloud metadata (SAR, DEMs).
	CloudProperty string

	// TemporalFactor scales the tile limit by revisit density.
	TemporalFactor float64
}

// CloudFilterable reports whether a cloud threshold may be applied.
func (p Profile) CloudFilterable() bool { return p.CloudProperty != "" }

// AcceptsDatetime reports whether a datetime range may be sent.
func (p Profile) AcceptsDatetime() bool { return !p.Static && !p.Composite }

// SortByRecency reports whether searches should sort by datetime descending.
func (p Profile) SortByRecency() bool { return p.Composite }

// Registry is the thread-safe catalogue. Tile areas may be updated by the
// probe; everything else is immutable after New.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	order    []string
}

// New returns a Registry seeded with the built-in catalogue.
func New() *Registry {
	r := &Registry{profiles: make(map[string]Profile)}
	for _, p := range catalogue {
		r.profiles[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	return r
}

// Get returns the profile for a collection id.
func (r *Registry) Get(id string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, ErrUnknownCollection
	}
	return p, nil
}

// Has reports whether the id is in the catalogue.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.profiles[id]
	return ok
}

// All returns the profiles in catalogue order.
func (r *Registry) All() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// Default returns the collection used when nothing else matches.
func (r *Registry) Default() Profile {
	p, _ := r.Get("sentinel-2-l2a")
	return p
}

// ByCategory returns profiles in the given category, highest resolution first.
func (r *Registry) ByCategory(cat Category) []Profile {
	var out []Profile
	for _, p := range r.All() {
		if p.Category == cat {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ResolutionM < out[j].ResolutionM
	})
	return out
}

// Filter returns profiles passing the predicate, in catalogue order.
func (r *Registry) Filter(keep func(Profile) bool) []Profile {
	var out []Profile
	for _, p := range r.All() {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// SetTileArea updates the tile footprint for a collection; used by the probe.
func (r *Registry) SetTileArea(id string, areaKm2 float64) {
	if areaKm2 <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return
	}
	p.TileAreaKm2 = areaKm2
	r.profiles[id] = p
}

// MatchKeyword returns collection ids whose keywords contain the (lowercased)
// term. Platform names win over use-case keywords, which win over generic
// terms, via catalogue keyword ordering handled by the caller.
func (r *Registry) MatchKeyword(term string) []string {
	term = strings.ToLower(term)
	var ids []string
	for _, p := range r.All() {
		for _, kw := range p.Keywords {
			if kw == term {
				ids = append(ids, p.ID)
				break
			}
		}
	}
	return ids
}

// catalogue mirrors the Planetary Computer collections the pipeline targets.
// Tile areas are nominal scene footprints; the probe refines them.
var catalogue = []Profile{
	{
		ID:             "sentinel-2-l2a",
		Title:          "Sentinel-2 Level-2A",
		Category:       CategoryOptical,
		Platform:       "sentinel-2",
		Keywords:       []string{"sentinel-2", "sentinel2", "optical", "imagery", "true color", "vegetation", "ndvi", "agriculture", "crops"},
		ResolutionM:    10,
		TileAreaKm2:    12100, // 110 km MGRS granule
		CloudProperty:  "eo:cloud_cover",
		TemporalFactor: 8,
	},
	{
		ID:             "landsat-c2-l2",
		Title:          "Landsat Collection 2 Level-2",
		Category:       CategoryOptical,
		Platform:       "landsat",
		Keywords:       []string{"landsat", "optical", "imagery", "thermal", "historical", "change detection"},
		ResolutionM:    30,
		TileAreaKm2:    34225, // 185 km WRS-2 scene
		CloudProperty:  "eo:cloud_cover",
		TemporalFactor: 4,
	},
	{
		ID:             "hls2-s30",
		Title:          "Harmonized Landsat Sentinel-2 (S30)",
		Category:       CategoryOptical,
		Platform:       "hls",
		Keywords:       []string{"hls", "harmonized", "optical", "frequent", "time series"},
		ResolutionM:    30,
		TileAreaKm2:    12100,
		CloudProperty:  "eo:cloud_cover",
		TemporalFactor: 10,
	},
	{
		ID:             "hls2-l30",
		Title:          "Harmonized Landsat Sentinel-2 (L30)",
		Category:       CategoryOptical,
		Platform:       "hls",
		Keywords:       []string{"hls", "harmonized", "optical", "frequent", "time series"},
		ResolutionM:    30,
		TileAreaKm2:    12100,
		CloudProperty:  "eo:cloud_cover",
		TemporalFactor: 10,
	},
	{
		ID:             "naip",
		Title:          "NAIP: National Agriculture Imagery Program",
		Category:       CategoryAerial,
		Platform:       "naip",
		Keywords:       []string{"naip", "aerial", "high resolution", "usa", "agriculture"},
		ResolutionM:    0.6,
		TileAreaKm2:    160, // quarter quad
		TemporalFactor: 1,
	},
	{
		ID:             "sentinel-1-grd",
		Title:          "Sentinel-1 Ground Range Detected",
		Category:       CategorySAR,
		Platform:       "sentinel-1",
		Keywords:       []string{"sentinel-1", "sentinel1", "sar", "radar", "flood", "flooding", "night", "all weather"},
		ResolutionM:    10,
		TileAreaKm2:    62500, // 250 km IW swath
		TemporalFactor: 5,
	},
	{
		ID:             "sentinel-1-rtc",
		Title:          "Sentinel-1 Radiometrically Terrain Corrected",
		Category:       CategorySAR,
		Platform:       "sentinel-1",
		Keywords:       []string{"sentinel-1", "sar", "radar", "backscatter", "terrain corrected"},
		ResolutionM:    10,
		TileAreaKm2:    62500,
		TemporalFactor: 5,
	},
	{
		ID:             "cop-dem-glo-30",
		Title:          "Copernicus DEM GLO-30",
		Category:       CategoryElevation,
		Platform:       "copernicus-dem",
		Keywords:       []string{"dem", "elevation", "terrain", "topography", "height", "relief"},
		ResolutionM:    30,
		TileAreaKm2:    12300, // 1 degree tile at the equator
		Static:         true,
		TemporalFactor: 1,
	},
	{
		ID:             "nasadem",
		Title:          "NASADEM HGT",
		Category:       CategoryElevation,
		Platform:       "nasadem",
		Keywords:       []string{"dem", "elevation", "terrain", "srtm", "topography"},
		ResolutionM:    30,
		TileAreaKm2:    12300,
		Static:         true,
		TemporalFactor: 1,
	},
	{
		ID:             "modis-14A1-061",
		Title:          "MODIS Thermal Anomalies/Fire Daily",
		Category:       CategoryFire,
		Platform:       "modis",
		Keywords:       []string{"modis", "fire", "wildfire", "burn", "thermal", "hotspot"},
		ResolutionM:    1000,
		TileAreaKm2:    1440000, // 1200 km sinusoidal tile
		Composite:      true,
		TemporalFactor: 5,
	},
	{
		ID:             "modis-09A1-061",
		Title:          "MODIS Surface Reflectance 8-Day",
		Category:       CategoryOptical,
		Platform:       "modis",
		Keywords:       []string{"modis", "composite", "surface reflectance", "large area", "continental"},
		ResolutionM:    500,
		TileAreaKm2:    1440000,
		Composite:      true,
		TemporalFactor: 5,
	},
	{
		ID:             "esa-worldcover",
		Title:          "ESA WorldCover",
		Category:       CategoryLandCover,
		Platform:       "esa-worldcover",
		Keywords:       []string{"land cover", "landcover", "classification", "land use"},
		ResolutionM:    10,
		TileAreaKm2:    48400, // 3x3 degree tile
		Static:         true,
		TemporalFactor: 1,
	},
}
