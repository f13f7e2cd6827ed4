package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Fetcher is the subset of the request client the probe needs.
type Fetcher interface {
	Get(ctx context.Context, url, cacheKey string) ([]byte, error)
}

// Prober refines catalogue tile sizes from the live collections endpoint.
// A failed probe leaves the baked-in value in place.
type Prober struct {
	registry *Registry
	fetcher  Fetcher
	baseURL  string
}

// NewProber creates a Prober against the collections endpoint.
func NewProber(r *Registry, f Fetcher, collectionsURL string) *Prober {
	return &Prober{registry: r, fetcher: f, baseURL: strings.TrimSuffix(collectionsURL, "/")}
}

// collectionDoc is the slice of a STAC collection document the probe reads.
type collectionDoc struct {
	ID        string `json:"id"`
	Summaries struct {
		GSD       []float64       `json:"gsd"`
		ProjShape json.RawMessage `json:"proj:shape"`
	} `json:"summaries"`
}

// Probe fetches the collection document and updates the tile area when the
// API reports grid shape and resolution.
func (p *Prober) Probe(ctx context.Context, id string) {
	if !p.registry.Has(id) {
		return
	}

	url := fmt.Sprintf("%s/%s", p.baseURL, id)
	body, err := p.fetcher.Get(ctx, url, "stac:collection:"+id)
	if err != nil {
		slog.Debug("Collection probe failed", "collection", id, "error", err)
		return
	}

	var doc collectionDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		slog.Debug("Collection probe parse failed", "collection", id, "error", err)
		return
	}

	area := tileAreaFromSummaries(doc.Summaries.GSD, doc.Summaries.ProjShape)
	if area <= 0 {
		return
	}

	p.registry.SetTileArea(id, area)
	slog.Debug("Collection tile area refined", "collection", id, "area_km2", area)
}

// ProbeAll probes every catalogue entry, best effort.
func (p *Prober) ProbeAll(ctx context.Context) {
	for _, profile := range p.registry.All() {
		if ctx.Err() != nil {
			return
		}
		p.Probe(ctx, profile.ID)
	}
}

// tileAreaFromSummaries derives a tile footprint in km2 from the summaries
// block. proj:shape may be [rows, cols] or a list of such pairs.
func tileAreaFromSummaries(gsd []float64, rawShape json.RawMessage) float64 {
	if len(gsd) == 0 || len(rawShape) == 0 {
		return 0
	}

	res := gsd[0]
	for _, g := range gsd[1:] {
		if g < res {
			res = g
		}
	}
	if res <= 0 {
		return 0
	}

	var shape []float64
	if err := json.Unmarshal(rawShape, &shape); err != nil {
		var shapes [][]float64
		if err := json.Unmarshal(rawShape, &shapes); err != nil || len(shapes) == 0 {
			return 0
		}
		shape = shapes[0]
	}
	if len(shape) < 2 || shape[0] <= 0 || shape[1] <= 0 {
		return 0
	}

	widthKm := shape[1] * res / 1000
	heightKm := shape[0] * res / 1000
	return widthKm * heightKm
}
