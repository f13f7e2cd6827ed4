package stac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"geoquery/pkg/model"
	"geoquery/pkg/tracker"
)

// Poster is the subset of the request client the STAC client needs.
type Poster interface {
	Post(ctx context.Context, url string, body []byte, contentType string) ([]byte, error)
}

// Client executes STAC searches.
type Client struct {
	rc        Poster
	tracker   *tracker.Tracker
	searchURL string
	timeout   time.Duration
}

// NewClient creates a Client against the search endpoint.
func NewClient(rc Poster, t *tracker.Tracker, searchURL string, timeout time.Duration) *Client {
	return &Client{rc: rc, tracker: t, searchURL: searchURL, timeout: timeout}
}

// featureCollection is the slice of the GeoJSON response we consume.
type featureCollection struct {
	Features []struct {
		ID         string         `json:"id"`
		Collection string         `json:"collection"`
		BBox       model.BBox     `json:"bbox"`
		Properties map[string]any `json:"properties"`
	} `json:"features"`
}

// Search POSTs the query and returns the features in response order.
func (c *Client) Search(ctx context.Context, q Query) ([]model.StacFeature, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal stac query: %w", err)
	}

	slog.Debug("STAC search", "collections", q.Collections, "datetime", q.Datetime, "limit", q.Limit)
	resp, err := c.rc.Post(ctx, c.searchURL, body, "application/json")
	if err != nil {
		return nil, fmt.Errorf("stac search: %w", err)
	}

	var fc featureCollection
	if err := json.Unmarshal(resp, &fc); err != nil {
		return nil, fmt.Errorf("stac response parse: %w", err)
	}

	features := make([]model.StacFeature, 0, len(fc.Features))
	dropped := 0
	for _, f := range fc.Features {
		// Items without a collection or with an out-of-range bbox are
		// unusable downstream; drop them here.
		if f.Collection == "" || f.BBox.Validate() != nil {
			dropped++
			continue
		}
		features = append(features, model.StacFeature{
			ID:         f.ID,
			Collection: f.Collection,
			BBox:       f.BBox,
			Properties: f.Properties,
		})
	}
	if dropped > 0 {
		slog.Warn("STAC search returned malformed features", "dropped", dropped, "kept", len(features))
	}

	if len(features) == 0 {
		c.tracker.TrackAPIZero("stac")
	}
	slog.Debug("STAC search done", "features", len(features))
	return features, nil
}
