package negotiator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"geoquery/pkg/model"
	"geoquery/pkg/registry"
	"geoquery/pkg/selector"
	"geoquery/pkg/stac"
	"geoquery/pkg/tracker"
)

// scriptedPoster returns one canned response per call, repeating the last.
type scriptedPoster struct {
	responses [][]byte
	bodies    [][]byte
}

func (p *scriptedPoster) Post(_ context.Context, _ string, body []byte, _ string) ([]byte, error) {
	p.bodies = append(p.bodies, body)
	i := len(p.bodies) - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	if i < 0 {
		return nil, errors.New("no scripted response")
	}
	return p.responses[i], nil
}

type noLLM struct{}

func (noLLM) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("llm disabled")
}
func (noLLM) GenerateJSON(context.Context, string, string, any) error {
	return errors.New("llm disabled")
}
func (noLLM) HealthCheck(context.Context) error { return nil }
func (noLLM) HasProfile(string) bool            { return false }

func emptyFC() []byte { return []byte(`{"features": []}`) }

func fullFC(ids ...string) []byte {
	var sb strings.Builder
	sb.WriteString(`{"features": [`)
	for i, id := range ids {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"id": %q, "collection": "sentinel-2-l2a", "bbox": [0, 0, 1, 1],
			"properties": {"datetime": "2025-08-10T10:00:00Z", "eo:cloud_cover": 30}}`, id)
	}
	sb.WriteString("]}")
	return []byte(sb.String())
}

func newNegotiator(p *scriptedPoster) *Negotiator {
	reg := registry.New()
	client := stac.NewClient(p, tracker.New(), "https://stac.test/search", time.Second)
	sel := selector.New(reg, noLLM{}, tracker.New())
	return New(client, sel, reg, 0.1)
}

func cloudBuild(threshold float64) stac.BuildOutput {
	bbox := model.BBox{0, 0, 1, 1}
	return stac.BuildOutput{
		Query: stac.Query{
			Collections: []string{"sentinel-2-l2a"},
			BBox:        &bbox,
			Query:       map[string]map[string]float64{"eo:cloud_cover": {"lt": threshold}},
			Limit:       100,
		},
		BBox: &bbox,
		CloudFilter: &model.CloudFilter{
			Property:    "eo:cloud_cover",
			Threshold:   threshold,
			Collections: []string{"sentinel-2-l2a"},
		},
	}
}

func TestNegotiateRelaxesClouds(t *testing.T) {
	p := &scriptedPoster{responses: [][]byte{fullFC("t1", "t2")}}
	n := newNegotiator(p)

	res, err := n.Negotiate(context.Background(), "clear imagery", cloudBuild(10))
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res == nil || len(res.Features) != 2 {
		t.Fatalf("result = %+v", res)
	}

	if res.Record.Original.CloudThreshold == nil || *res.Record.Original.CloudThreshold != 10 {
		t.Errorf("original threshold = %v", res.Record.Original.CloudThreshold)
	}
	if res.Record.Alternative.CloudThreshold == nil || *res.Record.Alternative.CloudThreshold != 35 {
		t.Errorf("alternative threshold = %v", res.Record.Alternative.CloudThreshold)
	}
	if !strings.Contains(res.Record.Explanation, "10%") || !strings.Contains(res.Record.Explanation, "35%") {
		t.Errorf("explanation = %q", res.Record.Explanation)
	}

	// The retried search body must carry the relaxed filter.
	if len(p.bodies) != 1 || !strings.Contains(string(p.bodies[0]), `"lt":35`) {
		t.Errorf("search bodies = %d, last = %s", len(p.bodies), p.bodies[len(p.bodies)-1])
	}
}

func TestNegotiateCloudCeiling(t *testing.T) {
	p := &scriptedPoster{responses: [][]byte{fullFC("t1")}}
	n := newNegotiator(p)

	res, err := n.Negotiate(context.Background(), "q", cloudBuild(80))
	if err != nil {
		t.Fatal(err)
	}
	if *res.Record.Alternative.CloudThreshold != 95 {
		t.Errorf("threshold = %g, want capped at 95", *res.Record.Alternative.CloudThreshold)
	}
}

func TestNegotiateWidensDatetime(t *testing.T) {
	// No cloud filter: the first applicable step is the date window.
	p := &scriptedPoster{responses: [][]byte{fullFC("t1")}}
	n := newNegotiator(p)

	bbox := model.BBox{0, 0, 1, 1}
	dt := model.DatetimeRange{
		Start: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	build := stac.BuildOutput{
		Query: stac.Query{
			Collections: []string{"sentinel-2-l2a"},
			BBox:        &bbox,
			Datetime:    dt.String(),
			Limit:       100,
		},
		BBox:     &bbox,
		Datetime: &dt,
	}

	res, err := n.Negotiate(context.Background(), "q", build)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Record.Alternative.Datetime == nil {
		t.Fatal("no widened datetime recorded")
	}

	got := res.Record.Alternative.Datetime
	window := got.End.Sub(got.Start)
	if window < 57*24*time.Hour || window > 59*24*time.Hour {
		t.Errorf("widened window = %v, want ~58 days (doubled)", window)
	}
	// Midpoint preserved.
	mid := got.Start.Add(window / 2)
	if mid.Format("2006-01-02") != "2025-06-15" {
		t.Errorf("midpoint = %s, want 2025-06-15", mid.Format("2006-01-02"))
	}
}

func TestNegotiateDropsToSingleCollection(t *testing.T) {
	// Clouds and datetime absent: only the collection drop applies.
	p := &scriptedPoster{responses: [][]byte{fullFC("t1")}}
	n := newNegotiator(p)

	bbox := model.BBox{0, 0, 1, 1}
	build := stac.BuildOutput{
		Query: stac.Query{
			Collections: []string{"sentinel-1-grd", "sentinel-2-l2a"},
			BBox:        &bbox,
			Limit:       100,
		},
		BBox: &bbox,
	}

	res, err := n.Negotiate(context.Background(), "q", build)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("expected a result")
	}
	got := res.Record.Alternative.Collections
	if len(got) != 1 || got[0] != "sentinel-2-l2a" {
		t.Errorf("collections = %v, want the optical one kept", got)
	}
}

func TestNegotiateCumulative(t *testing.T) {
	// First relaxation still empty; the second must keep the raised clouds.
	p := &scriptedPoster{responses: [][]byte{emptyFC(), fullFC("t1")}}
	n := newNegotiator(p)

	build := cloudBuild(10)
	dt := model.DatetimeRange{
		Start: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC),
	}
	build.Datetime = &dt
	build.Query.Datetime = dt.String()

	res, err := n.Negotiate(context.Background(), "q", build)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("expected a result")
	}
	if *res.Record.Alternative.CloudThreshold != 35 {
		t.Errorf("cloud threshold = %g, want raised value kept", *res.Record.Alternative.CloudThreshold)
	}
	if res.Record.Alternative.Datetime == nil {
		t.Error("datetime widening lost")
	}
	if !strings.Contains(res.Record.Explanation, "cloud-cover") || !strings.Contains(res.Record.Explanation, "date range") {
		t.Errorf("explanation = %q, want both steps mentioned", res.Record.Explanation)
	}

	// Second search body carries both relaxations.
	last := string(p.bodies[len(p.bodies)-1])
	if !strings.Contains(last, `"lt":35`) || !strings.Contains(last, "datetime") {
		t.Errorf("final body = %s", last)
	}
}

func TestNegotiateExhausted(t *testing.T) {
	p := &scriptedPoster{responses: [][]byte{emptyFC()}}
	n := newNegotiator(p)

	res, err := n.Negotiate(context.Background(), "q", cloudBuild(10))
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil when every step is empty", res)
	}
}

func TestNegotiateNothingToRelax(t *testing.T) {
	p := &scriptedPoster{}
	n := newNegotiator(p)

	bbox := model.BBox{0, 0, 1, 1}
	build := stac.BuildOutput{
		Query: stac.Query{Collections: []string{"sentinel-2-l2a"}, BBox: &bbox, Limit: 100},
		BBox:  &bbox,
	}

	res, err := n.Negotiate(context.Background(), "q", build)
	if err != nil {
		t.Fatal(err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil with no applicable steps", res)
	}
	if len(p.bodies) != 0 {
		t.Errorf("search ran %d times, want 0", len(p.bodies))
	}
}
