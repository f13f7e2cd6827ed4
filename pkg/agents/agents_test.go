package agents

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"geoquery/pkg/config"
	"geoquery/pkg/registry"
	"geoquery/pkg/tracker"
)

// fakeProvider returns canned JSON, or fails when json is empty.
type fakeProvider struct {
	json  string
	err   error
	calls int
}

func (f *fakeProvider) GenerateText(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeProvider) GenerateJSON(_ context.Context, _, _ string, target any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if f.json == "" {
		return errors.New("provider down")
	}
	return json.Unmarshal([]byte(f.json), target)
}

func (f *fakeProvider) HealthCheck(context.Context) error { return nil }
func (f *fakeProvider) HasProfile(string) bool            { return true }

func newTestAgents(p *fakeProvider) *Agents {
	cfg := config.PipelineConfig{
		IntentTimeout: config.Duration(time.Second),
		AgentTimeout:  config.Duration(time.Second),
	}
	a := New(p, registry.New(), tracker.New(), cfg)
	// Fixed clock: Monday 2025-08-18.
	a.now = func() time.Time { return time.Date(2025, 8, 18, 14, 30, 0, 0, time.UTC) }
	return a
}
