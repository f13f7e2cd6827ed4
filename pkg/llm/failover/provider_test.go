package failover

import (
	"context"
	"errors"
	"testing"

	"geoquery/pkg/llm"
)

type stubProvider struct {
	text     string
	err      error
	calls    int
	profiles map[string]bool
}

func (s *stubProvider) GenerateText(context.Context, string, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func (s *stubProvider) GenerateJSON(context.Context, string, string, any) error {
	s.calls++
	return s.err
}

func (s *stubProvider) HealthCheck(context.Context) error { return s.err }

func (s *stubProvider) HasProfile(name string) bool {
	if s.profiles == nil {
		return true
	}
	return s.profiles[name]
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, nil, ""); err == nil {
		t.Error("expected error for empty chain")
	}
	if _, err := New([]llm.Provider{&stubProvider{}}, []string{"a", "b"}, ""); err == nil {
		t.Error("expected error for name/provider count mismatch")
	}
}

func TestPrimaryServesWhenHealthy(t *testing.T) {
	primary := &stubProvider{text: "from primary"}
	backup := &stubProvider{text: "from backup"}
	f, err := New([]llm.Provider{primary, backup}, []string{"gemini", "openai"}, "")
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.GenerateText(context.Background(), "compose", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if got != "from primary" {
		t.Errorf("got %q", got)
	}
	if backup.calls != 0 {
		t.Error("backup was called while primary is healthy")
	}
}

func TestFailsOverOnRetryableError(t *testing.T) {
	primary := &stubProvider{err: errors.New("500 internal")}
	backup := &stubProvider{text: "from backup"}
	f, _ := New([]llm.Provider{primary, backup}, []string{"gemini", "openai"}, "")

	got, err := f.GenerateText(context.Background(), "compose", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if got != "from backup" {
		t.Errorf("got %q", got)
	}

	// A retryable failure does not disable the primary; it stays in the
	// chain for the next call (subject to backoff skipping).
	if primary.calls != 1 {
		t.Errorf("primary calls = %d", primary.calls)
	}
}

func TestFatalErrorDisablesProvider(t *testing.T) {
	primary := &stubProvider{err: errors.New("401 unauthorized")}
	backup := &stubProvider{text: "ok"}
	f, _ := New([]llm.Provider{primary, backup}, []string{"gemini", "openai"}, "")

	if _, err := f.GenerateText(context.Background(), "compose", "hi"); err != nil {
		t.Fatal(err)
	}
	// Second call must skip the disabled primary entirely.
	if _, err := f.GenerateText(context.Background(), "compose", "hi"); err != nil {
		t.Fatal(err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1 (disabled after fatal error)", primary.calls)
	}
	if backup.calls != 2 {
		t.Errorf("backup calls = %d", backup.calls)
	}
}

func TestProfileRouting(t *testing.T) {
	// Primary lacks the "vision" profile; backup carries it.
	primary := &stubProvider{text: "primary", profiles: map[string]bool{"compose": true}}
	backup := &stubProvider{text: "backup", profiles: map[string]bool{"vision": true}}
	f, _ := New([]llm.Provider{primary, backup}, []string{"gemini", "openai"}, "")

	got, err := f.GenerateText(context.Background(), "vision", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if got != "backup" {
		t.Errorf("got %q", got)
	}

	if _, err := f.GenerateText(context.Background(), "selection", "hi"); err == nil {
		t.Error("expected error for a profile no provider supports")
	}
}

func TestHasProfileUnion(t *testing.T) {
	a := &stubProvider{profiles: map[string]bool{"compose": true}}
	b := &stubProvider{profiles: map[string]bool{"vision": true}}
	f, _ := New([]llm.Provider{a, b}, []string{"a", "b"}, "")

	if !f.HasProfile("compose") || !f.HasProfile("vision") {
		t.Error("union of profiles incomplete")
	}
	if f.HasProfile("selection") {
		t.Error("phantom profile reported")
	}
}

func TestHealthCheckAnyHealthy(t *testing.T) {
	sick := &stubProvider{err: errors.New("down")}
	healthy := &stubProvider{}
	f, _ := New([]llm.Provider{sick, healthy}, []string{"a", "b"}, "")

	if err := f.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck = %v, want nil with one healthy provider", err)
	}

	allSick, _ := New([]llm.Provider{sick}, []string{"a"}, "")
	if err := allSick.HealthCheck(context.Background()); err == nil {
		t.Error("expected error with every provider down")
	}
}

func TestIsUnrecoverable(t *testing.T) {
	tests := []struct {
		err  string
		want bool
	}{
		{"401 unauthorized", true},
		{"403 forbidden", true},
		{"invalid_api_key", true},
		{"context deadline exceeded", true},
		{"429 too many requests", false},
		{"500 internal server error", false},
		{"connection refused", false},
	}
	for _, tt := range tests {
		if got := isUnrecoverable(errors.New(tt.err)); got != tt.want {
			t.Errorf("isUnrecoverable(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if isUnrecoverable(nil) {
		t.Error("nil error flagged unrecoverable")
	}
}
