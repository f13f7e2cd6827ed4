// Package failover chains multiple llm.Providers with circuit breaking and
// per-profile backoff.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"geoquery/pkg/llm"
)

// Provider routes each call through an ordered chain of backends. A backend
// that fails with a key or auth error is disabled for the rest of the
// session; transient failures push the backend into a skip-N backoff per
// profile.
type Provider struct {
	providers []llm.Provider
	names     []string
	disabled  map[int]bool
	backoffs  map[string]*backoffState // key: provider:profile
	logPath   string
	mu        sync.RWMutex
}

// backoffState skips as many requests as the backend has failed in a row.
type backoffState struct {
	subsequentFailures int
	skippedRequests    int
}

// New creates the chain. Order matters: earlier providers are preferred.
func New(providers []llm.Provider, names []string, logPath string) (*Provider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider required for failover")
	}
	if len(providers) != len(names) {
		return nil, fmt.Errorf("provider count (%d) does not match name count (%d)", len(providers), len(names))
	}

	return &Provider{
		providers: providers,
		names:     names,
		disabled:  make(map[int]bool),
		backoffs:  make(map[string]*backoffState),
		logPath:   logPath,
	}, nil
}

// GenerateText implements llm.Provider.
func (f *Provider) GenerateText(ctx context.Context, name, prompt string) (string, error) {
	res, err := f.execute(ctx, name, prompt, func(p llm.Provider) (any, error) {
		return p.GenerateText(ctx, name, prompt)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// GenerateJSON implements llm.Provider.
func (f *Provider) GenerateJSON(ctx context.Context, name, prompt string, target any) error {
	_, err := f.execute(ctx, name, prompt, func(p llm.Provider) (any, error) {
		if err := p.GenerateJSON(ctx, name, prompt, target); err != nil {
			return nil, err
		}
		return target, nil
	})
	return err
}

// HasProfile reports whether any backend in the chain serves the profile.
func (f *Provider) HasProfile(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.providers {
		if p.HasProfile(name) {
			return true
		}
	}
	return false
}

// HealthCheck succeeds when at least one enabled backend is reachable.
func (f *Provider) HealthCheck(ctx context.Context) error {
	f.mu.RLock()
	providers := f.providers
	names := f.names
	disabled := make(map[int]bool, len(f.disabled))
	for k, v := range f.disabled {
		disabled[k] = v
	}
	f.mu.RUnlock()

	var failures []string
	for i, p := range providers {
		if disabled[i] {
			continue
		}
		if err := p.HealthCheck(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", names[i], err))
			continue
		}
		return nil
	}

	if len(failures) == 0 {
		return fmt.Errorf("no providers available in failover chain")
	}
	return fmt.Errorf("all LLM providers failed health check: %s", strings.Join(failures, "; "))
}

type candidate struct {
	index int
	p     llm.Provider
	name  string
}

// candidatesFor filters the chain down to enabled backends that serve the
// profile, in chain order.
func (f *Provider) candidatesFor(profile string) []candidate {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []candidate
	for i, p := range f.providers {
		if f.disabled[i] {
			continue
		}
		if !p.HasProfile(profile) {
			continue
		}
		out = append(out, candidate{index: i, p: p, name: f.names[i]})
	}
	return out
}

// inBackoff consumes one skip from the backend's backoff window if it has
// any left.
func (f *Provider) inBackoff(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	bs, ok := f.backoffs[key]
	if !ok || bs.skippedRequests >= bs.subsequentFailures {
		return false
	}
	bs.skippedRequests++
	return true
}

func (f *Provider) clearBackoff(key string) {
	f.mu.Lock()
	delete(f.backoffs, key)
	f.mu.Unlock()
}

func (f *Provider) bumpBackoff(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	bs, ok := f.backoffs[key]
	if !ok {
		bs = &backoffState{}
		f.backoffs[key] = bs
	}
	bs.subsequentFailures++
	bs.skippedRequests = 0
	return bs.subsequentFailures
}

// execute walks the candidate chain until one backend answers.
func (f *Provider) execute(ctx context.Context, profile, prompt string, fn func(llm.Provider) (any, error)) (any, error) {
	candidates := f.candidatesFor(profile)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no active provider supports profile %q", profile)
	}

	for idx, c := range candidates {
		key := c.name + ":" + profile
		if f.inBackoff(key) {
			slog.Debug("LLM provider in backoff, skipping", "provider", c.name, "profile", profile)
			continue
		}

		res, err := fn(c.p)
		if err == nil {
			f.clearBackoff(key)
			f.logRequest(c.name, profile, prompt, fmt.Sprintf("%v", res), nil)
			return res, nil
		}
		f.logRequest(c.name, profile, prompt, "", err)

		last := idx == len(candidates)-1
		if isUnrecoverable(err) {
			if last {
				return nil, err
			}
			slog.Warn("LLM provider fatal error, disabling for the session", "provider", c.name, "error", err)
			f.mu.Lock()
			f.disabled[c.index] = true
			f.mu.Unlock()
			continue
		}

		failures := f.bumpBackoff(key)
		if !last {
			slog.Info("LLM provider failed, falling back", "provider", c.name, "next", candidates[idx+1].name, "error", err, "failures", failures)
			continue
		}

		// Nothing left behind this one: retry it with delays before
		// giving up.
		res, err = f.retryLast(ctx, c.p, c.name, fn)
		if err != nil {
			f.logRequest(c.name, profile, prompt, "", err)
		} else {
			f.clearBackoff(key)
			f.logRequest(c.name, profile, prompt, fmt.Sprintf("%v", res), nil)
		}
		return res, err
	}

	return nil, fmt.Errorf("all LLM providers exhausted for profile %q", profile)
}

func (f *Provider) retryLast(ctx context.Context, p llm.Provider, name string, fn func(llm.Provider) (any, error)) (any, error) {
	var lastErr error
	delay := 1 * time.Second
	for attempt := 1; attempt <= 3; attempt++ {
		res, err := fn(p)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if isUnrecoverable(err) {
			return nil, fmt.Errorf("last provider failed with fatal error: %w", err)
		}

		slog.Warn("Last LLM provider failed, retrying", "provider", name, "attempt", attempt, "next_delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("last provider exhausted after 3 retries: %w", lastErr)
}

// logRequest appends one entry to the unified prompt log, when configured.
func (f *Provider) logRequest(providerName, profile, prompt, response string, err error) {
	if f.logPath == "" {
		return
	}
	if mkErr := os.MkdirAll(filepath.Dir(f.logPath), 0o755); mkErr != nil {
		return
	}
	file, fErr := os.OpenFile(f.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if fErr != nil {
		return
	}
	defer file.Close()

	ts := time.Now().Format("2006-01-02 15:04:05")
	rule := strings.Repeat("-", 80)
	var entry string
	if err != nil {
		entry = fmt.Sprintf("[%s][%s] ERROR: %s - %v\n%s\n", ts, strings.ToUpper(providerName), profile, err, rule)
	} else {
		entry = fmt.Sprintf("[%s][%s] PROMPT: %s\nPROMPT_TEXT:\n%s\n\nRESPONSE:\n%s\n%s\n",
			ts, strings.ToUpper(providerName), profile, prompt, llm.WordWrap(response, 80), rule)
	}
	_, _ = file.WriteString(entry)
}

// isUnrecoverable flags errors that will not heal by retrying: bad or
// revoked keys, and cancelled contexts. Rate limits (429) and malformed
// requests (400) stay retryable.
func isUnrecoverable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "invalid_api_key") ||
		strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline exceeded")
}
