package tracker

import (
	"sync"
	"testing"
)

func TestTrackerProviders(t *testing.T) {
	tr := New()
	provider := "stac"

	snap := tr.Snapshot()
	if len(snap.Providers) != 0 {
		t.Errorf("expected empty provider stats, got %d", len(snap.Providers))
	}

	tr.TrackCacheHit(provider)
	tr.TrackCacheMiss(provider)
	tr.TrackCacheMiss(provider)
	tr.TrackAPISuccess(provider)
	tr.TrackAPIFailure(provider)
	tr.TrackAPIZero(provider)

	snap = tr.Snapshot()
	s, ok := snap.Providers[provider]
	if !ok {
		t.Fatalf("provider %q missing from snapshot", provider)
	}
	if s.CacheHits != 1 || s.CacheMisses != 2 {
		t.Errorf("cache counters = %d/%d, want 1/2", s.CacheHits, s.CacheMisses)
	}
	if s.APISuccess != 1 || s.APIFailures != 1 || s.APIZeroResult != 1 {
		t.Errorf("api counters = %d/%d/%d, want 1/1/1", s.APISuccess, s.APIFailures, s.APIZeroResult)
	}
}

func TestTrackerQueriesAndFallbacks(t *testing.T) {
	tr := New()

	tr.TrackQuery("stac")
	tr.TrackQuery("stac")
	tr.TrackQuery("contextual")
	tr.TrackFallback("intent")
	tr.TrackFallback("datetime")

	snap := tr.Snapshot()
	if snap.Queries["stac"] != 2 {
		t.Errorf("stac queries = %d, want 2", snap.Queries["stac"])
	}
	if snap.Queries["contextual"] != 1 {
		t.Errorf("contextual queries = %d, want 1", snap.Queries["contextual"])
	}
	if snap.Fallbacks["intent"] != 1 || snap.Fallbacks["datetime"] != 1 {
		t.Errorf("fallbacks = %v, want intent:1 datetime:1", snap.Fallbacks)
	}
}

func TestTrackerConcurrency(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.TrackAPISuccess("gemini")
			tr.TrackQuery("hybrid")
			tr.TrackFallback("clouds")
		}()
	}
	wg.Wait()

	snap := tr.Snapshot()
	if snap.Providers["gemini"].APISuccess != 50 {
		t.Errorf("APISuccess = %d, want 50", snap.Providers["gemini"].APISuccess)
	}
	if snap.Queries["hybrid"] != 50 || snap.Fallbacks["clouds"] != 50 {
		t.Errorf("counters = %d/%d, want 50/50", snap.Queries["hybrid"], snap.Fallbacks["clouds"])
	}
}
