package cache

import (
	"context"
	"path/filepath"
	"testing"

	"geoquery/pkg/db"
)

func TestSQLiteRoundTrip(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	c := NewSQLite(d)
	ctx := context.Background()

	if _, ok := c.GetCache(ctx, "missing"); ok {
		t.Error("hit on missing key")
	}

	if err := c.SetCache(ctx, "k", []byte("payload")); err != nil {
		t.Fatalf("SetCache: %v", err)
	}
	got, ok := c.GetCache(ctx, "k")
	if !ok || string(got) != "payload" {
		t.Errorf("GetCache = %q, %v", got, ok)
	}

	// Overwrite keeps a single row with the new value.
	if err := c.SetCache(ctx, "k", []byte("updated")); err != nil {
		t.Fatal(err)
	}
	got, ok = c.GetCache(ctx, "k")
	if !ok || string(got) != "updated" {
		t.Errorf("after update = %q, %v", got, ok)
	}
}
