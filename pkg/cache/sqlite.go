package cache

import (
	"context"
	"log/slog"

	"geoquery/pkg/db"
)

// SQLite implements Cacher on top of the sqlite cache table. Expiry is
// handled out of band by db.PruneCache at startup.
type SQLite struct {
	db *db.DB
}

// NewSQLite creates a sqlite-backed cache.
func NewSQLite(d *db.DB) *SQLite {
	return &SQLite{db: d}
}

func (c *SQLite) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var val []byte
	err := c.db.QueryRowContext(ctx, "SELECT value FROM cache WHERE key = ?", key).Scan(&val)
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *SQLite) SetCache(ctx context.Context, key string, val []byte) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO cache (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, created_at = CURRENT_TIMESTAMP",
		key, val)
	if err != nil {
		slog.Error("Failed to write cache entry", "key", key, "error", err)
	}
	return err
}
