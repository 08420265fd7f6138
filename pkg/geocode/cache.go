package geocode

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Cache stores raw geocoder responses in a local SQLite file, keyed by the
// normalized query, so repeated runs over the same place name stay offline.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS geocode_cache (
	query_hash TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	response   BLOB NOT NULL,
	cached_at  INTEGER NOT NULL
);
`

// OpenCache opens (or creates) the cache database at path. ttlDays of 0
// disables expiry.
func OpenCache(path string, ttlDays int) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: open cache")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "geocode: exec %s", pragma)
		}
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "geocode: migrate cache")
	}
	return &Cache{db: db, ttl: time.Duration(ttlDays) * 24 * time.Hour}, nil
}

// cacheKey returns SHA-256 hex of the normalized query.
func cacheKey(query string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("%x", h)
}

// Get returns the cached response for query, honoring the TTL.
func (c *Cache) Get(ctx context.Context, query string) ([]byte, bool) {
	var body []byte
	var cachedAt int64
	row := c.db.QueryRowContext(ctx,
		"SELECT response, cached_at FROM geocode_cache WHERE query_hash = ?",
		cacheKey(query),
	)
	if err := row.Scan(&body, &cachedAt); err != nil {
		return nil, false
	}
	if c.ttl > 0 && time.Since(time.Unix(cachedAt, 0)) > c.ttl {
		return nil, false
	}
	return body, true
}

// Put stores the response for query, replacing any stale entry.
func (c *Cache) Put(ctx context.Context, query string, body []byte) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO geocode_cache (query_hash, query, response, cached_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(query_hash) DO UPDATE SET response=excluded.response, cached_at=excluded.cached_at`,
		cacheKey(query), query, body, time.Now().Unix(),
	)
	return eris.Wrap(err, "geocode: cache put")
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
