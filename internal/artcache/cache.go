// Package artcache stores derived image artifacts in SQLite, keyed by
// source digest and conversion parameters, with single-flight compute
// deduplication and LRU eviction.
package artcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/starford/raido/internal/digest"
	"github.com/starford/raido/internal/itemstore"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS artifacts (
	digest      TEXT NOT NULL,
	op_key      TEXT NOT NULL,
	payload     BLOB NOT NULL,
	size        INTEGER NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_access INTEGER NOT NULL,
	PRIMARY KEY (digest, op_key)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_access ON artifacts(last_access);
`

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Oversized uint64 `json:"oversized"`
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	InFlight  int    `json:"in_flight"`
}

// Config controls cache admission.
type Config struct {
	// MaxBytes bounds the total payload size of stored artifacts.
	// Admission evicts least-recently-used entries until the new
	// payload fits. Zero means unbounded.
	MaxBytes int64
	// MaxItemBytes is the largest payload admitted into the cache.
	// Larger results are still returned to the caller. Zero means no
	// per-item limit.
	MaxItemBytes int64
}

// Cache is safe for concurrent use. Concurrent requests for the same
// (digest, op_key) pair share one compute invocation.
type Cache struct {
	conn *sql.DB
	cfg  Config

	group singleflight.Group

	// tick orders entries for eviction; monotonically increasing so
	// the smallest last_access is always the least recently used.
	tick atomic.Int64

	inFlight atomic.Int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	oversized atomic.Uint64

	// writeMu serializes admit/evict so eviction decisions see a
	// consistent entry count.
	writeMu sync.Mutex
}

// Open opens (or creates) the artifact database and applies the schema.
func Open(dsn string, cfg Config) (*Cache, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("artcache: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("artcache: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("artcache: apply schema: %w", err)
	}
	c := &Cache{conn: conn, cfg: cfg}
	var maxTick sql.NullInt64
	if err := conn.QueryRow(`SELECT MAX(last_access) FROM artifacts`).Scan(&maxTick); err != nil {
		conn.Close()
		return nil, fmt.Errorf("artcache: read access clock: %w", err)
	}
	if maxTick.Valid {
		c.tick.Store(maxTick.Int64)
	}
	return c, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.conn.Close()
}

// GetOrCompute returns the cached artifact for (d, opKey), computing and
// admitting it on a miss. When several goroutines miss on the same pair
// concurrently, compute runs exactly once and all callers share the
// result. A failed compute is never cached.
func (c *Cache) GetOrCompute(ctx context.Context, d digest.Digest, opKey string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	key := d.Format() + "\x00" + opKey
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	v, err, _ := c.group.Do(key, func() (any, error) {
		if payload, ok, err := c.lookup(d, opKey); err != nil {
			return nil, err
		} else if ok {
			c.hits.Add(1)
			return payload, nil
		}
		c.misses.Add(1)

		payload, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.admit(d, opKey, payload); err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Get returns a cached artifact without computing on a miss. The
// second return is false when the pair is absent.
func (c *Cache) Get(d digest.Digest, opKey string) ([]byte, bool, error) {
	payload, ok, err := c.lookup(d, opKey)
	if err != nil {
		return nil, false, err
	}
	if ok {
		c.hits.Add(1)
	}
	return payload, ok, nil
}

// Contains reports whether an artifact is cached without touching its
// access time.
func (c *Cache) Contains(d digest.Digest, opKey string) bool {
	var one int
	err := c.conn.QueryRow(`SELECT 1 FROM artifacts WHERE digest = ? AND op_key = ?`, d.Format(), opKey).Scan(&one)
	return err == nil
}

// Invalidate drops every cached artifact derived from d.
func (c *Cache) Invalidate(d digest.Digest) error {
	if _, err := c.conn.Exec(`DELETE FROM artifacts WHERE digest = ?`, d.Format()); err != nil {
		return fmt.Errorf("artcache: invalidate %s: %w", d.Short(), err)
	}
	return nil
}

// WatchStore invalidates cached artifacts when their source item leaves
// the store.
func (c *Cache) WatchStore(store *itemstore.Store) {
	store.Subscribe(func(ev itemstore.Event) {
		if ev.Kind == itemstore.KindRemoved {
			// Best effort; a stale entry is re-derived from the
			// original bytes on next access anyway.
			_ = c.Invalidate(ev.Digest)
		}
	})
}

// Stats returns current counters and storage totals.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Oversized: c.oversized.Load(),
		InFlight:  int(c.inFlight.Load()),
	}
	row := c.conn.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM artifacts`)
	_ = row.Scan(&s.Entries, &s.Bytes)
	return s
}

func (c *Cache) lookup(d digest.Digest, opKey string) ([]byte, bool, error) {
	var payload []byte
	err := c.conn.QueryRow(`SELECT payload FROM artifacts WHERE digest = ? AND op_key = ?`, d.Format(), opKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("artcache: lookup %s: %w", d.Short(), err)
	}
	if _, err := c.conn.Exec(`UPDATE artifacts SET last_access = ? WHERE digest = ? AND op_key = ?`,
		c.tick.Add(1), d.Format(), opKey); err != nil {
		return nil, false, fmt.Errorf("artcache: touch %s: %w", d.Short(), err)
	}
	return payload, true, nil
}

func (c *Cache) admit(d digest.Digest, opKey string, payload []byte) error {
	need := int64(len(payload))
	if c.cfg.MaxItemBytes > 0 && need > c.cfg.MaxItemBytes {
		c.oversized.Add(1)
		return nil
	}
	if c.cfg.MaxBytes > 0 && need > c.cfg.MaxBytes {
		// Would not fit even with the cache emptied.
		c.oversized.Add(1)
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.MaxBytes > 0 {
		var total int64
		if err := c.conn.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM artifacts`).Scan(&total); err != nil {
			return fmt.Errorf("artcache: total size: %w", err)
		}
		for total+need > c.cfg.MaxBytes {
			var rowid, size int64
			err := c.conn.QueryRow(`SELECT rowid, size FROM artifacts ORDER BY last_access ASC LIMIT 1`).Scan(&rowid, &size)
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			if err != nil {
				return fmt.Errorf("artcache: pick eviction victim: %w", err)
			}
			if _, err := c.conn.Exec(`DELETE FROM artifacts WHERE rowid = ?`, rowid); err != nil {
				return fmt.Errorf("artcache: evict: %w", err)
			}
			c.evictions.Add(1)
			total -= size
		}
	}

	if _, err := c.conn.Exec(
		`INSERT OR REPLACE INTO artifacts (digest, op_key, payload, size, last_access) VALUES (?, ?, ?, ?, ?)`,
		d.Format(), opKey, payload, len(payload), c.tick.Add(1)); err != nil {
		return fmt.Errorf("artcache: store %s: %w", d.Short(), err)
	}
	return nil
}
