// Package schemacache implements the process-wide tool-schema cache (C4):
// an LRU store bounded by entry count, each entry carrying its own TTL,
// concurrent-fetch coalescing, and a stale-on-error fallback.
//
// The LRU store is github.com/hashicorp/golang-lru/v2 (already present in
// the example pack's dependency graph via goadesign-goa-ai's go.mod).
// Fetch coalescing uses golang.org/x/sync/singleflight, the same concern
// haasonsaas-nexus's internal/infra.Group hand-rolls with generics — we
// reach for the stdlib-adjacent library that package reimplements rather
// than duplicating it.
package schemacache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

// Config tunes the cache's bounds and persistence.
type Config struct {
	Capacity    int           // max entries, default 1000.
	DefaultTTL  time.Duration // default 24h.
	PersistPath string        // empty disables disk persistence.
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{Capacity: 1000, DefaultTTL: 24 * time.Hour}
}

func (c Config) normalized() Config {
	if c.Capacity <= 0 {
		c.Capacity = 1000
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 24 * time.Hour
	}
	return c
}

// Cache is the schema cache singleton. store holds every entry currently
// resident, valid or TTL-expired alike — TTL expiry only changes what Get
// returns, never what the LRU evicts for. sf coalesces concurrent fetchers
// for the same key so exactly one fetch runs at a time per tool name.
type Cache struct {
	cfg   Config
	log   *slog.Logger
	store *lru.Cache[string, model.ToolSchema]
	sf    singleflight.Group

	persistMu sync.Mutex
}

// New constructs a Cache. log may be nil, in which case slog.Default() is
// used, matching the teacher's convention of accepting a nil logger at
// construction time and falling back silently.
func New(cfg Config, log *slog.Logger) (*Cache, error) {
	cfg = cfg.normalized()
	if log == nil {
		log = slog.Default()
	}
	store, err := lru.New[string, model.ToolSchema](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("schemacache: construct LRU: %w", err)
	}
	c := &Cache{cfg: cfg, log: log, store: store}
	if cfg.PersistPath != "" {
		c.loadFromDisk()
	}
	return c, nil
}

// Get returns the cached schema for name if present and not TTL-expired.
// A miss (absent or expired) returns ok=false; expired entries are left in
// the store for the stale-on-error path in GetOrFetch.
func (c *Cache) Get(name string) (model.ToolSchema, bool) {
	schema, ok := c.store.Get(name)
	if !ok {
		return model.ToolSchema{}, false
	}
	if schema.Expired(time.Now()) {
		return model.ToolSchema{}, false
	}
	return schema, true
}

// Fetcher produces a fresh schema for a tool name, e.g. by querying the
// owning backend through the upstream pool.
type Fetcher func() (model.ToolSchema, error)

// GetOrFetch returns the valid cached schema for name, or invokes fetch to
// populate it. Concurrent callers for the same name share one fetch. If
// fetch fails and a stale (TTL-expired) entry exists, that entry is
// returned instead of the error, with a logged warning; if no stale entry
// exists, the error propagates.
func (c *Cache) GetOrFetch(name string, fetch Fetcher) (model.ToolSchema, error) {
	if schema, ok := c.Get(name); ok {
		return schema, nil
	}

	result, err, _ := c.sf.Do(name, func() (any, error) {
		// Re-check after winning the singleflight race: another caller may
		// have populated the entry while we were queued behind the lock.
		if schema, ok := c.Get(name); ok {
			return schema, nil
		}
		schema, ferr := fetch()
		if ferr != nil {
			if stale, ok := c.store.Peek(name); ok {
				c.log.Warn("schemacache: fetch failed, serving stale entry",
					"tool", name, "error", ferr, "fetchedAt", stale.FetchedAt)
				return stale, nil
			}
			return model.ToolSchema{}, ferr
		}
		if schema.TTL <= 0 {
			schema.TTL = c.cfg.DefaultTTL
		}
		if schema.FetchedAt.IsZero() {
			schema.FetchedAt = time.Now()
		}
		c.store.Add(name, schema)
		c.persistAsync()
		return schema, nil
	})
	if err != nil {
		return model.ToolSchema{}, err
	}
	return result.(model.ToolSchema), nil
}

// Invalidate removes name from the cache unconditionally.
func (c *Cache) Invalidate(name string) {
	c.store.Remove(name)
	c.persistAsync()
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.store.Purge()
	c.persistAsync()
}

// Len reports the number of resident entries (valid or stale).
func (c *Cache) Len() int { return c.store.Len() }

// persistAsync fires off a best-effort disk write; failures are logged,
// never returned, matching the spec's "fire-and-forget" persistence
// contract. Writers are serialized by persistMu so concurrent saves cannot
// interleave partial writes to the same temp file.
func (c *Cache) persistAsync() {
	if c.cfg.PersistPath == "" {
		return
	}
	entries := make(map[string]model.ToolSchema, c.store.Len())
	for _, k := range c.store.Keys() {
		if v, ok := c.store.Peek(k); ok {
			entries[k] = v
		}
	}
	go func() {
		c.persistMu.Lock()
		defer c.persistMu.Unlock()
		if err := writeAtomic(c.cfg.PersistPath, entries); err != nil {
			c.log.Warn("schemacache: persist failed", "path", c.cfg.PersistPath, "error", err)
		}
	}()
}

// writeAtomic serializes entries as JSON and writes them via a temp-file
// write followed by rename, so a crash mid-write never corrupts the
// existing file on disk.
func writeAtomic(path string, entries map[string]model.ToolSchema) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".schemacache-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// loadFromDisk populates the store from a previous persistAsync snapshot,
// if one exists. Missing or corrupt files are treated as an empty cache.
func (c *Cache) loadFromDisk() {
	data, err := os.ReadFile(c.cfg.PersistPath)
	if err != nil {
		return
	}
	var entries map[string]model.ToolSchema
	if err := json.Unmarshal(data, &entries); err != nil {
		c.log.Warn("schemacache: discarding unreadable persisted cache", "path", c.cfg.PersistPath, "error", err)
		return
	}
	for name, schema := range entries {
		c.store.Add(name, schema)
	}
}
