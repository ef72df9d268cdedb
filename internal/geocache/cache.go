// Package geocache is the persistent record of geocoding outcomes keyed by
// normalized address. The cache is monotonic: a resolved address never
// regresses to a failure unless it is explicitly forgotten or cleared.
package geocache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/usittel/nap-proximity/internal/domain"
)

// Entry is the cached outcome for one normalized address.
type Entry struct {
	Success   bool                 `json:"success"`
	Lat       float64              `json:"lat,omitempty"`
	Lon       float64              `json:"lon,omitempty"`
	Error     string               `json:"error,omitempty"`
	Reason    domain.FailureReason `json:"reason,omitempty"`
	Query     string               `json:"query,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Resolved builds a success entry.
func Resolved(p domain.GeoPoint, query string) Entry {
	return Entry{Success: true, Lat: p.Lat, Lon: p.Lon, Query: query, UpdatedAt: domain.Now()}
}

// Failed builds a failure entry.
func Failed(reason domain.FailureReason, detail, query string) Entry {
	return Entry{Reason: reason, Error: detail, Query: query, UpdatedAt: domain.Now()}
}

// Point returns the cached coordinates.
func (e Entry) Point() domain.GeoPoint {
	return domain.GeoPoint{Lat: e.Lat, Lon: e.Lon}
}

// Store is the durable backing for a Cache.
type Store interface {
	// Load returns every persisted entry. A missing backing store is not an error.
	Load(ctx context.Context) (map[string]Entry, error)
	// Save persists entries. changed lists the keys written or removed since
	// the last successful Save; keys absent from entries were removed.
	Save(ctx context.Context, entries map[string]Entry, changed []string) error
}

// Key canonicalizes a normalized address for use as a cache key.
func Key(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}

// Cache is an in-memory map of geocoding outcomes with explicit flush to a Store.
type Cache struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
	dirty   map[string]struct{}
}

// Open loads the cache from store. A store that cannot be read is logged
// and the cache starts empty; Open never fails on bad persisted data.
func Open(ctx context.Context, store Store, logger *slog.Logger) *Cache {
	c := &Cache{
		store:   store,
		logger:  logger,
		entries: make(map[string]Entry),
		dirty:   make(map[string]struct{}),
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		logger.Warn("geocode cache unreadable, starting empty", "error", err)
		return c
	}
	for k, e := range loaded {
		c.entries[Key(k)] = e
	}
	logger.Info("geocode cache loaded", "entries", len(c.entries))
	return c
}

// Lookup returns the entry for address, if any.
func (c *Cache) Lookup(address string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[Key(address)]
	return e, ok
}

// Store records e for address and reports whether it was written. An existing
// success is never replaced; a failure may be replaced by anything newer.
func (c *Cache) Store(address string, e Entry) bool {
	key := Key(address)
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[key]; ok && prev.Success {
		return false
	}
	c.entries[key] = e
	c.dirty[key] = struct{}{}
	return true
}

// Forget removes one address so the next run queries it again.
func (c *Cache) Forget(address string) bool {
	key := Key(address)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.dirty[key] = struct{}{}
	return true
}

// Clear removes every entry and returns how many were dropped.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	for key := range c.entries {
		c.dirty[key] = struct{}{}
	}
	c.entries = make(map[string]Entry)
	return n
}

// Flush persists pending changes. It is safe to call at any point; with
// nothing pending it does no I/O.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.dirty) == 0 {
		c.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]Entry, len(c.entries))
	for k, e := range c.entries {
		snapshot[k] = e
	}
	changed := make([]string, 0, len(c.dirty))
	for k := range c.dirty {
		changed = append(changed, k)
	}
	c.mu.Unlock()

	sort.Strings(changed)
	if err := c.store.Save(ctx, snapshot, changed); err != nil {
		return fmt.Errorf("flush geocode cache: %w", err)
	}

	c.mu.Lock()
	for _, k := range changed {
		delete(c.dirty, k)
	}
	c.mu.Unlock()

	c.logger.Debug("geocode cache flushed", "entries", len(snapshot), "changed", len(changed))
	return nil
}

// Stats summarizes cache contents.
type Stats struct {
	Total    int                          `json:"total"`
	Resolved int                          `json:"resolved"`
	Failed   int                          `json:"failed"`
	ByReason map[domain.FailureReason]int `json:"by_reason,omitempty"`
	Pending  int                          `json:"pending"`
}

// Stats counts entries by outcome.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Total: len(c.entries), Pending: len(c.dirty), ByReason: make(map[domain.FailureReason]int)}
	for _, e := range c.entries {
		if e.Success {
			s.Resolved++
			continue
		}
		s.Failed++
		s.ByReason[e.Reason]++
	}
	return s
}
