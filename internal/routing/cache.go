package routing

import (
	"sync"
	"time"

	"cabtrack/internal/domain/geo"
)

// geocodeCache is a process-wide TTL cache of resolved addresses. Expired
// entries are dropped lazily on read.
type geocodeCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]geocodeEntry
}

type geocodeEntry struct {
	coord   geo.Coordinate
	expires time.Time
}

func newGeocodeCache(ttl time.Duration) *geocodeCache {
	return &geocodeCache{
		ttl:     ttl,
		entries: make(map[string]geocodeEntry),
	}
}

// get returns a cached coordinate if present and fresh.
func (c *geocodeCache) get(key string) (geo.Coordinate, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return geo.Coordinate{}, false
	}

	if time.Now().After(entry.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return geo.Coordinate{}, false
	}
	return entry.coord, true
}

// set stores a resolved coordinate for the cache TTL.
func (c *geocodeCache) set(key string, coord geo.Coordinate) {
	c.mu.Lock()
	c.entries[key] = geocodeEntry{coord: coord, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}
