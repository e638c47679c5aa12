package sentiment

import (
	"sync"
	"time"
)

// readingCache keeps recent readings for a fixed TTL.
type readingCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	ttl  time.Duration
	now  func() time.Time
}

type cacheEntry struct {
	reading   Reading
	timestamp time.Time
}

func newReadingCache(ttl time.Duration) *readingCache {
	return &readingCache{
		data: make(map[string]cacheEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// get retrieves a cached reading if it has not expired
func (c *readingCache) get(key string) (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok || c.now().Sub(entry.timestamp) > c.ttl {
		return Reading{}, false
	}
	return entry.reading, true
}

func (c *readingCache) set(key string, r Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{reading: r, timestamp: c.now()}
}

// stale returns the last reading regardless of age.
func (c *readingCache) stale(key string) (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	return entry.reading, ok
}
