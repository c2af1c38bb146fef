package embeddings

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// cacheEntry is one cached embedding with its insertion time.
type cacheEntry struct {
	vector   []float32
	storedAt time.Time
}

// cache is a content-addressed embedding cache. Keys are derived from the
// truncated input text and the model name, so a model change never serves
// stale vectors. Eviction is age-based: expired entries go first, then the
// oldest insertions until the size threshold holds.
type cache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func newCache(ttl time.Duration, maxEntries int) *cache {
	return &cache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// cacheKey derives the cache key for a text/model pair.
func cacheKey(text, model string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}

// get returns the cached vector for key, or false if absent or expired.
// Expired entries are removed on access.
func (c *cache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.vector, true
}

// put stores a vector and trims the cache if it grew past the threshold.
func (c *cache) put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{vector: vector, storedAt: c.now()}
	if len(c.entries) > c.maxEntries {
		c.trimLocked()
	}
}

// trimLocked drops expired entries, then the oldest remaining insertions
// until the cache fits the threshold again.
func (c *cache) trimLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type aged struct {
		key      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for key, entry := range c.entries {
		all = append(all, aged{key: key, storedAt: entry.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })

	for _, candidate := range all[:len(all)-c.maxEntries] {
		delete(c.entries, candidate.key)
	}
}

// len reports the current entry count.
func (c *cache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
