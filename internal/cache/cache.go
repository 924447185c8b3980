// Package cache holds the in-memory mirror of parsed document files.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Loader reads a document from its backing file.
// A missing file must be reported as an empty document, not an error.
type Loader func() (map[string]interface{}, error)

// Cache maps file keys to parsed documents.
// It uses sync.Map for concurrent access; serializing loads and writes for
// one key is the caller's job (see internal/queue).
//
// Stored documents are treated as immutable: writers build a new version and
// Set it, readers clone what they hand out.
type Cache struct {
	data sync.Map // key -> map[string]interface{}

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{}
}

// Get returns the cached document for key.
func (c *Cache) Get(key string) (map[string]interface{}, bool) {
	value, ok := c.data.Load(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return value.(map[string]interface{}), true
}

// EnsureLoaded returns the cached document, calling load exactly once per
// key until the entry is invalidated.
func (c *Cache) EnsureLoaded(key string, load Loader) (map[string]interface{}, error) {
	if doc, ok := c.Get(key); ok {
		return doc, nil
	}

	doc, err := load()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	c.data.Store(key, doc)
	return doc, nil
}

// Set replaces the cached document for key.
func (c *Cache) Set(key string, doc map[string]interface{}) {
	c.data.Store(key, doc)
}

// Invalidate drops key so the next access reloads it from disk.
func (c *Cache) Invalidate(key string) {
	c.data.Delete(key)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.data.Range(func(key, _ interface{}) bool {
		c.data.Delete(key)
		return true
	})
}

// Has reports whether key is loaded.
func (c *Cache) Has(key string) bool {
	_, ok := c.data.Load(key)
	return ok
}

// Keys returns all loaded keys, sorted.
func (c *Cache) Keys() []string {
	var keys []string
	c.data.Range(func(key, _ interface{}) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	stats := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	c.data.Range(func(_, _ interface{}) bool {
		stats.Entries++
		return true
	})
	return stats
}

// Stats contains cache statistics.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// HitRate returns hits / (hits + misses).
func (s *Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
