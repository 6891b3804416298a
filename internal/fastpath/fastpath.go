// Package fastpath implements the small-value inline cache: a bounded
// concurrent map used to bypass the Storage Backend entirely for hot,
// small values. It is a mirror of the Unified KV Cache, never a source of
// truth — a write goes through the Storage Backend first and is only
// mirrored here afterward; eviction here is independent of the canonical
// entry's lifetime.
//
// © 2025 taskcache authors. MIT License.
package fastpath

import (
	"sync"
	"time"
)

// DefaultMaxValueSize is the default per-value size ceiling (1 KiB) above
// which a value is never mirrored into the fast path.
const DefaultMaxValueSize = 1024

type entry struct {
	value        []byte
	hasExpiry    bool
	expiresAt    time.Time
	lastAccessed time.Time
}

// Cache is the fast-path inline mirror.
type Cache struct {
	mu           sync.Mutex
	maxEntries   int
	maxValueSize int
	entries      map[string]*entry
	order        []string // insertion-order log (Get does not reorder it) for eviction when over maxEntries
}

// Config configures a Cache.
type Config struct {
	MaxEntries   int
	MaxValueSize int
}

// New constructs a fast-path cache.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = DefaultMaxValueSize
	}
	return &Cache{
		maxEntries:   cfg.MaxEntries,
		maxValueSize: cfg.MaxValueSize,
		entries:      make(map[string]*entry),
	}
}

// Eligible reports whether a value of the given size is small enough to be
// mirrored into the fast path at all.
func (c *Cache) Eligible(size int) bool {
	return size <= c.maxValueSize
}

// Get returns the mirrored value for key if present and not expired. A miss
// here is not conclusive — the caller must fall through to the hot map /
// storage backend.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.hasExpiry && !e.expiresAt.After(time.Now()) {
		delete(c.entries, key)
		return nil, false
	}
	e.lastAccessed = time.Now()
	return e.value, true
}

// Put mirrors value under key. Values exceeding maxValueSize are silently
// ignored: the fast path is an optimization, not a guarantee.
func (c *Cache) Put(key string, value []byte, ttl time.Duration) {
	if len(value) > c.maxValueSize {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}

	e := &entry{value: value, lastAccessed: time.Now()}
	if ttl > 0 {
		e.hasExpiry = true
		e.expiresAt = time.Now().Add(ttl)
	} else if ttl == 0 {
		e.hasExpiry = true
		e.expiresAt = time.Now()
	}
	c.entries[key] = e
	c.order = append(c.order, key)
}

// Remove deletes the mirrored entry for key, if present.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear empties the fast path entirely.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.order = nil
}

// evictLocked drops entries from the front of the insertion-order log until
// one real entry has been reclaimed. Log entries for keys already removed are
// skipped for free; an older log entry for a key that was since replaced
// still evicts that key's current entry.
func (c *Cache) evictLocked() {
	for len(c.order) > 0 {
		k := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[k]; ok {
			delete(c.entries, k)
			return
		}
	}
}
