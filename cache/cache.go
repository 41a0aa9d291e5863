// Package cache implements the fingerprint-keyed query result cache used to
// short-circuit re-execution of identical read queries.
//
// Eviction is least-recently-used among live entries, with one refinement:
// when the cache is full and an expired entry still occupies a slot, the
// expired entry is reclaimed instead of evicting a live one. Expiry is lazy;
// a lookup that finds an expired entry removes it and reports a miss, so no
// background sweeper is needed.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/guileen/dbtune/fingerprint"
)

// Cache maps query fingerprints to cached results with TTL and capacity
// bounds. All methods are safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time

	entries map[fingerprint.Fingerprint]*list.Element
	lru     *list.List // front = most recently used

	hits   int64
	misses int64
}

type entry struct {
	key        fingerprint.Fingerprint
	resource   string
	value      any
	insertedAt time.Time
	expiresAt  time.Time
	hitCount   int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hitRate"` // 0 when no lookups have occurred
}

// New creates a cache with the given capacity and TTL. Both must be
// positive; the monitor validates its options before constructing one.
func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[fingerprint.Fingerprint]*list.Element, capacity),
		lru:      list.New(),
	}
}

// SetClock replaces the cache's time source. Tests use this to simulate TTL
// expiry without sleeping.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Lookup returns the cached value for a fingerprint. An expired entry
// behaves as a miss and is removed on the spot.
func (c *Cache) Lookup(fp fingerprint.Fingerprint) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fp]
	if !ok {
		c.misses++
		return nil, false
	}

	e := elem.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, false
	}

	e.hitCount++
	c.hits++
	c.lru.MoveToFront(elem)
	return e.value, true
}

// Store caches a value for a fingerprint. Storing over a live entry
// overwrites the value and restarts its TTL. At capacity, an expired entry
// is reclaimed before a live LRU entry is evicted.
func (c *Cache) Store(fp fingerprint.Fingerprint, resource string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if elem, ok := c.entries[fp]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.resource = resource
		e.insertedAt = now
		e.expiresAt = now.Add(c.ttl)
		e.hitCount = 0
		c.lru.MoveToFront(elem)
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOneLocked(now)
	}

	elem := c.lru.PushFront(&entry{
		key:        fp,
		resource:   resource,
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(c.ttl),
	})
	c.entries[fp] = elem
}

// InvalidateKey removes a single entry if present.
func (c *Cache) InvalidateKey(fp fingerprint.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fp]; ok {
		c.removeLocked(elem)
	}
}

// InvalidateResource removes every entry cached for a resource. Write paths
// call this so that stale reads are never served after a mutation.
func (c *Cache) InvalidateResource(resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for elem := c.lru.Front(); elem != nil; elem = next {
		next = elem.Next()
		if elem.Value.(*entry).resource == resource {
			c.removeLocked(elem)
		}
	}
}

// Reset discards all entries and zeroes the hit/miss counters.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[fingerprint.Fingerprint]*list.Element, c.capacity)
	c.lru.Init()
	c.hits = 0
	c.misses = 0
}

// Stats returns current counters. HitRate is hits/(hits+misses) and 0 when
// no lookups have occurred.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Len reports the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOneLocked frees exactly one slot: the least-recently-used expired
// entry if any exists, otherwise the least-recently-used live entry.
func (c *Cache) evictOneLocked(now time.Time) {
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		if !now.Before(elem.Value.(*entry).expiresAt) {
			c.removeLocked(elem)
			return
		}
	}
	if elem := c.lru.Back(); elem != nil {
		c.removeLocked(elem)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(c.entries, e.key)
	c.lru.Remove(elem)
}
