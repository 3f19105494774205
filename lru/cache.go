// Package lru implements a generic, thread-safe LRU cache with optional
// per-entry expiry. The prober uses it to remember repository snapshots and
// the GitHub App client uses it to hold installation tokens.
//
// Get, Put, Delete and Len are O(1). A hash map indexes the nodes of a
// doubly linked list kept in recency order.
package lru

import (
	"sync"
	"time"
)

type node[K comparable, V any] struct {
	key     K
	val     V
	expires time.Time // zero means no expiry
	prev    *node[K, V]
	next    *node[K, V]
}

// Cache is a generic, thread-safe LRU cache.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	onEvict  func(K, V)
	now      func() time.Time
	items    map[K]*node[K, V]
	head     *node[K, V] // sentinel, most recently used follows
	tail     *node[K, V] // sentinel, least recently used precedes
	stats    Stats
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithTTL makes entries expire ttl after they were last written.
func WithTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.ttl = ttl }
}

// WithOnEvict registers fn for entries dropped by capacity or expiry.
// fn runs with the cache lock held and must not call back into the cache.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// Stats are cumulative counters since creation.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Expirations uint64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// New creates an LRU cache with the given capacity.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	c := &Cache[K, V]{
		capacity: capacity,
		now:      time.Now,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Get retrieves a live value and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.lookup(key)
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	c.moveToFront(n)
	return n.val, true
}

// Peek retrieves a live value without touching recency order.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	return n.val, true
}

// Put inserts or replaces key using the cache-wide ttl.
// When the insert pushes out the least recently used entry, that entry is
// returned with evicted set.
func (c *Cache[K, V]) Put(key K, val V) (evictedKey K, evictedVal V, evicted bool) {
	return c.PutWithTTL(key, val, c.ttl)
}

// PutWithTTL is Put with an entry specific ttl (<= 0 means no expiry).
func (c *Cache[K, V]) PutWithTTL(key K, val V, ttl time.Duration) (evictedKey K, evictedVal V, evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	if n, ok := c.items[key]; ok {
		n.val = val
		n.expires = expires
		c.moveToFront(n)
		return
	}

	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		c.stats.Evictions++
		if c.onEvict != nil {
			c.onEvict(victim.key, victim.val)
		}
		evictedKey, evictedVal, evicted = victim.key, victim.val, true
	}

	n := &node[K, V]{key: key, val: val, expires: expires}
	c.items[key] = n
	c.pushFront(n)
	return
}

// Delete removes a key. Returns true if the key existed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(n)
	return true
}

// Len returns the number of stored entries, expired ones included until
// they are touched or purged.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns live keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]K, 0, len(c.items))
	for cur := c.head.next; cur != c.tail; cur = cur.next {
		if !cur.expired(now) {
			keys = append(keys, cur.key)
		}
	}
	return keys
}

// Purge drops every expired entry and returns how many were removed.
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for cur := c.tail.prev; cur != c.head; {
		prev := cur.prev
		if cur.expired(now) {
			c.expire(cur)
			removed++
		}
		cur = prev
	}
	return removed
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[K]*node[K, V], c.capacity)
}

// --- caller must hold c.mu below ---

func (n *node[K, V]) expired(now time.Time) bool {
	return !n.expires.IsZero() && !now.Before(n.expires)
}

func (c *Cache[K, V]) lookup(key K) (*node[K, V], bool) {
	n, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if n.expired(c.now()) {
		c.expire(n)
		return nil, false
	}
	return n, true
}

func (c *Cache[K, V]) expire(n *node[K, V]) {
	c.unlink(n)
	c.stats.Expirations++
	if c.onEvict != nil {
		c.onEvict(n.key, n.val)
	}
}

func (c *Cache[K, V]) unlink(n *node[K, V]) {
	c.remove(n)
	delete(c.items, n.key)
}

func (c *Cache[K, V]) remove(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	c.remove(n)
	c.pushFront(n)
}
