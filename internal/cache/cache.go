// Package cache implements the proxy's in-memory LRU response cache.
//
// Entries live in two structures at once: a fixed-size chained hash
// table for lookup and a doubly-linked recency list for eviction order.
// Both are protected by a single mutex, so every operation is O(1) plus
// the bucket chain walk.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const numBuckets = 1024

// node is a member of exactly one bucket chain and one recency-list
// position for its whole lifetime.
type node struct {
	key  string
	data []byte

	prev, next *node // recency list
	hnext      *node // bucket chain
}

// Stats holds a snapshot of the cache's counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	EntryCount    int
	CurrentBytes  int64
	CapacityBytes int64
	UptimeSeconds float64
}

// Cache is a thread-safe byte-bounded LRU store.
type Cache struct {
	mu       sync.Mutex
	buckets  [numBuckets]*node
	head     *node // most recently used
	tail     *node // next to evict
	count    int
	current  int64
	capacity int64
	ceiling  int64 // largest single entry accepted

	logger    *slog.Logger
	startTime time.Time
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a Cache bounded by capacity bytes in total and ceiling
// bytes per entry.
func New(logger *slog.Logger, capacity, ceiling int64) *Cache {
	return &Cache{
		capacity:  capacity,
		ceiling:   ceiling,
		logger:    logger,
		startTime: time.Now(),
	}
}

// djb2 over the key bytes.
func hash(key string) uint64 {
	h := uint64(5381)
	for i := 0; i < len(key); i++ {
		h = h*33 + uint64(key[i])
	}
	return h
}

// detach unlinks n from the recency list. Lock held.
func (c *Cache) detach(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
}

// attachFront makes n the recency-list head. Lock held.
func (c *Cache) attachFront(n *node) {
	n.next = c.head
	n.prev = nil
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

// Get returns the payload stored under key and promotes the entry to the
// recency-list head. The returned slice stays valid across later
// evictions; callers must not modify it.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for n := c.buckets[hash(key)%numBuckets]; n != nil; n = n.hnext {
		if n.key == key {
			c.detach(n)
			c.attachFront(n)
			c.hits.Add(1)
			c.logger.Info("cache hit", "key", key)
			return n.data, true
		}
	}
	c.misses.Add(1)
	c.logger.Info("cache miss", "key", key)
	return nil, false
}

// evictTail removes the least recently used entry. Lock held.
func (c *Cache) evictTail() bool {
	lru := c.tail
	if lru == nil {
		return false
	}
	c.detach(lru)

	b := hash(lru.key) % numBuckets
	var prev *node
	for n := c.buckets[b]; n != nil; n = n.hnext {
		if n == lru {
			if prev != nil {
				prev.hnext = n.hnext
			} else {
				c.buckets[b] = n.hnext
			}
			break
		}
		prev = n
	}

	c.current -= int64(len(lru.data))
	c.count--
	c.evictions.Add(1)
	c.logger.Info("evicted entry", "key", lru.key, "currentBytes", c.current)
	return true
}

// Put stores a copy of data under key. Entries above the per-element
// ceiling are rejected. Existing entries with the same key are left in
// place; the new node is prepended, so Get finds whichever is first in
// chain order.
func (c *Cache) Put(key string, data []byte) {
	if int64(len(data)) > c.ceiling {
		c.logger.Warn("entry too large to cache", "key", key, "bytes", len(data), "ceilingBytes", c.ceiling)
		return
	}
	if int64(len(data)) > c.capacity {
		c.logger.Warn("entry exceeds cache capacity", "key", key, "bytes", len(data), "capacityBytes", c.capacity)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.current+int64(len(data)) > c.capacity {
		if !c.evictTail() {
			break
		}
	}

	n := &node{key: key, data: append([]byte(nil), data...)}
	c.attachFront(n)

	b := hash(key) % numBuckets
	n.hnext = c.buckets[b]
	c.buckets[b] = n

	c.current += int64(len(n.data))
	c.count++
	c.logger.Info("stored entry", "key", key, "bytes", len(n.data), "currentBytes", c.current)
}

// Purge drops every entry and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.count
	c.buckets = [numBuckets]*node{}
	c.head = nil
	c.tail = nil
	c.count = 0
	c.current = 0
	return removed
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		EntryCount:    c.count,
		CurrentBytes:  c.current,
		CapacityBytes: c.capacity,
		UptimeSeconds: time.Since(c.startTime).Seconds(),
	}
}
