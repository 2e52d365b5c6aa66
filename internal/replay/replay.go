// Package replay deduplicates inbound webhook deliveries by provider
// message id. The cache is bounded by both entry count and age so a burst of
// traffic cannot grow it without limit.
package replay

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a size- and age-bounded seen-set. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	maxAge  time.Duration
	entries map[string]*list.Element
	order   *list.List

	now func() time.Time
}

type entry struct {
	key  string
	seen time.Time
}

// NewCache builds a cache holding at most maxSize ids, each for at most
// maxAge.
func NewCache(maxSize int, maxAge time.Duration) *Cache {
	return &Cache{
		maxSize: maxSize,
		maxAge:  maxAge,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Seen records id and reports whether it was already present. An id older
// than maxAge counts as unseen and is re-recorded.
func (c *Cache) Seen(id string) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evictExpired(now)

	if el, ok := c.entries[id]; ok {
		if now.Sub(el.Value.(*entry).seen) <= c.maxAge {
			return true
		}
		c.order.Remove(el)
		delete(c.entries, id)
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}

	c.entries[id] = c.order.PushBack(&entry{key: id, seen: now})
	return false
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) evictExpired(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(*entry)
		if now.Sub(e.seen) <= c.maxAge {
			return
		}
		c.order.Remove(front)
		delete(c.entries, e.key)
	}
}
