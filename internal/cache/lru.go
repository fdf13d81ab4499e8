package cache

import (
	"container/list"
	"sync"
	"time"
)

// thread-safe LRU cache with optional TTL
type LRU[K comparable, V any] struct {
	mu       sync.RWMutex
	capacity int
	ttl      time.Duration
	items    map[K]*list.Element
	lru      *list.List
	now      func() time.Time
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// creates new LRU cache with given capacity and TTL (0 = no expiry)
func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element),
		lru:      list.New(),
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (c *LRU[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *LRU[K, V]) expired(e *entry[K, V], now time.Time) bool {
	return c.ttl > 0 && now.After(e.expiresAt)
}

// Peek looks key up without touching recency or evicting expired entries. The second return
// reports whether the entry is still fresh.
func (c *LRU[K, V]) Peek(key K) (value V, fresh bool, found bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	elem, ok := c.items[key]
	if !ok {
		return value, false, false
	}
	e := elem.Value.(*entry[K, V])
	return e.value, !c.expired(e, c.now()), true
}

// adds/updates value in cache
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value)
}

// Add stores value only if key is absent (or expired) and reports whether it did.
func (c *LRU[K, V]) Add(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.items[key]; found {
		if !c.expired(elem.Value.(*entry[K, V]), c.now()) {
			c.lru.MoveToFront(elem)
			return false
		}
		c.removeElement(elem)
	}
	c.set(key, value)
	return true
}

func (c *LRU[K, V]) set(key K, value V) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if elem, found := c.items[key]; found {
		c.lru.MoveToFront(elem)
		e := elem.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		return
	}

	elem := c.lru.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem

	// evict if > capacity
	if c.lru.Len() > c.capacity {
		c.removeOldest()
	}
}

func (c *LRU[K, V]) removeOldest() {
	if elem := c.lru.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *LRU[K, V]) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}
