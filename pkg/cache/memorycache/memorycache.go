// Package memorycache implements cache.Cache as a plain LRU with TTL.
// Deterministic and dependency-free; the default choice for tests and small
// embedded deployments.
package memorycache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// Cache is an LRU cache with per-entry TTL, bounded by entry count.
type Cache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	evictList  *list.List // front = most recently used
	maxEntries int
}

// New creates a memory cache holding at most maxEntries items. maxEntries <= 0
// means 4096.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Cache{
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
		maxEntries: maxEntries,
	}
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := elem.Value.(*entry)
	if !ent.expiresAt.IsZero() && time.Now().After(ent.expiresAt) {
		c.removeElement(elem)
		return nil, false
	}
	c.evictList.MoveToFront(elem)
	return ent.value, true
}

// Set implements cache.Cache.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = expiresAt
		c.evictList.MoveToFront(elem)
		return nil
	}

	elem := c.evictList.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = elem

	for c.evictList.Len() > c.maxEntries {
		if oldest := c.evictList.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	return nil
}

// Delete implements cache.Cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Clear implements cache.Cache.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	return nil
}

// Close implements cache.Cache.
func (c *Cache) Close() error {
	return c.Clear(context.Background())
}

func (c *Cache) removeElement(elem *list.Element) {
	ent := elem.Value.(*entry)
	c.evictList.Remove(elem)
	delete(c.items, ent.key)
}
