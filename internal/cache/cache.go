package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Kind separates key spaces within one cache.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindListing caches directory child listings.
	KindListing
	// KindBlobs caches raw blob inventories (the catalog source).
	KindBlobs
	// KindExists caches file-existence bits.
	KindExists
)

// Key identifies one cached entry. Path is the normalized canonical path
// string, so backends with case-insensitive naming collapse to one entry.
type Key struct {
	Kind Kind
	Path string
}

// LRU is a size-bounded LRU cache for connector metadata. Values must be
// treated as immutable by callers. Safe for concurrent use.
type LRU struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[Key]*list.Element
	evictList *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value any
	size  int64
}

// NewLRU creates a cache bounded to roughly capacity bytes of entry payload.
func NewLRU(capacity int64) *LRU {
	return &LRU{
		capacity:  capacity,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
	}
}

// Get returns a cached value. ok is false on miss.
func (c *LRU) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set stores a value with its approximate payload size in bytes.
func (c *LRU) Set(key Key, value any, size int64) {
	if size > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*entry)
		c.size += size - e.size
		e.value = value
		e.size = size
		c.evict()
		return
	}

	for c.size+size > c.capacity {
		back := c.evictList.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
	}

	element := c.evictList.PushFront(&entry{key: key, value: value, size: size})
	c.items[key] = element
	c.size += size
}

// Invalidate removes entries matching the predicate.
func (c *LRU) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, element := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, element)
		}
	}
	for _, e := range toRemove {
		c.removeElement(e)
	}
}

// InvalidatePath removes all kinds of entries for one path.
func (c *LRU) InvalidatePath(path string) {
	c.Invalidate(func(key Key) bool { return key.Path == path })
}

// Stats returns hit/miss counters.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the current approximate payload size in bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU) evict() {
	for c.size > c.capacity {
		back := c.evictList.Back()
		if back == nil {
			return
		}
		c.removeElement(back)
	}
}

func (c *LRU) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	ent := e.Value.(*entry)
	delete(c.items, ent.key)
	c.size -= ent.size
}
