package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_GetSet(t *testing.T) {
	c := NewLRU(1024)
	key := Key{Kind: KindListing, Path: "c://dir"}

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Set(key, []string{"a", "b"}, 2)
	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, v)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRU_KindsAreSeparate(t *testing.T) {
	c := NewLRU(1024)
	c.Set(Key{Kind: KindListing, Path: "c://p"}, "listing", 8)
	c.Set(Key{Kind: KindBlobs, Path: "c://p"}, "blobs", 8)

	v, ok := c.Get(Key{Kind: KindBlobs, Path: "c://p"})
	require.True(t, ok)
	assert.Equal(t, "blobs", v)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(30)
	for i := 0; i < 3; i++ {
		c.Set(Key{Kind: KindExists, Path: fmt.Sprintf("c://f%d", i)}, true, 10)
	}
	// Touch f0 so f1 becomes the eviction victim.
	_, ok := c.Get(Key{Kind: KindExists, Path: "c://f0"})
	require.True(t, ok)

	c.Set(Key{Kind: KindExists, Path: "c://f3"}, true, 10)

	_, ok = c.Get(Key{Kind: KindExists, Path: "c://f1"})
	assert.False(t, ok)
	_, ok = c.Get(Key{Kind: KindExists, Path: "c://f0"})
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestLRU_OversizedEntryNotCached(t *testing.T) {
	c := NewLRU(10)
	c.Set(Key{Kind: KindBlobs, Path: "c://big"}, "x", 100)
	_, ok := c.Get(Key{Kind: KindBlobs, Path: "c://big"})
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRU_InvalidatePath(t *testing.T) {
	c := NewLRU(1024)
	c.Set(Key{Kind: KindListing, Path: "c://p"}, "l", 1)
	c.Set(Key{Kind: KindBlobs, Path: "c://p"}, "b", 1)
	c.Set(Key{Kind: KindBlobs, Path: "c://q"}, "q", 1)

	c.InvalidatePath("c://p")

	_, ok := c.Get(Key{Kind: KindListing, Path: "c://p"})
	assert.False(t, ok)
	_, ok = c.Get(Key{Kind: KindBlobs, Path: "c://p"})
	assert.False(t, ok)
	_, ok = c.Get(Key{Kind: KindBlobs, Path: "c://q"})
	assert.True(t, ok)
}

func TestLRU_SizeTracking(t *testing.T) {
	c := NewLRU(100)
	key := Key{Kind: KindBlobs, Path: "c://p"}
	c.Set(key, "v1", 10)
	assert.Equal(t, int64(10), c.Size())
	c.Set(key, "v2", 30)
	assert.Equal(t, int64(30), c.Size())
	c.InvalidatePath("c://p")
	assert.Equal(t, int64(0), c.Size())
}
