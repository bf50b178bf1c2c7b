package connector

import (
	"context"
	"slices"
	"strings"

	"github.com/hupe1980/blobfs/fspath"
	"github.com/hupe1980/blobfs/internal/cache"
)

// Caching wraps a Connector and memoizes directory listings, blob
// inventories and existence checks, shielding high-latency backends from
// redundant metadata round-trips.
//
// Every mutating call forwards to the inner connector first and, only on
// success, removes the cache entries for the affected path and its parent's
// listing. Within one process a read after a completed write therefore
// always observes the new state. The cache is private to this instance;
// nothing is promised about other processes.
type Caching struct {
	inner Connector
	cache *cache.LRU
	v     fspath.Validator
}

// NewCaching wraps inner with an entry cache bounded to roughly
// capacityBytes. capacityBytes defaults to 8MiB if <= 0.
func NewCaching(inner Connector, capacityBytes int64) *Caching {
	if capacityBytes <= 0 {
		capacityBytes = 8 << 20
	}
	return &Caching{
		inner: inner,
		cache: cache.NewLRU(capacityBytes),
		v:     inner.Spec().Validator,
	}
}

// Inner returns the wrapped connector.
func (c *Caching) Inner() Connector { return c.inner }

// Stats returns cache hit/miss counters.
func (c *Caching) Stats() (hits, misses int64) { return c.cache.Stats() }

func (c *Caching) key(p fspath.Path) string { return p.Key(c.v) }

func (c *Caching) Spec() BackendSpec { return c.inner.Spec() }

func (c *Caching) Close() error { return c.inner.Close() }

func (c *Caching) ListChildren(ctx context.Context, dir fspath.Path) ([]string, error) {
	key := cache.Key{Kind: cache.KindListing, Path: c.key(dir)}
	if v, ok := c.cache.Get(key); ok {
		// Hand out a copy so callers cannot poison the cached entry.
		return slices.Clone(v.([]string)), nil
	}
	children, err := c.inner.ListChildren(ctx, dir)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, children, listingSize(children))
	return slices.Clone(children), nil
}

func (c *Caching) FileExists(ctx context.Context, p fspath.Path) (bool, error) {
	key := cache.Key{Kind: cache.KindExists, Path: c.key(p)}
	if v, ok := c.cache.Get(key); ok {
		return v.(bool), nil
	}
	exists, err := c.inner.FileExists(ctx, p)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, exists, 1)
	return exists, nil
}

func (c *Caching) DirectoryExists(ctx context.Context, p fspath.Path) (bool, error) {
	// Directory existence is cheap to derive from cached listings and racy
	// to cache on its own (an empty bit would shadow sibling mutations), so
	// it passes through.
	return c.inner.DirectoryExists(ctx, p)
}

func (c *Caching) ListBlobs(ctx context.Context, p fspath.Path) ([]BlobInfo, error) {
	key := cache.Key{Kind: cache.KindBlobs, Path: c.key(p)}
	if v, ok := c.cache.Get(key); ok {
		return slices.Clone(v.([]BlobInfo)), nil
	}
	infos, err := c.inner.ListBlobs(ctx, p)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, infos, blobsSize(infos))
	return slices.Clone(infos), nil
}

func (c *Caching) ReadBlobRange(ctx context.Context, p fspath.Path, b BlobInfo, off, length int64) ([]byte, error) {
	return c.inner.ReadBlobRange(ctx, p, b, off, length)
}

func (c *Caching) WriteBlobs(ctx context.Context, p fspath.Path, gen uint64, startIndex int, blobs [][]byte) error {
	if err := c.inner.WriteBlobs(ctx, p, gen, startIndex, blobs); err != nil {
		return err
	}
	c.invalidate(p)
	return nil
}

func (c *Caching) DeleteBlobs(ctx context.Context, p fspath.Path, blobs []BlobInfo) error {
	if err := c.inner.DeleteBlobs(ctx, p, blobs); err != nil {
		return err
	}
	c.invalidate(p)
	return nil
}

func (c *Caching) DeleteFile(ctx context.Context, p fspath.Path) error {
	if err := c.inner.DeleteFile(ctx, p); err != nil {
		return err
	}
	c.invalidate(p)
	return nil
}

func (c *Caching) MakeDirectory(ctx context.Context, p fspath.Path) error {
	if err := c.inner.MakeDirectory(ctx, p); err != nil {
		return err
	}
	c.invalidate(p)
	return nil
}

func (c *Caching) RemoveDirectory(ctx context.Context, p fspath.Path, recursive bool) error {
	if err := c.inner.RemoveDirectory(ctx, p, recursive); err != nil {
		return err
	}
	c.invalidate(p)
	if recursive {
		c.invalidateSubtree(p)
	}
	return nil
}

func (c *Caching) CopyFile(ctx context.Context, src, dst fspath.Path) error {
	if err := c.inner.CopyFile(ctx, src, dst); err != nil {
		return err
	}
	c.invalidate(dst)
	return nil
}

func (c *Caching) RenameFile(ctx context.Context, src, dst fspath.Path) error {
	if err := c.inner.RenameFile(ctx, src, dst); err != nil {
		return err
	}
	c.invalidate(src)
	c.invalidate(dst)
	return nil
}

// Invalidate drops the cached entries for the path and its parent's listing.
// Callers use it to force a rebuild from the live backend listing after
// observing a consistency violation.
func (c *Caching) Invalidate(p fspath.Path) {
	c.invalidate(p)
}

// invalidate removes all entries for the path and the parent's listing, so a
// created or removed child shows up on the next listing.
func (c *Caching) invalidate(p fspath.Path) {
	c.cache.InvalidatePath(c.key(p))
	if parent, err := p.Parent(); err == nil {
		c.cache.Invalidate(func(k cache.Key) bool {
			return k.Kind == cache.KindListing && k.Path == c.key(parent)
		})
	}
}

// invalidateSubtree drops every entry below the path.
func (c *Caching) invalidateSubtree(p fspath.Path) {
	prefix := childPrefix(c.key(p))
	c.cache.Invalidate(func(k cache.Key) bool {
		return strings.HasPrefix(k.Path, prefix)
	})
}

func listingSize(names []string) int64 {
	var n int64
	for _, s := range names {
		n += int64(len(s)) + 16
	}
	return n + 16
}

func blobsSize(infos []BlobInfo) int64 {
	var n int64
	for _, b := range infos {
		n += int64(len(b.Key)) + 32
	}
	return n + 16
}
