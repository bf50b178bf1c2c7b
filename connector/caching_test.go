package connector

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/blobfs/fspath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingConnector counts backend round-trips to observe cache behavior.
type countingConnector struct {
	Connector
	listChildren atomic.Int64
	listBlobs    atomic.Int64
	fileExists   atomic.Int64
}

func (c *countingConnector) ListChildren(ctx context.Context, dir fspath.Path) ([]string, error) {
	c.listChildren.Add(1)
	return c.Connector.ListChildren(ctx, dir)
}

func (c *countingConnector) ListBlobs(ctx context.Context, p fspath.Path) ([]BlobInfo, error) {
	c.listBlobs.Add(1)
	return c.Connector.ListBlobs(ctx, p)
}

func (c *countingConnector) FileExists(ctx context.Context, p fspath.Path) (bool, error) {
	c.fileExists.Add(1)
	return c.Connector.FileExists(ctx, p)
}

func newCachingFixture() (*countingConnector, *Caching) {
	inner := &countingConnector{Connector: NewMemory()}
	return inner, NewCaching(inner, 0)
}

func TestCaching_ListBlobsMemoized(t *testing.T) {
	ctx := context.Background()
	inner, c := newCachingFixture()
	p := fspath.MustNew("c", "f")

	require.NoError(t, c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("data")}))

	for i := 0; i < 3; i++ {
		infos, err := c.ListBlobs(ctx, p)
		require.NoError(t, err)
		assert.Len(t, infos, 1)
	}
	assert.Equal(t, int64(1), inner.listBlobs.Load())

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCaching_ResultsAreIsolatedCopies(t *testing.T) {
	ctx := context.Background()
	_, c := newCachingFixture()
	dir := fspath.MustNew("c", "d")
	p := fspath.MustNew("c", "d", "f")

	require.NoError(t, c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("data")}))

	names, err := c.ListChildren(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, []string{"f"}, names)
	names[0] = "mangled"

	names, err = c.ListChildren(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, names, "caller mutation must not poison the cache")

	infos, err := c.ListBlobs(ctx, p)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	infos[0].Length = 9999

	infos, err = c.ListBlobs(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(4), infos[0].Length)
}

func TestCaching_WriteInvalidatesCatalog(t *testing.T) {
	ctx := context.Background()
	inner, c := newCachingFixture()
	p := fspath.MustNew("c", "f")

	require.NoError(t, c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("one")}))
	_, err := c.ListBlobs(ctx, p)
	require.NoError(t, err)

	require.NoError(t, c.WriteBlobs(ctx, p, 0, 1, [][]byte{[]byte("two")}))

	infos, err := c.ListBlobs(ctx, p)
	require.NoError(t, err)
	assert.Len(t, infos, 2, "read after write must observe the new state")
	assert.Equal(t, int64(2), inner.listBlobs.Load())
}

func TestCaching_MutationInvalidatesParentListing(t *testing.T) {
	ctx := context.Background()
	inner, c := newCachingFixture()
	root := fspath.MustNew("c")

	require.NoError(t, c.WriteBlobs(ctx, fspath.MustNew("c", "a"), 0, 0, [][]byte{[]byte("x")}))

	children, err := c.ListChildren(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, children)

	// Creating a sibling must drop the cached root listing.
	require.NoError(t, c.WriteBlobs(ctx, fspath.MustNew("c", "b"), 0, 0, [][]byte{[]byte("y")}))

	children, err = c.ListChildren(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, children)

	// Deleting must as well.
	require.NoError(t, c.DeleteFile(ctx, fspath.MustNew("c", "a")))
	children, err = c.ListChildren(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, children)

	assert.Equal(t, int64(3), inner.listChildren.Load())
}

func TestCaching_FileExistsMemoizedAndInvalidated(t *testing.T) {
	ctx := context.Background()
	inner, c := newCachingFixture()
	p := fspath.MustNew("c", "f")

	for i := 0; i < 2; i++ {
		ok, err := c.FileExists(ctx, p)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, int64(1), inner.fileExists.Load())

	require.NoError(t, c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("x")}))

	ok, err := c.FileExists(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCaching_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	inner, c := newCachingFixture()
	p := fspath.MustNew("c", "missing")

	for i := 0; i < 2; i++ {
		_, err := c.ListBlobs(ctx, p)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int64(2), inner.listBlobs.Load())
}

func TestCaching_RecursiveRemoveInvalidatesSubtree(t *testing.T) {
	ctx := context.Background()
	_, c := newCachingFixture()
	dir := fspath.MustNew("c", "d")
	file := fspath.MustNew("c", "d", "f")

	require.NoError(t, c.MakeDirectory(ctx, dir))
	require.NoError(t, c.WriteBlobs(ctx, file, 0, 0, [][]byte{[]byte("x")}))
	_, err := c.ListBlobs(ctx, file)
	require.NoError(t, err)

	require.NoError(t, c.RemoveDirectory(ctx, dir, true))

	_, err = c.ListBlobs(ctx, file)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCaching_PassesThroughSpec(t *testing.T) {
	inner, c := newCachingFixture()
	assert.Equal(t, inner.Spec(), c.Spec())
	assert.Same(t, inner, c.Inner().(*countingConnector))
}
