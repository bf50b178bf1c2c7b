package connector

import (
	"errors"
	"math"
	"testing"

	"github.com/hupe1980/blobfs/fspath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobsOf(gen uint64, lengths ...int64) []BlobInfo {
	infos := make([]BlobInfo, len(lengths))
	for i, n := range lengths {
		infos[i] = BlobInfo{Generation: gen, Index: i, Length: n, Key: BlobKey("f", gen, i)}
	}
	return infos
}

func TestBuildCatalog_SingleGeneration(t *testing.T) {
	p := fspath.MustNew("c", "f")
	cat, err := BuildCatalog(p, blobsOf(0, 10, 20, 5))
	require.NoError(t, err)

	assert.Equal(t, int64(35), cat.Size())
	assert.Equal(t, 3, cat.Len())
	assert.Equal(t, uint64(0), cat.Generation())
	assert.Empty(t, cat.Garbage())
}

func TestBuildCatalog_Empty(t *testing.T) {
	_, err := BuildCatalog(fspath.MustNew("c", "f"), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuildCatalog_UnorderedListing(t *testing.T) {
	infos := blobsOf(0, 10, 20, 5)
	infos[0], infos[2] = infos[2], infos[0]
	cat, err := BuildCatalog(fspath.MustNew("c", "f"), infos)
	require.NoError(t, err)
	assert.Equal(t, int64(35), cat.Size())
	assert.Equal(t, 0, cat.Blobs()[0].Index)
}

func TestBuildCatalog_GenerationSwap(t *testing.T) {
	p := fspath.MustNew("c", "f")

	// Both generations complete: the swap is uncommitted, old wins.
	infos := append(blobsOf(0, 10, 10), blobsOf(1, 30)...)
	cat, err := BuildCatalog(p, infos)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cat.Generation())
	assert.Equal(t, int64(20), cat.Size())
	assert.Len(t, cat.Garbage(), 1)

	// Old generation lost index 0 mid-deletion: new generation is active.
	infos = append(blobsOf(0, 10, 10)[1:], blobsOf(1, 30)...)
	cat, err = BuildCatalog(p, infos)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cat.Generation())
	assert.Equal(t, int64(30), cat.Size())
	assert.Len(t, cat.Garbage(), 1)

	// Incomplete new generation with intact old: old stays active.
	partial := blobsOf(1, 10, 10)[1:] // index 1 only
	infos = append(blobsOf(0, 5), partial...)
	cat, err = BuildCatalog(p, infos)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cat.Generation())
	assert.Len(t, cat.Garbage(), 1)
}

func TestBuildCatalog_NoUsableGeneration(t *testing.T) {
	infos := blobsOf(0, 10, 10, 10)[1:] // gap at index 0
	_, err := BuildCatalog(fspath.MustNew("c", "f"), infos)
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
}

func TestBuildCatalog_DuplicateIndex(t *testing.T) {
	infos := blobsOf(0, 10, 10)
	infos[1].Index = 0
	_, err := BuildCatalog(fspath.MustNew("c", "f"), infos)
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
}

func TestCatalog_Resolve(t *testing.T) {
	cat, err := BuildCatalog(fspath.MustNew("c", "f"), blobsOf(0, 10, 10, 10))
	require.NoError(t, err)

	t.Run("full range", func(t *testing.T) {
		spans, err := cat.Resolve(0, -1)
		require.NoError(t, err)
		require.Len(t, spans, 3)
		assert.Equal(t, int64(0), spans[0].BufOff)
		assert.Equal(t, int64(10), spans[1].BufOff)
		assert.Equal(t, int64(20), spans[2].BufOff)
	})

	t.Run("crossing one boundary", func(t *testing.T) {
		spans, err := cat.Resolve(5, 10)
		require.NoError(t, err)
		require.Len(t, spans, 2)
		assert.Equal(t, int64(5), spans[0].BlobOff)
		assert.Equal(t, int64(5), spans[0].Length)
		assert.Equal(t, int64(0), spans[1].BlobOff)
		assert.Equal(t, int64(5), spans[1].Length)
		assert.Equal(t, int64(5), spans[1].BufOff)
	})

	t.Run("inside one blob", func(t *testing.T) {
		spans, err := cat.Resolve(12, 3)
		require.NoError(t, err)
		require.Len(t, spans, 1)
		assert.Equal(t, 1, spans[0].Blob.Index)
		assert.Equal(t, int64(2), spans[0].BlobOff)
	})

	t.Run("zero length", func(t *testing.T) {
		spans, err := cat.Resolve(30, -1)
		require.NoError(t, err)
		assert.Empty(t, spans)
	})

	t.Run("out of bounds", func(t *testing.T) {
		for _, tc := range [][2]int64{{-1, 1}, {0, 31}, {31, -1}, {25, 10}, {0, -2}, {1, math.MaxInt64}} {
			_, err := cat.Resolve(tc[0], tc[1])
			var ire *InvalidRangeError
			require.ErrorAs(t, err, &ire, "range %v", tc)
		}
	})
}

func TestCatalog_ResolveTornTrailingBlobExcluded(t *testing.T) {
	// A torn trailing blob is not listed by the backend; the catalog exposes
	// only the confirmed prefix.
	cat, err := BuildCatalog(fspath.MustNew("c", "f"), blobsOf(0, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(20), cat.Size())
	_, err = cat.Resolve(0, 25)
	assert.True(t, errorsAsInvalidRange(err))
}

func errorsAsInvalidRange(err error) bool {
	var ire *InvalidRangeError
	return errors.As(err, &ire)
}
