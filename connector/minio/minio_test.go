package minio

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blobfs/connector"
	"github.com/hupe1980/blobfs/fspath"
)

// TestConnector_Integration requires a running MinIO instance on the default
// local endpoint. Skips otherwise.
func TestConnector_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	bucket := "test-blobfs"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	prefix := fmt.Sprintf("test-%d/", time.Now().UnixNano())
	c := NewConnector(client, Config{Prefix: prefix})
	defer c.Close()

	p := fspath.MustNew(bucket, "docs", "report")

	t.Run("write list read", func(t *testing.T) {
		require.NoError(t, c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("hello "), []byte("minio")}))

		blobs, err := c.ListBlobs(ctx, p)
		require.NoError(t, err)
		require.Len(t, blobs, 2)

		cat, err := connector.BuildCatalog(p, blobs)
		require.NoError(t, err)
		assert.Equal(t, int64(11), cat.Size())

		got, err := c.ReadBlobRange(ctx, p, cat.Blobs()[1], 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []byte("minio"), got)
	})

	t.Run("no overwrite", func(t *testing.T) {
		err := c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("dupe")})
		assert.ErrorIs(t, err, connector.ErrAlreadyExists)
	})

	t.Run("directories", func(t *testing.T) {
		dir := fspath.MustNew(bucket, "dir")
		require.NoError(t, c.MakeDirectory(ctx, dir))

		ok, err := c.DirectoryExists(ctx, dir)
		require.NoError(t, err)
		assert.True(t, ok)

		children, err := c.ListChildren(ctx, fspath.MustNew(bucket, "docs"))
		require.NoError(t, err)
		assert.Equal(t, []string{"report"}, children)

		require.NoError(t, c.RemoveDirectory(ctx, dir, false))
	})

	t.Run("copy and delete", func(t *testing.T) {
		dst := fspath.MustNew(bucket, "docs", "copy")
		require.NoError(t, c.CopyFile(ctx, p, dst))

		blobs, err := c.ListBlobs(ctx, dst)
		require.NoError(t, err)
		assert.Len(t, blobs, 2)

		require.NoError(t, c.DeleteFile(ctx, dst))
		require.NoError(t, c.DeleteFile(ctx, p))

		ok, err := c.FileExists(ctx, p)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("rename unsupported", func(t *testing.T) {
		err := c.RenameFile(ctx, p, fspath.MustNew(bucket, "x"))
		assert.ErrorIs(t, err, connector.ErrUnsupported)
	})
}
