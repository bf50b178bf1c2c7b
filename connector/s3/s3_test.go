package s3

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/blobfs/connector"
	"github.com/hupe1980/blobfs/fspath"
)

// mockClient is an in-memory S3 double covering the calls the connector
// makes: single-part puts, range gets, prefix listing, server-side copy and
// batch delete.
type mockClient struct {
	mu      sync.RWMutex
	objects map[string]map[string][]byte // bucket -> key -> content
}

func newMockClient() *mockClient {
	return &mockClient{objects: make(map[string]map[string][]byte)}
}

func (m *mockClient) bucket(name string) map[string][]byte {
	b, ok := m.objects[name]
	if !ok {
		b = make(map[string][]byte)
		m.objects[name] = b
	}
	return b
}

func (m *mockClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bucket(aws.ToString(in.Bucket))
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, exists := b[key]; exists {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "object exists"}
		}
	}
	b[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.objects[aws.ToString(in.Bucket)]
	data, ok := b[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	if r := aws.ToString(in.Range); r != "" {
		var start, end int64
		if _, err := fmt.Sscanf(r, "bytes=%d-%d", &start, &end); err != nil {
			return nil, fmt.Errorf("bad range %q", r)
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		data = data[start : end+1]
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(string(data))),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (m *mockClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.objects[aws.ToString(in.Bucket)]
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	var keys []string
	for k := range b {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	commons := make(map[string]struct{})
	count := int32(0)
	for _, k := range keys {
		if aws.ToInt32(in.MaxKeys) > 0 && count >= aws.ToInt32(in.MaxKeys) {
			break
		}
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if _, dup := commons[cp]; !dup {
					commons[cp] = struct{}{}
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
					count++
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(b[k]))),
		})
		count++
	}
	out.KeyCount = aws.Int32(count)
	return out, nil
}

func (m *mockClient) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := aws.ToString(in.CopySource)
	bucket, key, _ := strings.Cut(src, "/")
	data, ok := m.objects[bucket][key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.bucket(aws.ToString(in.Bucket))[aws.ToString(in.Key)] = cp
	return &s3.CopyObjectOutput{}, nil
}

func (m *mockClient) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.objects[aws.ToString(in.Bucket)]
	for _, obj := range in.Delete.Objects {
		delete(b, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

// Multipart methods satisfy manager.UploadAPIClient; blobs never exceed the
// part size, so the uploader always takes the single PutObject path.
func (m *mockClient) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported by mock")
}

func (m *mockClient) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, fmt.Errorf("multipart not supported by mock")
}

func (m *mockClient) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported by mock")
}

func (m *mockClient) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported by mock")
}

func newTestConnector(t *testing.T, cfg Config) (*Connector, *mockClient) {
	t.Helper()
	mock := newMockClient()
	c := New(mock, cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c, mock
}

func TestWriteListRead(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestConnector(t, Config{Prefix: "blobfs"})
	p := fspath.MustNew("my-bucket", "docs", "report")

	require.NoError(t, c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("hello "), []byte("world")}))
	assert.Contains(t, mock.objects["my-bucket"], "blobfs/docs/report.0")

	blobs, err := c.ListBlobs(ctx, p)
	require.NoError(t, err)
	require.Len(t, blobs, 2)

	cat, err := connector.BuildCatalog(p, blobs)
	require.NoError(t, err)
	assert.Equal(t, int64(11), cat.Size())

	got, err := c.ReadBlobRange(ctx, p, cat.Blobs()[0], 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello "), got)

	got, err = c.ReadBlobRange(ctx, p, cat.Blobs()[1], 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("orl"), got)
}

func TestWriteNeverOverwritesCommitted(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t, Config{})
	p := fspath.MustNew("my-bucket", "f")

	require.NoError(t, c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("v1")}))
	err := c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("v2")})
	assert.ErrorIs(t, err, connector.ErrAlreadyExists)
}

func TestReadRangeValidation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t, Config{})
	p := fspath.MustNew("my-bucket", "f")

	require.NoError(t, c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("0123456789")}))
	blobs, err := c.ListBlobs(ctx, p)
	require.NoError(t, err)

	_, err = c.ReadBlobRange(ctx, p, blobs[0], 5, 10)
	var ire *connector.InvalidRangeError
	assert.ErrorAs(t, err, &ire)

	got, err := c.ReadBlobRange(ctx, p, blobs[0], 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDirectories(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestConnector(t, Config{})
	dir := fspath.MustNew("my-bucket", "a", "b")

	require.NoError(t, c.MakeDirectory(ctx, dir))
	assert.Contains(t, mock.objects["my-bucket"], "a/b/")
	assert.ErrorIs(t, c.MakeDirectory(ctx, dir), connector.ErrAlreadyExists)

	ok, err := c.DirectoryExists(ctx, dir)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.WriteBlobs(ctx, fspath.MustNew("my-bucket", "a", "b", "f"), 0, 0, [][]byte{[]byte("x")}))

	children, err := c.ListChildren(ctx, fspath.MustNew("my-bucket", "a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, children)

	children, err = c.ListChildren(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"f"}, children)

	assert.ErrorIs(t, c.RemoveDirectory(ctx, dir, false), connector.ErrNotEmpty)
	require.NoError(t, c.RemoveDirectory(ctx, dir, true))

	ok, err = c.DirectoryExists(ctx, dir)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.ListChildren(ctx, dir)
	assert.ErrorIs(t, err, connector.ErrNotFound)
}

func TestImplicitDirectoryFromFile(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t, Config{})

	require.NoError(t, c.WriteBlobs(ctx, fspath.MustNew("my-bucket", "deep", "nested", "f"), 0, 0, [][]byte{[]byte("x")}))

	ok, err := c.DirectoryExists(ctx, fspath.MustNew("my-bucket", "deep"))
	require.NoError(t, err)
	assert.True(t, ok, "prefix of an existing object is a directory")
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t, Config{})
	p := fspath.MustNew("my-bucket", "f")

	require.NoError(t, c.WriteBlobs(ctx, p, 0, 0, [][]byte{[]byte("a"), []byte("b")}))
	require.NoError(t, c.DeleteFile(ctx, p))
	require.NoError(t, c.DeleteFile(ctx, p), "idempotent")

	ok, err := c.FileExists(ctx, p)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCopyFile(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t, Config{Prefix: "root/"})
	src := fspath.MustNew("my-bucket", "src")
	dst := fspath.MustNew("my-bucket", "sub", "dst")

	require.NoError(t, c.WriteBlobs(ctx, src, 1, 0, [][]byte{[]byte("aa"), []byte("bb")}))
	require.NoError(t, c.CopyFile(ctx, src, dst))

	blobs, err := c.ListBlobs(ctx, dst)
	require.NoError(t, err)
	cat, err := connector.BuildCatalog(dst, blobs)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cat.Generation())

	got, err := c.ReadBlobRange(ctx, dst, cat.Blobs()[1], 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []byte("bb"), got)
}

func TestRenameUnsupported(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t, Config{})
	err := c.RenameFile(ctx, fspath.MustNew("my-bucket", "a"), fspath.MustNew("my-bucket", "b"))
	assert.ErrorIs(t, err, connector.ErrUnsupported)
	assert.False(t, c.Spec().AtomicRename)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConnector(t, Config{})
	require.NoError(t, c.Close())
	_, err := c.ListChildren(ctx, fspath.MustNew("my-bucket"))
	assert.ErrorIs(t, err, connector.ErrClosed)
}
