package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"golang.org/x/time/rate"

	"github.com/hupe1980/blobfs/connector"
	"github.com/hupe1980/blobfs/fspath"
)

// Config configures the MinIO connector.
type Config struct {
	// Prefix is prepended to all object keys (e.g. "blobfs/").
	Prefix string
	// MaxBlobSize is the chunking ceiling. Defaults to 8MiB.
	MaxBlobSize int64
	// Validator sets the naming rules. Defaults to fspath.ObjectStore.
	Validator fspath.Validator
	// Limiter optionally throttles requests to the server. Nil disables
	// throttling.
	Limiter *rate.Limiter
}

// Connector stores blobs as MinIO objects, the path container naming the
// bucket. Safe for concurrent use.
type Connector struct {
	client  *minio.Client
	prefix  string
	limiter *rate.Limiter
	spec    connector.BackendSpec
	closed  atomic.Bool
}

var _ connector.Connector = (*Connector)(nil)

// NewConnector creates a MinIO connector on top of an existing client.
func NewConnector(client *minio.Client, cfg Config) *Connector {
	if cfg.MaxBlobSize <= 0 {
		cfg.MaxBlobSize = 8 << 20
	}
	if cfg.Validator == nil {
		cfg.Validator = fspath.ObjectStore{}
	}
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Connector{
		client:  client,
		prefix:  prefix,
		limiter: cfg.Limiter,
		spec: connector.BackendSpec{
			MaxBlobSize:  cfg.MaxBlobSize,
			AtomicRename: false,
			Validator:    cfg.Validator,
		},
	}
}

func (c *Connector) Spec() connector.BackendSpec { return c.spec }

func (c *Connector) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Connector) guard(ctx context.Context) error {
	if c.closed.Load() {
		return connector.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.limiter != nil {
		return c.limiter.Wait(ctx)
	}
	return nil
}

func (c *Connector) bucket(p fspath.Path) string {
	return c.spec.Validator.Normalize(p.Container())
}

func (c *Connector) dirPrefix(p fspath.Path) string {
	v := c.spec.Validator
	var sb strings.Builder
	sb.WriteString(c.prefix)
	for _, seg := range p.Segments() {
		sb.WriteString(v.Normalize(seg))
		sb.WriteString("/")
	}
	return sb.String()
}

func (c *Connector) filePlace(p fspath.Path) (prefix, name string) {
	v := c.spec.Validator
	segs := p.Segments()
	var sb strings.Builder
	sb.WriteString(c.prefix)
	for _, seg := range segs[:len(segs)-1] {
		sb.WriteString(v.Normalize(seg))
		sb.WriteString("/")
	}
	return sb.String(), v.Normalize(p.Name())
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound" || resp.Code == "NoSuchBucket"
}

func (c *Connector) ListChildren(ctx context.Context, dir fspath.Path) ([]string, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	prefix := c.dirPrefix(dir)

	seen := make(map[string]struct{})
	var children []string
	found := false

	for obj := range c.client.ListObjects(ctx, c.bucket(dir), minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				break
			}
			return nil, connector.Unavailable(obj.Err)
		}
		found = true
		rest := strings.TrimPrefix(obj.Key, prefix)
		if rest == "" {
			continue // the directory's own marker
		}
		name := rest
		if sub, isDir := strings.CutSuffix(rest, "/"); isDir {
			name = sub
		} else if n, ok := connector.BlobFileName(rest); ok {
			name = n
		} else {
			continue
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			children = append(children, name)
		}
	}

	if !found && !dir.IsRoot() {
		return nil, fmt.Errorf("%w: directory %s", connector.ErrNotFound, dir)
	}
	sort.Strings(children)
	return children, nil
}

func (c *Connector) FileExists(ctx context.Context, p fspath.Path) (bool, error) {
	if err := c.guard(ctx); err != nil {
		return false, err
	}
	infos, err := c.listBlobObjects(ctx, p)
	if err != nil {
		return false, err
	}
	return len(infos) > 0, nil
}

func (c *Connector) DirectoryExists(ctx context.Context, p fspath.Path) (bool, error) {
	if err := c.guard(ctx); err != nil {
		return false, err
	}
	if p.IsRoot() {
		return true, nil
	}
	for obj := range c.client.ListObjects(ctx, c.bucket(p), minio.ListObjectsOptions{
		Prefix:  c.dirPrefix(p),
		MaxKeys: 1,
	}) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				return false, nil
			}
			return false, connector.Unavailable(obj.Err)
		}
		return true, nil
	}
	return false, nil
}

func (c *Connector) listBlobObjects(ctx context.Context, p fspath.Path) ([]connector.BlobInfo, error) {
	prefix, name := c.filePlace(p)
	var infos []connector.BlobInfo

	for obj := range c.client.ListObjects(ctx, c.bucket(p), minio.ListObjectsOptions{
		Prefix:    prefix + name + ".",
		Recursive: true,
	}) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				return nil, nil
			}
			return nil, connector.Unavailable(obj.Err)
		}
		base := strings.TrimPrefix(obj.Key, prefix)
		gen, idx, ok := connector.ParseBlobKey(name, base)
		if !ok {
			continue
		}
		infos = append(infos, connector.BlobInfo{
			Generation: gen,
			Index:      idx,
			Length:     obj.Size,
			Key:        base,
		})
	}
	return infos, nil
}

func (c *Connector) ListBlobs(ctx context.Context, p fspath.Path) ([]connector.BlobInfo, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	infos, err := c.listBlobObjects(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: file %s", connector.ErrNotFound, p)
	}
	return infos, nil
}

func (c *Connector) ReadBlobRange(ctx context.Context, p fspath.Path, b connector.BlobInfo, off, length int64) ([]byte, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	if length == -1 {
		length = b.Length - off
	}
	if off < 0 || off > b.Length || length < 0 || length > b.Length-off {
		return nil, &connector.InvalidRangeError{Offset: off, Length: length, Size: b.Length}
	}
	if length == 0 {
		return []byte{}, nil
	}
	prefix, _ := c.filePlace(p)

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, off+length-1); err != nil {
		return nil, fmt.Errorf("minio: range: %w", err)
	}
	obj, err := c.client.GetObject(ctx, c.bucket(p), prefix+b.Key, opts)
	if err != nil {
		return nil, connector.Unavailable(err)
	}
	defer func() { _ = obj.Close() }()

	out := make([]byte, length)
	n, err := io.ReadFull(obj, out)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: blob %s", connector.ErrNotFound, b.Key)
		}
		return nil, connector.NewConsistencyError(p, fmt.Sprintf("blob %s short read %d of %d", b.Key, n, length), err)
	}
	return out, nil
}

func (c *Connector) WriteBlobs(ctx context.Context, p fspath.Path, gen uint64, startIndex int, blobs [][]byte) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	bucket := c.bucket(p)
	prefix, name := c.filePlace(p)
	for i, data := range blobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := prefix + connector.BlobKey(name, gen, startIndex+i)
		if _, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err == nil {
			return fmt.Errorf("%w: blob %s already committed", connector.ErrAlreadyExists, key)
		} else if !isNotFound(err) {
			return connector.Unavailable(err)
		}
		_, err := c.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			SendContentMd5: true,
		})
		if err != nil {
			return connector.Unavailable(err)
		}
	}
	return nil
}

func (c *Connector) DeleteBlobs(ctx context.Context, p fspath.Path, blobs []connector.BlobInfo) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	bucket := c.bucket(p)
	prefix, _ := c.filePlace(p)
	for _, b := range blobs {
		if err := c.removeObject(ctx, bucket, prefix+b.Key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) removeObject(ctx context.Context, bucket, key string) error {
	err := c.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return connector.Unavailable(err)
	}
	return nil
}

func (c *Connector) DeleteFile(ctx context.Context, p fspath.Path) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	infos, err := c.listBlobObjects(ctx, p)
	if err != nil {
		return err
	}
	bucket := c.bucket(p)
	prefix, _ := c.filePlace(p)
	for _, b := range infos {
		if err := c.removeObject(ctx, bucket, prefix+b.Key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) MakeDirectory(ctx context.Context, p fspath.Path) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	exists, err := c.FileExists(ctx, p)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: file %s", connector.ErrAlreadyExists, p)
	}
	ok, err := c.DirectoryExists(ctx, p)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: directory %s", connector.ErrAlreadyExists, p)
	}
	_, err = c.client.PutObject(ctx, c.bucket(p), c.dirPrefix(p), bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	if err != nil {
		return connector.Unavailable(err)
	}
	return nil
}

func (c *Connector) RemoveDirectory(ctx context.Context, p fspath.Path, recursive bool) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	bucket := c.bucket(p)
	prefix := c.dirPrefix(p)

	var keys []string
	nonMarker := false
	for obj := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				break
			}
			return connector.Unavailable(obj.Err)
		}
		keys = append(keys, obj.Key)
		if obj.Key != prefix {
			nonMarker = true
		}
	}

	if len(keys) == 0 {
		if p.IsRoot() {
			return nil
		}
		return fmt.Errorf("%w: directory %s", connector.ErrNotFound, p)
	}
	if nonMarker && !recursive {
		return fmt.Errorf("%w: %s", connector.ErrNotEmpty, p)
	}
	for _, key := range keys {
		if err := c.removeObject(ctx, bucket, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) CopyFile(ctx context.Context, src, dst fspath.Path) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	infos, err := c.listBlobObjects(ctx, src)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		return fmt.Errorf("%w: file %s", connector.ErrNotFound, src)
	}
	if err := c.DeleteFile(ctx, dst); err != nil {
		return err
	}
	srcPrefix, _ := c.filePlace(src)
	dstPrefix, dstName := c.filePlace(dst)
	for _, b := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.client.CopyObject(ctx,
			minio.CopyDestOptions{
				Bucket: c.bucket(dst),
				Object: dstPrefix + connector.BlobKey(dstName, b.Generation, b.Index),
			},
			minio.CopySrcOptions{
				Bucket: c.bucket(src),
				Object: srcPrefix + b.Key,
			},
		)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: blob %s", connector.ErrNotFound, b.Key)
			}
			return connector.Unavailable(err)
		}
	}
	return nil
}

func (c *Connector) RenameFile(ctx context.Context, src, dst fspath.Path) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	return fmt.Errorf("%w: object stores have no atomic rename", connector.ErrUnsupported)
}
