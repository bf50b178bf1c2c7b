package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/hupe1980/blobfs/connector"
	"github.com/hupe1980/blobfs/fspath"
)

// Config configures the S3 connector.
type Config struct {
	// Prefix is prepended to all object keys (e.g. "blobfs/").
	Prefix string
	// MaxBlobSize is the chunking ceiling. Defaults to 8MiB, matching the
	// uploader part size so a blob is always a single-part upload.
	MaxBlobSize int64
	// Validator sets the naming rules. Defaults to fspath.ObjectStore.
	Validator fspath.Validator
	// UploadConcurrency is the transfer manager concurrency. Defaults to 5.
	UploadConcurrency int
	// Limiter optionally throttles S3 calls client-side.
	Limiter *rate.Limiter
}

// Connector stores blobs as S3 objects, the path container naming the bucket.
// Safe for concurrent use.
type Connector struct {
	client   Client
	uploader *manager.Uploader
	prefix   string
	limiter  *rate.Limiter
	spec     connector.BackendSpec
	closed   atomic.Bool
}

var _ connector.Connector = (*Connector)(nil)

// New creates an S3 connector on top of an existing client.
func New(client Client, cfg Config) *Connector {
	if cfg.MaxBlobSize <= 0 {
		cfg.MaxBlobSize = 8 << 20
	}
	if cfg.Validator == nil {
		cfg.Validator = fspath.ObjectStore{}
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 5
	}
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = cfg.MaxBlobSize
		u.Concurrency = cfg.UploadConcurrency
	})
	return &Connector{
		client:   client,
		uploader: uploader,
		prefix:   prefix,
		limiter:  cfg.Limiter,
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

// dirPrefix returns the object-key prefix of a directory, "" for the bucket
// root without a configured prefix, always "/"-terminated otherwise.
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

// filePlace returns the key prefix of p's parent and p's normalized name.
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
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "PreconditionFailed"
}

func (c *Connector) ListChildren(ctx context.Context, dir fspath.Path) ([]string, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	bucket := c.bucket(dir)
	prefix := c.dirPrefix(dir)

	seen := make(map[string]struct{})
	var children []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			children = append(children, name)
		}
	}

	found := false
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNotFound(err) {
				break
			}
			return nil, connector.Unavailable(err)
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			sub := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			add(sub)
		}
		for _, obj := range page.Contents {
			found = true
			base := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if base == "" {
				continue // the directory's own marker
			}
			if name, ok := connector.BlobFileName(base); ok {
				add(name)
			}
		}
	}

	if !found && !dir.IsRoot() {
		ok, err := c.DirectoryExists(ctx, dir)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: directory %s", connector.ErrNotFound, dir)
		}
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
	prefix := c.dirPrefix(p)
	out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket(p)),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, connector.Unavailable(err)
	}
	return aws.ToInt32(out.KeyCount) > 0, nil
}

// listBlobObjects lists the raw blob objects of p by prefix.
func (c *Connector) listBlobObjects(ctx context.Context, p fspath.Path) ([]connector.BlobInfo, error) {
	prefix, name := c.filePlace(p)
	var infos []connector.BlobInfo

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket(p)),
		Prefix: aws.String(prefix + name + "."),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, connector.Unavailable(err)
		}
		for _, obj := range page.Contents {
			base := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			gen, idx, ok := connector.ParseBlobKey(name, base)
			if !ok {
				continue
			}
			infos = append(infos, connector.BlobInfo{
				Generation: gen,
				Index:      idx,
				Length:     aws.ToInt64(obj.Size),
				Key:        base,
			})
		}
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

	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket(p)),
		Key:    aws.String(prefix + b.Key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+length-1)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: blob %s", connector.ErrNotFound, b.Key)
		}
		return nil, connector.Unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	out := make([]byte, length)
	n, err := io.ReadFull(resp.Body, out)
	if err != nil {
		// The object shrank between listing and read: the catalog is stale.
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
		_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:            aws.String(bucket),
			Key:               aws.String(key),
			Body:              bytes.NewReader(data),
			IfNoneMatch:       aws.String("*"),
			ChecksumAlgorithm: types.ChecksumAlgorithmCrc32c,
		})
		if err != nil {
			if isPreconditionFailed(err) {
				return fmt.Errorf("%w: blob %s already committed", connector.ErrAlreadyExists, key)
			}
			return connector.Unavailable(err)
		}
	}
	return nil
}

func (c *Connector) DeleteBlobs(ctx context.Context, p fspath.Path, blobs []connector.BlobInfo) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	if len(blobs) == 0 {
		return nil
	}
	prefix, _ := c.filePlace(p)
	keys := make([]string, len(blobs))
	for i, b := range blobs {
		keys[i] = prefix + b.Key
	}
	return c.deleteKeys(ctx, c.bucket(p), keys)
}

// deleteKeys batch-deletes object keys, 1000 per call per the S3 limit.
func (c *Connector) deleteKeys(ctx context.Context, bucket string, keys []string) error {
	const batch = 1000
	for len(keys) > 0 {
		n := min(batch, len(keys))
		objs := make([]types.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			objs[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		out, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: objs, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return connector.Unavailable(err)
		}
		for _, e := range out.Errors {
			if code := aws.ToString(e.Code); code != "NoSuchKey" {
				return connector.Unavailable(fmt.Errorf("delete %s: %s", aws.ToString(e.Key), code))
			}
		}
		keys = keys[n:]
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
	if len(infos) == 0 {
		return nil
	}
	prefix, _ := c.filePlace(p)
	keys := make([]string, len(infos))
	for i, b := range infos {
		keys[i] = prefix + b.Key
	}
	return c.deleteKeys(ctx, c.bucket(p), keys)
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
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket(p)),
		Key:    aws.String(c.dirPrefix(p)),
		Body:   bytes.NewReader(nil),
	})
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
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isNotFound(err) {
				break
			}
			return connector.Unavailable(err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			keys = append(keys, key)
			if key != prefix {
				nonMarker = true
			}
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
	return c.deleteKeys(ctx, bucket, keys)
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
	srcBucket := c.bucket(src)
	srcPrefix, _ := c.filePlace(src)
	dstPrefix, dstName := c.filePlace(dst)
	for _, b := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}
		dstKey := dstPrefix + connector.BlobKey(dstName, b.Generation, b.Index)
		_, err := c.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(c.bucket(dst)),
			Key:        aws.String(dstKey),
			CopySource: aws.String(srcBucket + "/" + srcPrefix + b.Key),
		})
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
	return fmt.Errorf("%w: S3 has no atomic rename", connector.ErrUnsupported)
}
