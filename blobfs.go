package blobfs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/blobfs/connector"
	"github.com/hupe1980/blobfs/fspath"
	"github.com/hupe1980/blobfs/internal/lock"
)

// FileInfo describes a stored file.
type FileInfo struct {
	Path       fspath.Path
	Size       int64
	Blobs      int
	Generation uint64
}

// FileSystem is the backend-agnostic file storage facade. All operations
// validate paths up front, honor context cancellation and are safe for
// concurrent use.
type FileSystem struct {
	conn            connector.Connector
	cache           *connector.Caching // nil when caching is disabled
	spec            connector.BackendSpec
	validator       fspath.Validator
	locks           *lock.Table
	logger          *Logger
	metrics         MetricsCollector
	readConcurrency int
	closed          atomic.Bool
}

// New creates a FileSystem over the given connector.
func New(conn connector.Connector, opts ...Option) (*FileSystem, error) {
	if conn == nil {
		return nil, errors.New("blobfs: nil connector")
	}
	spec := conn.Spec()
	if spec.MaxBlobSize <= 0 {
		return nil, fmt.Errorf("blobfs: connector declares invalid max blob size %d", spec.MaxBlobSize)
	}

	o := options{
		logger:          NoopLogger(),
		metrics:         NoopMetricsCollector{},
		readConcurrency: 4,
	}
	for _, opt := range opts {
		opt(&o)
	}

	validator := o.validator
	if validator == nil {
		validator = spec.Validator
	}

	fs := &FileSystem{
		conn:            conn,
		spec:            spec,
		validator:       validator,
		locks:           lock.NewTable(),
		logger:          o.logger,
		metrics:         o.metrics,
		readConcurrency: o.readConcurrency,
	}
	if o.cacheCapacity > 0 {
		fs.cache = connector.NewCaching(conn, o.cacheCapacity)
		fs.conn = fs.cache
	}
	return fs, nil
}

// Close releases the underlying connector. Idempotent and safe to call
// concurrently; operations started after Close fail with ErrClosed.
func (fs *FileSystem) Close() error {
	if !fs.closed.CompareAndSwap(false, true) {
		return nil
	}
	return fs.conn.Close()
}

// CacheStats reports cache hits and misses. Zeros when caching is disabled.
func (fs *FileSystem) CacheStats() (hits, misses int64) {
	if fs.cache == nil {
		return 0, 0
	}
	return fs.cache.Stats()
}

func (fs *FileSystem) key(p fspath.Path) string { return p.Key(fs.validator) }

// checkFile validates a file path before any backend call.
func (fs *FileSystem) checkFile(p fspath.Path) error {
	if fs.closed.Load() {
		return connector.ErrClosed
	}
	if p.IsRoot() {
		return fspath.NewInvalidPathError(p.String(), "a container root is not a file", nil)
	}
	return p.Validate(fs.validator)
}

// checkDir validates a directory path before any backend call.
func (fs *FileSystem) checkDir(p fspath.Path) error {
	if fs.closed.Load() {
		return connector.ErrClosed
	}
	return p.Validate(fs.validator)
}

func (fs *FileSystem) catalog(ctx context.Context, p fspath.Path) (*connector.Catalog, error) {
	infos, err := fs.conn.ListBlobs(ctx, p)
	if err != nil {
		return nil, err
	}
	return connector.BuildCatalog(p, infos)
}

// invalidate drops cached state for the path so the next access rebuilds
// from the live listing. No-op without caching.
func (fs *FileSystem) invalidate(p fspath.Path) {
	if fs.cache != nil {
		fs.cache.Invalidate(p)
	}
}

// Read returns [off, off+length) of the file's content. length = -1 reads to
// the end. Requests outside the current size fail with InvalidRangeError
// before any blob is fetched.
func (fs *FileSystem) Read(ctx context.Context, p fspath.Path, off, length int64) ([]byte, error) {
	start := time.Now()
	out, err := fs.read(ctx, p, off, length)
	fs.metrics.RecordRead(int64(len(out)), time.Since(start), err)
	return out, err
}

// ReadAll returns the complete content of the file.
func (fs *FileSystem) ReadAll(ctx context.Context, p fspath.Path) ([]byte, error) {
	return fs.Read(ctx, p, 0, -1)
}

func (fs *FileSystem) read(ctx context.Context, p fspath.Path, off, length int64) ([]byte, error) {
	if err := fs.checkFile(p); err != nil {
		return nil, err
	}
	out, err := fs.readOnce(ctx, p, off, length)
	var ce *connector.ConsistencyError
	if err != nil && errors.As(err, &ce) {
		// The observed catalog went stale, likely due to a concurrent
		// generation swap. Rebuild from the live listing and retry once.
		fs.logger.WithPath(p).Warn("catalog inconsistency, rebuilding", "reason", ce.Reason)
		fs.invalidate(p)
		out, err = fs.readOnce(ctx, p, off, length)
	}
	return out, err
}

func (fs *FileSystem) readOnce(ctx context.Context, p fspath.Path, off, length int64) ([]byte, error) {
	cat, err := fs.catalog(ctx, p)
	if err != nil {
		return nil, err
	}
	spans, err := cat.Resolve(off, length)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return []byte{}, nil
	}

	var total int64
	for _, s := range spans {
		total += s.Length
	}
	out := make([]byte, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fs.readConcurrency)
	for _, s := range spans {
		s := s
		g.Go(func() error {
			data, err := fs.conn.ReadBlobRange(gctx, p, s.Blob, s.BlobOff, s.Length)
			if err != nil {
				if errors.Is(err, connector.ErrNotFound) {
					// The listing said this blob existed; a concurrent
					// generation swap removed it underneath us.
					return connector.NewConsistencyError(p, fmt.Sprintf("blob %s disappeared after listing", s.Blob.Key), err)
				}
				return err
			}
			if int64(len(data)) != s.Length {
				return connector.NewConsistencyError(p, fmt.Sprintf("blob %s returned %d bytes, want %d", s.Blob.Key, len(data), s.Length), nil)
			}
			copy(out[s.BufOff:], data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Write replaces the file's content with the concatenation of ranges. The
// new content is committed under the next generation before the old one is
// removed, so concurrent readers see the old or the new content in full.
// Creates the file if absent; an empty write creates an empty file.
func (fs *FileSystem) Write(ctx context.Context, p fspath.Path, ranges ...[]byte) error {
	start := time.Now()
	data := concat(ranges)
	blobs := split(data, fs.spec.MaxBlobSize)
	err := fs.write(ctx, p, blobs)
	fs.metrics.RecordWrite(int64(len(data)), len(blobs), time.Since(start), err)
	return err
}

func (fs *FileSystem) write(ctx context.Context, p fspath.Path, blobs [][]byte) error {
	if err := fs.checkFile(p); err != nil {
		return err
	}
	unlock := fs.locks.Lock(fs.key(p))
	defer unlock()

	st, err := fs.currentState(ctx, p)
	if err != nil {
		return err
	}
	newGen := uint64(0)
	if len(st.active) > 0 || len(st.garbage) > 0 {
		newGen = st.maxGen + 1
	}

	if err := fs.conn.WriteBlobs(ctx, p, newGen, 0, blobs); err != nil {
		return err
	}
	// The new generation is fully committed; removing the old one from index
	// 0 upward flips readers over atomically under the lowest-contiguous
	// selection rule.
	if len(st.active) > 0 {
		if err := fs.conn.DeleteBlobs(ctx, p, st.active); err != nil {
			return err
		}
	}
	if len(st.garbage) > 0 {
		if err := fs.conn.DeleteBlobs(ctx, p, st.garbage); err != nil {
			return err
		}
	}
	return nil
}

// fileState is a snapshot of one file's blobs, taken under the per-path lock.
type fileState struct {
	activeGen uint64
	maxGen    uint64 // highest generation observed in the listing, garbage included
	active    []connector.BlobInfo
	garbage   []connector.BlobInfo
}

// currentState lists the file's blobs and classifies them. A missing file is
// an empty state. A broken listing with no usable generation yields everything
// as garbage, so the next write supersedes and reclaims it.
func (fs *FileSystem) currentState(ctx context.Context, p fspath.Path) (fileState, error) {
	infos, err := fs.conn.ListBlobs(ctx, p)
	if err != nil {
		if errors.Is(err, connector.ErrNotFound) {
			return fileState{}, nil
		}
		return fileState{}, err
	}
	var maxGen uint64
	for _, b := range infos {
		if b.Generation > maxGen {
			maxGen = b.Generation
		}
	}
	cat, err := connector.BuildCatalog(p, infos)
	if err != nil {
		var ce *connector.ConsistencyError
		if errors.As(err, &ce) {
			fs.logger.WithPath(p).Warn("unusable catalog, superseding all blobs", "reason", ce.Reason)
			return fileState{maxGen: maxGen, garbage: infos}, nil
		}
		return fileState{}, err
	}
	return fileState{
		activeGen: cat.Generation(),
		maxGen:    maxGen,
		active:    cat.Blobs(),
		garbage:   cat.Garbage(),
	}, nil
}

// Append extends the file with the concatenation of ranges. Appending to a
// missing file creates it.
func (fs *FileSystem) Append(ctx context.Context, p fspath.Path, ranges ...[]byte) error {
	start := time.Now()
	data := concat(ranges)
	blobs := split(data, fs.spec.MaxBlobSize)
	err := fs.append(ctx, p, blobs)
	fs.metrics.RecordWrite(int64(len(data)), len(blobs), time.Since(start), err)
	return err
}

func (fs *FileSystem) append(ctx context.Context, p fspath.Path, blobs [][]byte) error {
	if err := fs.checkFile(p); err != nil {
		return err
	}
	unlock := fs.locks.Lock(fs.key(p))
	defer unlock()

	st, err := fs.currentState(ctx, p)
	if err != nil {
		return err
	}
	if len(st.active) == 0 {
		gen := uint64(0)
		if len(st.garbage) > 0 {
			gen = st.maxGen + 1
		}
		return fs.conn.WriteBlobs(ctx, p, gen, 0, blobs)
	}
	return fs.conn.WriteBlobs(ctx, p, st.activeGen, len(st.active), blobs)
}

// Delete removes the file. Deleting a missing file is not an error.
func (fs *FileSystem) Delete(ctx context.Context, p fspath.Path) error {
	start := time.Now()
	err := fs.delete(ctx, p)
	fs.metrics.RecordDelete(time.Since(start), err)
	return err
}

func (fs *FileSystem) delete(ctx context.Context, p fspath.Path) error {
	if err := fs.checkFile(p); err != nil {
		return err
	}
	unlock := fs.locks.Lock(fs.key(p))
	defer unlock()
	return fs.conn.DeleteFile(ctx, p)
}

// Exists reports whether the file exists.
func (fs *FileSystem) Exists(ctx context.Context, p fspath.Path) (bool, error) {
	if err := fs.checkFile(p); err != nil {
		return false, err
	}
	return fs.conn.FileExists(ctx, p)
}

// DirectoryExists reports whether the directory exists. Container roots
// always exist.
func (fs *FileSystem) DirectoryExists(ctx context.Context, p fspath.Path) (bool, error) {
	if err := fs.checkDir(p); err != nil {
		return false, err
	}
	return fs.conn.DirectoryExists(ctx, p)
}

// List returns the names of the directory's immediate children, sorted.
func (fs *FileSystem) List(ctx context.Context, dir fspath.Path) ([]string, error) {
	start := time.Now()
	names, err := fs.list(ctx, dir)
	fs.metrics.RecordList(time.Since(start), err)
	return names, err
}

func (fs *FileSystem) list(ctx context.Context, dir fspath.Path) ([]string, error) {
	if err := fs.checkDir(dir); err != nil {
		return nil, err
	}
	return fs.conn.ListChildren(ctx, dir)
}

// MakeDirectory creates a directory. Parents are created implicitly where
// the backend needs them.
func (fs *FileSystem) MakeDirectory(ctx context.Context, p fspath.Path) error {
	if err := fs.checkDir(p); err != nil {
		return err
	}
	if p.IsRoot() {
		return fmt.Errorf("%w: container root %s", connector.ErrAlreadyExists, p)
	}
	unlock := fs.lockWithParent(p)
	defer unlock()
	return fs.conn.MakeDirectory(ctx, p)
}

// RemoveDirectory deletes a directory. Without recursive it fails with
// ErrNotEmpty when the directory has children.
func (fs *FileSystem) RemoveDirectory(ctx context.Context, p fspath.Path, recursive bool) error {
	if err := fs.checkDir(p); err != nil {
		return err
	}
	unlock := fs.lockWithParent(p)
	defer unlock()
	return fs.conn.RemoveDirectory(ctx, p, recursive)
}

// lockWithParent serializes a directory mutation against both the directory
// and its parent, so listings and sibling mutations order cleanly.
func (fs *FileSystem) lockWithParent(p fspath.Path) func() {
	parent, err := p.Parent()
	if err != nil {
		return fs.locks.Lock(fs.key(p))
	}
	return fs.locks.LockPair(fs.key(p), fs.key(parent))
}

// Copy duplicates src's content under dst, replacing dst.
func (fs *FileSystem) Copy(ctx context.Context, src, dst fspath.Path) error {
	start := time.Now()
	err := fs.copy(ctx, src, dst)
	fs.metrics.RecordCopy(time.Since(start), err)
	return err
}

func (fs *FileSystem) copy(ctx context.Context, src, dst fspath.Path) error {
	if err := fs.checkFile(src); err != nil {
		return err
	}
	if err := fs.checkFile(dst); err != nil {
		return err
	}
	if fs.key(src) == fs.key(dst) {
		return fs.requireExists(ctx, src)
	}
	unlock := fs.locks.Lock(fs.key(dst))
	defer unlock()
	return fs.conn.CopyFile(ctx, src, dst)
}

// requireExists is the same-path short circuit for Copy and Move: the
// operation is a no-op, but a missing source still reports ErrNotFound.
func (fs *FileSystem) requireExists(ctx context.Context, p fspath.Path) error {
	exists, err := fs.conn.FileExists(ctx, p)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: file %s", connector.ErrNotFound, p)
	}
	return nil
}

// Move renames src to dst. With an atomic backend rename this is a single
// operation; otherwise it degrades to copy+delete, during which a crash can
// leave the content under both names (never under neither).
func (fs *FileSystem) Move(ctx context.Context, src, dst fspath.Path) error {
	start := time.Now()
	err := fs.move(ctx, src, dst)
	fs.metrics.RecordCopy(time.Since(start), err)
	return err
}

func (fs *FileSystem) move(ctx context.Context, src, dst fspath.Path) error {
	if err := fs.checkFile(src); err != nil {
		return err
	}
	if err := fs.checkFile(dst); err != nil {
		return err
	}
	if fs.key(src) == fs.key(dst) {
		return fs.requireExists(ctx, src)
	}
	unlock := fs.locks.LockPair(fs.key(src), fs.key(dst))
	defer unlock()

	if fs.spec.AtomicRename {
		err := fs.conn.RenameFile(ctx, src, dst)
		if err == nil || !errors.Is(err, connector.ErrUnsupported) {
			return err
		}
	}
	fs.logger.WithPath(src).Debug("falling back to copy+delete", "dst", dst.String())
	if err := fs.conn.CopyFile(ctx, src, dst); err != nil {
		return err
	}
	return fs.conn.DeleteFile(ctx, src)
}

// Stat returns the file's logical size and blob layout.
func (fs *FileSystem) Stat(ctx context.Context, p fspath.Path) (FileInfo, error) {
	if err := fs.checkFile(p); err != nil {
		return FileInfo{}, err
	}
	cat, err := fs.catalog(ctx, p)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Path:       p,
		Size:       cat.Size(),
		Blobs:      cat.Len(),
		Generation: cat.Generation(),
	}, nil
}

func concat(ranges [][]byte) []byte {
	var total int
	for _, r := range ranges {
		total += len(r)
	}
	out := make([]byte, 0, total)
	for _, r := range ranges {
		out = append(out, r...)
	}
	return out
}

// split chunks data into max-sized blobs, the last one short. Empty data is
// a single empty blob, so an empty file still has a committed presence.
func split(data []byte, max int64) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	n := (int64(len(data)) + max - 1) / max
	blobs := make([][]byte, 0, n)
	for off := int64(0); off < int64(len(data)); off += max {
		end := off + max
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		blobs = append(blobs, data[off:end])
	}
	return blobs
}
