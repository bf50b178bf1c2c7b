package connector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/blobfs/fspath"
)

// MemoryConfig configures the in-memory connector.
type MemoryConfig struct {
	// MaxBlobSize is the chunking ceiling. Defaults to 4MiB.
	MaxBlobSize int64
	// Validator sets the naming rules. Defaults to fspath.Posix.
	Validator fspath.Validator
}

// Memory is an in-process Connector implementation for tests and embedding.
// Thread-safe for concurrent readers and writers.
type Memory struct {
	mu     sync.RWMutex
	spec   BackendSpec
	files  map[string]*memFile // path key -> blobs
	dirs   map[string]struct{} // explicitly created directories, path key
	names  map[string]string   // path key -> display name
	closed bool
}

type memFile struct {
	blobs map[string][]byte // native blob key -> content
}

// NewMemory creates an in-memory connector with default config.
func NewMemory() *Memory {
	return NewMemoryWithConfig(MemoryConfig{})
}

// NewMemoryWithConfig creates an in-memory connector.
func NewMemoryWithConfig(cfg MemoryConfig) *Memory {
	if cfg.MaxBlobSize <= 0 {
		cfg.MaxBlobSize = 4 << 20
	}
	if cfg.Validator == nil {
		cfg.Validator = fspath.Posix{}
	}
	return &Memory{
		spec: BackendSpec{
			MaxBlobSize:  cfg.MaxBlobSize,
			AtomicRename: true,
			Validator:    cfg.Validator,
		},
		files: make(map[string]*memFile),
		dirs:  make(map[string]struct{}),
		names: make(map[string]string),
	}
}

func (m *Memory) key(p fspath.Path) string { return p.Key(m.spec.Validator) }

func (m *Memory) Spec() BackendSpec { return m.spec }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) ListChildren(_ context.Context, dir fspath.Path) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	key := m.key(dir)
	if !m.dirExistsLocked(key, dir.IsRoot()) {
		return nil, fmt.Errorf("%w: directory %s", ErrNotFound, dir)
	}

	seen := make(map[string]struct{})
	var children []string
	collect := func(k string) {
		if name, ok := childName(key, k); ok {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				children = append(children, m.displayName(k, name))
			}
		}
	}
	for k := range m.files {
		collect(k)
	}
	for k := range m.dirs {
		collect(k)
	}
	sort.Strings(children)
	return children, nil
}

// displayName returns the original-case name for direct children, falling
// back to the normalized name for implicit prefix directories.
func (m *Memory) displayName(dirKey, norm string) string {
	if name, ok := m.names[childPrefix(dirKey)+norm]; ok {
		return name
	}
	return norm
}

func (m *Memory) FileExists(_ context.Context, p fspath.Path) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	f, ok := m.files[m.key(p)]
	return ok && len(f.blobs) > 0, nil
}

func (m *Memory) DirectoryExists(_ context.Context, p fspath.Path) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	return m.dirExistsLocked(m.key(p), p.IsRoot()), nil
}

// dirExistsLocked treats container roots and prefixes of existing entries as
// directories, the way object stores do.
func (m *Memory) dirExistsLocked(key string, isRoot bool) bool {
	if isRoot {
		return true
	}
	if _, ok := m.dirs[key]; ok {
		return true
	}
	prefix := childPrefix(key)
	for k := range m.files {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	for k := range m.dirs {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func (m *Memory) ListBlobs(_ context.Context, p fspath.Path) ([]BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	f, ok := m.files[m.key(p)]
	if !ok || len(f.blobs) == 0 {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, p)
	}
	name := p.Name()
	infos := make([]BlobInfo, 0, len(f.blobs))
	for k, data := range f.blobs {
		gen, idx, ok := ParseBlobKey(name, k)
		if !ok {
			continue
		}
		infos = append(infos, BlobInfo{Generation: gen, Index: idx, Length: int64(len(data)), Key: k})
	}
	return infos, nil
}

func (m *Memory) ReadBlobRange(_ context.Context, p fspath.Path, b BlobInfo, off, length int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	f, ok := m.files[m.key(p)]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, p)
	}
	data, ok := f.blobs[b.Key]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", ErrNotFound, b.Key)
	}
	size := int64(len(data))
	if length == -1 {
		length = size - off
	}
	if off < 0 || off > size || length < 0 || length > size-off {
		return nil, &InvalidRangeError{Offset: off, Length: length, Size: size}
	}
	out := make([]byte, length)
	copy(out, data[off:off+length])
	return out, nil
}

func (m *Memory) WriteBlobs(_ context.Context, p fspath.Path, gen uint64, startIndex int, blobs [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	key := m.key(p)
	if _, isDir := m.dirs[key]; isDir {
		return fmt.Errorf("%w: %s is a directory", ErrAlreadyExists, p)
	}
	f, ok := m.files[key]
	if !ok {
		f = &memFile{blobs: make(map[string][]byte)}
		m.files[key] = f
		m.names[key] = p.Name()
	}
	name := p.Name()
	for i, data := range blobs {
		bk := BlobKey(name, gen, startIndex+i)
		if _, exists := f.blobs[bk]; exists {
			return fmt.Errorf("%w: blob %s already committed", ErrAlreadyExists, bk)
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		f.blobs[bk] = cp
	}
	return nil
}

func (m *Memory) DeleteBlobs(_ context.Context, p fspath.Path, blobs []BlobInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	key := m.key(p)
	f, ok := m.files[key]
	if !ok {
		return nil
	}
	for _, b := range blobs {
		delete(f.blobs, b.Key)
	}
	if len(f.blobs) == 0 {
		delete(m.files, key)
		delete(m.names, key)
	}
	return nil
}

func (m *Memory) DeleteFile(_ context.Context, p fspath.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	key := m.key(p)
	delete(m.files, key)
	delete(m.names, key)
	return nil
}

func (m *Memory) MakeDirectory(_ context.Context, p fspath.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	key := m.key(p)
	if _, ok := m.files[key]; ok {
		return fmt.Errorf("%w: file %s", ErrAlreadyExists, p)
	}
	if _, ok := m.dirs[key]; ok {
		return fmt.Errorf("%w: directory %s", ErrAlreadyExists, p)
	}
	m.dirs[key] = struct{}{}
	m.names[key] = p.Name()
	return nil
}

func (m *Memory) RemoveDirectory(_ context.Context, p fspath.Path, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	key := m.key(p)
	if !m.dirExistsLocked(key, p.IsRoot()) {
		return fmt.Errorf("%w: directory %s", ErrNotFound, p)
	}
	prefix := childPrefix(key)
	var doomed []string
	for k := range m.files {
		if strings.HasPrefix(k, prefix) {
			doomed = append(doomed, k)
		}
	}
	var doomedDirs []string
	for k := range m.dirs {
		if strings.HasPrefix(k, prefix) {
			doomedDirs = append(doomedDirs, k)
		}
	}
	if !recursive && (len(doomed) > 0 || len(doomedDirs) > 0) {
		return fmt.Errorf("%w: %s", ErrNotEmpty, p)
	}
	for _, k := range doomed {
		delete(m.files, k)
		delete(m.names, k)
	}
	for _, k := range doomedDirs {
		delete(m.dirs, k)
		delete(m.names, k)
	}
	delete(m.dirs, key)
	delete(m.names, key)
	return nil
}

func (m *Memory) CopyFile(_ context.Context, src, dst fspath.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	srcKey := m.key(src)
	sf, ok := m.files[srcKey]
	if !ok || len(sf.blobs) == 0 {
		return fmt.Errorf("%w: file %s", ErrNotFound, src)
	}
	dstKey := m.key(dst)
	if srcKey == dstKey {
		return nil
	}
	if _, isDir := m.dirs[dstKey]; isDir {
		return fmt.Errorf("%w: %s is a directory", ErrAlreadyExists, dst)
	}
	df := &memFile{blobs: make(map[string][]byte, len(sf.blobs))}
	srcName, dstName := src.Name(), dst.Name()
	for k, data := range sf.blobs {
		gen, idx, ok := ParseBlobKey(srcName, k)
		if !ok {
			continue
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		df.blobs[BlobKey(dstName, gen, idx)] = cp
	}
	m.files[dstKey] = df
	m.names[dstKey] = dstName
	return nil
}

func (m *Memory) RenameFile(ctx context.Context, src, dst fspath.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	srcKey := m.key(src)
	sf, ok := m.files[srcKey]
	if !ok || len(sf.blobs) == 0 {
		return fmt.Errorf("%w: file %s", ErrNotFound, src)
	}
	dstKey := m.key(dst)
	if srcKey == dstKey {
		return nil
	}
	if _, isDir := m.dirs[dstKey]; isDir {
		return fmt.Errorf("%w: %s is a directory", ErrAlreadyExists, dst)
	}
	df := &memFile{blobs: make(map[string][]byte, len(sf.blobs))}
	srcName, dstName := src.Name(), dst.Name()
	for k, data := range sf.blobs {
		gen, idx, ok := ParseBlobKey(srcName, k)
		if !ok {
			continue
		}
		df.blobs[BlobKey(dstName, gen, idx)] = data
	}
	m.files[dstKey] = df
	m.names[dstKey] = dstName
	delete(m.files, srcKey)
	delete(m.names, srcKey)
	return nil
}

// childPrefix returns the prefix all strict descendants of key share.
func childPrefix(key string) string {
	if strings.HasSuffix(key, "://") {
		return key
	}
	return key + "/"
}

// childName extracts the immediate-child name of k relative to dirKey.
func childName(dirKey, k string) (string, bool) {
	prefix := childPrefix(dirKey)
	rest, ok := strings.CutPrefix(k, prefix)
	if !ok || rest == "" {
		return "", false
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return rest, true
}
