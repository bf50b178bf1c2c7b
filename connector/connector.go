package connector

import (
	"context"

	"github.com/hupe1980/blobfs/fspath"
)

// BlobInfo describes one stored blob of a logical file.
type BlobInfo struct {
	// Generation groups blobs written by one full-file rewrite. Generation 0
	// is the initial write; rewrites bump it.
	Generation uint64
	// Index is the zero-based position within the generation.
	Index int
	// Length is the logical (uncompressed) byte length.
	Length int64
	// Key is the backend-native identifier (object key, file name, sort key).
	Key string
}

// BackendSpec declares per-backend policy the core needs: the chunk-size
// ceiling, whether an atomic rename primitive exists, and the naming rules.
type BackendSpec struct {
	// MaxBlobSize is the largest blob the backend accepts. Writes exceeding
	// it are split into same-size blobs, the last one short.
	MaxBlobSize int64
	// AtomicRename reports whether RenameFile is atomic. When false the
	// facade falls back to copy+delete with documented weaker atomicity.
	AtomicRename bool
	// Validator holds the backend naming rules and comparison strategy.
	Validator fspath.Validator
}

// Connector is the capability surface every backend adapter must provide.
// The core consumes only this contract and never a concrete backend type.
//
// Implementations must be safe for concurrent use. All methods honor
// context cancellation; a cancelled write may leave at most one uncommitted
// trailing blob, which subsequent catalog builds treat as garbage.
type Connector interface {
	// ListChildren enumerates the immediate child names of a directory.
	// Fails with ErrNotFound if the directory does not exist.
	ListChildren(ctx context.Context, dir fspath.Path) ([]string, error)

	// FileExists reports whether the path currently holds blobs.
	FileExists(ctx context.Context, p fspath.Path) (bool, error)

	// DirectoryExists reports whether the path currently is a directory.
	DirectoryExists(ctx context.Context, p fspath.Path) (bool, error)

	// ListBlobs returns the raw blob inventory for a file, all generations
	// included, in no guaranteed order. Fails with ErrNotFound if the file
	// has no blobs at all.
	ListBlobs(ctx context.Context, p fspath.Path) ([]BlobInfo, error)

	// ReadBlobRange reads [off, off+length) of a single blob's logical
	// content. length = -1 reads to the end of the blob.
	ReadBlobRange(ctx context.Context, p fspath.Path, b BlobInfo, off, length int64) ([]byte, error)

	// WriteBlobs appends blobs at contiguous indices starting at startIndex
	// within the given generation. It never overwrites a committed blob.
	WriteBlobs(ctx context.Context, p fspath.Path, gen uint64, startIndex int, blobs [][]byte) error

	// DeleteBlobs removes the listed blobs only, in the given order.
	// Idempotent: absent blobs are not an error.
	DeleteBlobs(ctx context.Context, p fspath.Path, blobs []BlobInfo) error

	// DeleteFile removes all blobs of the path. Idempotent.
	DeleteFile(ctx context.Context, p fspath.Path) error

	// MakeDirectory creates a directory. Fails with ErrAlreadyExists if a
	// file of that name exists.
	MakeDirectory(ctx context.Context, p fspath.Path) error

	// RemoveDirectory deletes a directory. Without recursive it fails with
	// ErrNotEmpty when the directory has children.
	RemoveDirectory(ctx context.Context, p fspath.Path, recursive bool) error

	// CopyFile duplicates all committed blobs of src under dst.
	CopyFile(ctx context.Context, src, dst fspath.Path) error

	// RenameFile atomically renames src to dst. Backends without an atomic
	// primitive return ErrUnsupported; they must not emulate it.
	RenameFile(ctx context.Context, src, dst fspath.Path) error

	// Spec returns the backend policy declaration.
	Spec() BackendSpec

	// Close releases backend resources. Further calls return ErrClosed.
	Close() error
}
