package connector

import (
	"errors"
	"fmt"

	"github.com/hupe1980/blobfs/fspath"
)

var (
	// ErrNotFound is returned when a file or directory does not exist.
	//
	// Implementations should return an error that satisfies
	// `errors.Is(err, ErrNotFound)`.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by a conflicting create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotEmpty is returned by a non-recursive delete of a populated
	// directory.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrUnavailable indicates a transient backend failure. Callers may
	// retry; the core never retries internally.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrUnsupported is returned when a backend lacks a required primitive,
	// e.g. atomic rename on object stores.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrClosed is returned for operations started after Close.
	ErrClosed = errors.New("closed")
)

// InvalidPathError is the path-model validation error, re-exported so the
// full error taxonomy is reachable from this package.
type InvalidPathError = fspath.InvalidPathError

// InvalidRangeError indicates a read range outside the file bounds.
type InvalidRangeError struct {
	Offset int64
	Length int64
	Size   int64
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range [%d,+%d) for size %d", e.Offset, e.Length, e.Size)
}

// ConsistencyError indicates that an observed blob catalog has a gap or a
// size mismatch against the live backend listing. It always triggers a
// catalog rebuild from the backend's authoritative state; a surfaced
// ConsistencyError means the live listing itself is broken.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ConsistencyError struct {
	Path   string
	Reason string
	cause  error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("catalog inconsistency at %s: %s", e.Path, e.Reason)
}

func (e *ConsistencyError) Unwrap() error { return e.cause }

// NewConsistencyError creates a ConsistencyError with an optional cause.
func NewConsistencyError(path fspath.Path, reason string, cause error) *ConsistencyError {
	return &ConsistencyError{Path: path.String(), Reason: reason, cause: cause}
}

// Unavailable wraps a transient backend error so that callers can match it
// with `errors.Is(err, ErrUnavailable)` while keeping the SDK error chain.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
