package fspath

import (
	"errors"
	"fmt"
	"strings"
)

const (
	containerSep = "://"
	segmentSep   = "/"
)

// InvalidPathError indicates a container or segment name that violates
// structural rules or the active backend's naming rules.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type InvalidPathError struct {
	Name   string
	Reason string
	cause  error
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Name, e.Reason)
}

func (e *InvalidPathError) Unwrap() error { return e.cause }

// NewInvalidPathError creates an InvalidPathError with an optional cause.
func NewInvalidPathError(name, reason string, cause error) *InvalidPathError {
	return &InvalidPathError{Name: name, Reason: reason, cause: cause}
}

// Path is an immutable hierarchical identifier: a container plus an ordered
// sequence of segments. The zero value is invalid; construct via New or Parse.
type Path struct {
	container string
	segments  []string
}

// New creates a Path from a container and segments. Only structural rules are
// enforced here (non-empty names, no separators, no relative components);
// backend-specific rules are applied separately via a Validator.
func New(container string, segments ...string) (Path, error) {
	if err := checkContainer(container); err != nil {
		return Path{}, err
	}
	segs := make([]string, len(segments))
	for i, s := range segments {
		if err := checkSegment(s); err != nil {
			return Path{}, err
		}
		segs[i] = s
	}
	return Path{container: container, segments: segs}, nil
}

// MustNew is like New but panics on error. Intended for tests and constants.
func MustNew(container string, segments ...string) Path {
	p, err := New(container, segments...)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse reconstructs a Path from its canonical string form.
// Parse(p.String()) yields a Path equal to p.
func Parse(s string) (Path, error) {
	i := strings.Index(s, containerSep)
	if i <= 0 {
		return Path{}, &InvalidPathError{Name: s, Reason: "missing container separator"}
	}
	container := s[:i]
	rest := s[i+len(containerSep):]
	if rest == "" {
		return New(container)
	}
	return New(container, strings.Split(rest, segmentSep)...)
}

// Container returns the top-level namespace the path lives in.
func (p Path) Container() string { return p.container }

// Segments returns a copy of the path segments. Empty for a container root.
func (p Path) Segments() []string {
	segs := make([]string, len(p.segments))
	copy(segs, p.segments)
	return segs
}

// Depth returns the number of segments.
func (p Path) Depth() int { return len(p.segments) }

// IsRoot reports whether the path denotes the container root.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Name returns the last segment, or the empty string for a container root.
func (p Path) Name() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path with the last segment removed.
// It fails on a container root.
func (p Path) Parent() (Path, error) {
	if len(p.segments) == 0 {
		return Path{}, &InvalidPathError{Name: p.String(), Reason: "container root has no parent"}
	}
	segs := make([]string, len(p.segments)-1)
	copy(segs, p.segments)
	return Path{container: p.container, segments: segs}, nil
}

// Child returns a new path with name appended.
func (p Path) Child(name string) (Path, error) {
	if err := checkSegment(name); err != nil {
		return Path{}, err
	}
	segs := make([]string, len(p.segments)+1)
	copy(segs, p.segments)
	segs[len(segs)-1] = name
	return Path{container: p.container, segments: segs}, nil
}

// String returns the canonical text form "container://seg/seg".
// A container root renders as "container://".
func (p Path) String() string {
	return p.container + containerSep + strings.Join(p.segments, segmentSep)
}

// Equal reports exact structural equality of container and segments.
// Backend-defined equivalence (e.g. case folding) goes through Key.
func (p Path) Equal(o Path) bool {
	if p.container != o.container || len(p.segments) != len(o.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != o.segments[i] {
			return false
		}
	}
	return true
}

// Key returns the identity string for the path under the validator's
// comparison strategy. Lock tables and caches key on it so that backends with
// case-insensitive naming serialize and invalidate correctly. A nil validator
// yields the canonical string unchanged.
func (p Path) Key(v Validator) string {
	if v == nil {
		return p.String()
	}
	var sb strings.Builder
	sb.WriteString(v.Normalize(p.container))
	sb.WriteString(containerSep)
	for i, s := range p.segments {
		if i > 0 {
			sb.WriteString(segmentSep)
		}
		sb.WriteString(v.Normalize(s))
	}
	return sb.String()
}

// Validate applies a backend validator to every component of the path.
func (p Path) Validate(v Validator) error {
	if v == nil {
		return nil
	}
	if err := v.ValidateContainer(p.container); err != nil {
		return wrapInvalid(p.container, err)
	}
	for _, s := range p.segments {
		if err := v.ValidateSegment(s); err != nil {
			return wrapInvalid(s, err)
		}
	}
	return nil
}

func wrapInvalid(name string, err error) error {
	var ipe *InvalidPathError
	if errors.As(err, &ipe) {
		return err
	}
	return &InvalidPathError{Name: name, Reason: err.Error(), cause: err}
}

func checkContainer(name string) error {
	if name == "" {
		return &InvalidPathError{Name: name, Reason: "empty container"}
	}
	if strings.Contains(name, ":") {
		return &InvalidPathError{Name: name, Reason: "container must not contain ':'"}
	}
	return checkComponent(name)
}

func checkSegment(name string) error {
	if name == "" {
		return &InvalidPathError{Name: name, Reason: "empty segment"}
	}
	if name == "." || name == ".." {
		return &InvalidPathError{Name: name, Reason: "relative segment"}
	}
	return checkComponent(name)
}

func checkComponent(name string) error {
	if strings.ContainsAny(name, "/\\\x00") {
		return &InvalidPathError{Name: name, Reason: "segment contains separator or NUL"}
	}
	return nil
}
