package fspath

import (
	"fmt"
	"strings"
	"unicode"
)

// Validator carries a backend's naming rules and comparison strategy.
// Backends expose their default validator through their BackendSpec; the
// facade applies it to every path before any connector call.
type Validator interface {
	// ValidateContainer checks a container name against the backend rules.
	ValidateContainer(name string) error
	// ValidateSegment checks a single path segment against the backend rules.
	ValidateSegment(name string) error
	// Normalize folds a name into its comparison form. Case-sensitive
	// backends return the name unchanged.
	Normalize(name string) string
}

// Posix validates names for local-disk backends: case-sensitive, up to 255
// bytes per component, any bytes except separator and NUL (those are already
// rejected structurally).
type Posix struct{}

func (Posix) ValidateContainer(name string) error { return maxLen(name, 255) }
func (Posix) ValidateSegment(name string) error   { return maxLen(name, 255) }
func (Posix) Normalize(name string) string        { return name }

// ObjectStore validates names for S3-style object stores. Containers follow
// bucket rules (3-63 chars, lowercase letters, digits, hyphens, dots, must
// start and end alphanumeric); segments allow printable characters up to 255
// bytes. Comparison is case-sensitive.
type ObjectStore struct{}

func (ObjectStore) ValidateContainer(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return &InvalidPathError{Name: name, Reason: "container must be 3-63 characters"}
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '.') {
			return &InvalidPathError{Name: name, Reason: fmt.Sprintf("container contains %q", r)}
		}
	}
	if !isAlnum(rune(name[0])) || !isAlnum(rune(name[len(name)-1])) {
		return &InvalidPathError{Name: name, Reason: "container must start and end alphanumeric"}
	}
	return nil
}

func (ObjectStore) ValidateSegment(name string) error {
	if err := maxLen(name, 255); err != nil {
		return err
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return &InvalidPathError{Name: name, Reason: "segment contains control character"}
		}
	}
	return nil
}

func (ObjectStore) Normalize(name string) string { return name }

// Document validates names for document-database backends, which tend to have
// tighter key limits: components up to 120 bytes from a conservative
// character set. Comparison is case-sensitive.
type Document struct{}

func (Document) ValidateContainer(name string) error { return documentComponent(name) }
func (Document) ValidateSegment(name string) error   { return documentComponent(name) }
func (Document) Normalize(name string) string        { return name }

func documentComponent(name string) error {
	if err := maxLen(name, 120); err != nil {
		return err
	}
	for _, r := range name {
		if !(isAlnum(r) || r == '-' || r == '_' || r == '.') {
			return &InvalidPathError{Name: name, Reason: fmt.Sprintf("component contains %q", r)}
		}
	}
	return nil
}

// Insensitive wraps another validator with case-insensitive comparison, for
// backends that preserve case but do not distinguish it.
type Insensitive struct {
	Rules Validator
}

func (v Insensitive) ValidateContainer(name string) error { return v.rules().ValidateContainer(name) }
func (v Insensitive) ValidateSegment(name string) error   { return v.rules().ValidateSegment(name) }
func (v Insensitive) Normalize(name string) string        { return strings.ToLower(name) }

func (v Insensitive) rules() Validator {
	if v.Rules == nil {
		return Posix{}
	}
	return v.Rules
}

func maxLen(name string, n int) error {
	if len(name) > n {
		return &InvalidPathError{Name: name, Reason: fmt.Sprintf("name exceeds %d bytes", n)}
	}
	return nil
}

func isAlnum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
