package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by an injected fault.
var ErrInjected = errors.New("injected fault")

// Fault describes failure behavior for files whose name matches a pattern.
type Fault struct {
	// FailAfterBytes fails writes once this many bytes have been written to
	// the file. -1 disables the limit.
	FailAfterBytes int64
	FailOnSync     bool
	Err            error
}

// Faulty wraps a FileSystem and injects errors into matching files.
type Faulty struct {
	FS FileSystem

	mu    sync.Mutex
	rules map[string]Fault // substring pattern -> fault
}

// NewFaulty wraps fs (or Default when nil).
func NewFaulty(fs FileSystem) *Faulty {
	if fs == nil {
		fs = Default
	}
	return &Faulty{FS: fs, rules: make(map[string]Fault)}
}

// AddRule injects fault into every file whose name contains pattern.
func (f *Faulty) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.rules[pattern] = fault
}

func (f *Faulty) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	fault := Fault{FailAfterBytes: -1}
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			fault = rule
		}
	}
	f.mu.Unlock()
	return &faultyFile{File: file, fault: fault}, nil
}

func (f *Faulty) Remove(name string) error                  { return f.FS.Remove(name) }
func (f *Faulty) RemoveAll(name string) error               { return f.FS.RemoveAll(name) }
func (f *Faulty) Rename(oldpath, newpath string) error      { return f.FS.Rename(oldpath, newpath) }
func (f *Faulty) Stat(name string) (os.FileInfo, error)     { return f.FS.Stat(name) }
func (f *Faulty) Mkdir(name string, perm os.FileMode) error { return f.FS.Mkdir(name, perm) }
func (f *Faulty) MkdirAll(name string, perm os.FileMode) error {
	return f.FS.MkdirAll(name, perm)
}
func (f *Faulty) ReadDir(name string) ([]os.DirEntry, error) { return f.FS.ReadDir(name) }

type faultyFile struct {
	File
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if ff.fault.FailAfterBytes >= 0 && ff.written+int64(len(p)) > ff.fault.FailAfterBytes {
		// Partial write up to the limit, then fail. Mimics a full disk.
		allowed := ff.fault.FailAfterBytes - ff.written
		if allowed > 0 {
			n, _ := ff.File.Write(p[:allowed])
			ff.written += int64(n)
			return n, ff.fault.Err
		}
		return 0, ff.fault.Err
	}
	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailOnSync {
		return ff.fault.Err
	}
	return ff.File.Sync()
}
