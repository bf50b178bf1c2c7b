// Package fs abstracts the filesystem operations used by the local connector
// so tests can inject faults.
//
//   - [File]: an open file with write/read-at/sync capabilities
//   - [FileSystem]: open, remove, rename, stat, mkdir, readdir
//   - [OS]: production implementation over the os package
//   - [Faulty]: wrapper that injects write and sync failures
//
// The interfaces take no context.Context: local filesystem calls are fast and
// non-interruptible at the syscall level. Cancellation is handled between
// blob-sized operations by the connector.
package fs
