// Package mmap provides read-only memory-mapped file access for the local
// connector's blob reads. Mapping a framed blob lets range reads slice the
// page cache directly instead of copying through read(2) buffers.
//
// Unix uses mmap(2); Windows uses CreateFileMapping/MapViewOfFile. A File is
// safe for concurrent reads; callers must not touch Bytes() after Close.
package mmap
