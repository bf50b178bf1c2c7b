// Package local implements the backend connector for a local filesystem
// directory. A container maps to a subdirectory of the root, directories map
// to real directories, and each blob is one file named by the shared blob-key
// convention, wrapped in a checksummed frame (internal/frame) with optional
// zstd or LZ4 compression.
//
// Blobs are written to a temporary file, fsynced and renamed into place, so a
// crash never leaves a half-written blob under a committed name. Reads
// memory-map the blob file and verify the frame checksum, so torn or
// bit-flipped blobs surface as consistency errors instead of silent
// corruption.
package local
