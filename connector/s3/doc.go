// Package s3 implements the backend connector for Amazon S3 and compatible
// object stores via the AWS SDK v2.
//
// A path's container maps to the bucket; segments map to key components under
// an optional root prefix. Each blob is one object named by the shared
// blob-key convention; directories are zero-byte marker objects ending in
// "/". Puts go through the transfer manager with CRC32C checksums and an
// If-None-Match guard, so a committed blob is never overwritten. Object
// stores have no atomic rename, so RenameFile reports ErrUnsupported and
// callers fall back to copy+delete.
//
//	client, err := s3.NewDefaultClient(ctx)
//	conn := s3.New(client, s3.Config{Prefix: "blobfs/"})
package s3
