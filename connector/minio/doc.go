// Package minio implements the backend connector for MinIO and other
// S3-compatible object stores via the native MinIO SDK.
//
// The key layout matches the s3 connector: the path container names the
// bucket, blobs are objects named by the shared blob-key convention, and
// directories are zero-byte "/" marker objects. MinIO's PutObject lacks a
// conditional-create guard across versions, so commit protection is
// stat-then-put: a racing duplicate write is caught by the stat in almost
// all interleavings, and the generation protocol tolerates the rest.
//
//	client, err := minio.New("localhost:9000", &miniogo.Options{...})
//	conn := minio.NewConnector(client, minio.Config{})
package minio
