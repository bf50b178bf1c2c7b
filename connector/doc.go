// Package connector defines the capability contract every blobfs backend
// adapter implements, together with the blob catalog logic and the caching
// decorator built on top of it.
//
// A logical file is stored as an ordered sequence of numbered, immutable
// blobs. Connectors only move whole blobs and byte ranges of single blobs;
// how a file maps onto blobs (chunk sizes, generations, range resolution) is
// decided above the contract and shared by all backends.
//
// # Built-in Implementations
//
//   - Memory: in-process store for tests and embedding
//   - local.Connector: local filesystem with framed blobs and mmap reads
//   - s3.Connector: Amazon S3 with range reads and managed uploads
//   - minio.Connector: MinIO and other S3-compatible stores
//   - dynamo.Connector: DynamoDB document store, one item per blob
//
// Wrap any of them in Caching to avoid repeated listing and catalog
// round-trips against high-latency backends.
package connector
