// Package blobfs provides a backend-agnostic hierarchical file store for
// embedded persistence engines. Logical files are stored as ordered sequences
// of bounded blobs, so the same read/write surface works on local disk,
// object stores and document databases whose native item sizes differ by
// orders of magnitude.
//
// # Usage
//
//	conn := connector.NewMemory()
//	fs, err := blobfs.New(conn, blobfs.WithCache(32<<20))
//	if err != nil { ... }
//	defer fs.Close()
//
//	p := fspath.MustNew("data", "docs", "report")
//	err = fs.Write(ctx, p, payload)
//	content, err := fs.ReadAll(ctx, p)
//
// # Consistency model
//
// A full rewrite stores the new content under the next generation and then
// removes the old one, so concurrent readers observe either the old or the
// new content, never a mixture. Writers to the same path serialize on a
// per-path lock; reads run freely in parallel. The optional caching layer
// guarantees in-process read-your-writes and makes no cross-process claims.
//
// Backends plug in through the connector.Connector contract; see
// connector/local, connector/s3, connector/minio and connector/dynamo.
package blobfs
