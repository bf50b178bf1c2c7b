// Package dynamo implements the backend connector for Amazon DynamoDB,
// storing each blob as one table item. The 400KB item ceiling is why the
// chunking protocol exists at all for document stores; the connector
// declares a 350KiB MaxBlobSize to leave headroom for key and attribute
// overhead.
//
// Table schema (single table):
//
//	pk (S, partition key)  normalized key of the parent directory
//	sk (S, sort key)       "d#<name>" for a directory entry,
//	                       "f#<name>#<gen%020d>#<idx%010d>" for a blob
//	data (B)               blob content
//	len  (N)               blob length
//	name (S)               display name
//
// Keying blobs under their parent directory makes child listing a Query
// instead of a Scan. Commits are conditional puts, so a committed blob is
// never overwritten; generations padded to fixed width keep blob sort order
// stable.
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name blobfs \
//	  --attribute-definitions AttributeName=pk,AttributeType=S AttributeName=sk,AttributeType=S \
//	  --key-schema AttributeName=pk,KeyType=HASH AttributeName=sk,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamo
