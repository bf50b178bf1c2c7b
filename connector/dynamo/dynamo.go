package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/blobfs/connector"
	"github.com/hupe1980/blobfs/fspath"
)

// Client is the interface for the DynamoDB operations the connector uses.
// *dynamodb.Client satisfies it; tests substitute a mock.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Config configures the DynamoDB connector.
type Config struct {
	// MaxBlobSize is the chunking ceiling. Defaults to 350KiB, below the
	// 400KB DynamoDB item limit.
	MaxBlobSize int64
	// Validator sets the naming rules. Defaults to fspath.Document.
	Validator fspath.Validator
}

// Connector stores blobs as DynamoDB items. Safe for concurrent use.
type Connector struct {
	client Client
	table  string
	spec   connector.BackendSpec
	closed atomic.Bool
}

var _ connector.Connector = (*Connector)(nil)

// New creates a DynamoDB connector over an existing client and table.
func New(client Client, table string, cfg Config) *Connector {
	if cfg.MaxBlobSize <= 0 {
		cfg.MaxBlobSize = 350 << 10
	}
	if cfg.Validator == nil {
		cfg.Validator = fspath.Document{}
	}
	return &Connector{
		client: client,
		table:  table,
		spec: connector.BackendSpec{
			MaxBlobSize:  cfg.MaxBlobSize,
			AtomicRename: false,
			Validator:    cfg.Validator,
		},
	}
}

func (c *Connector) Spec() connector.BackendSpec { return c.spec }

func (c *Connector) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Connector) guard(ctx context.Context) error {
	if c.closed.Load() {
		return connector.ErrClosed
	}
	return ctx.Err()
}

const (
	dirTag  = "d#"
	fileTag = "f#"
)

// blobSort builds the sort key of one blob. Fixed-width padding keeps blobs
// ordered by generation then index under a Query.
func blobSort(name string, gen uint64, index int) string {
	return fmt.Sprintf("%s%s#%020d#%010d", fileTag, name, gen, index)
}

// blobPrefix is the sort-key prefix shared by all blobs of a file.
func blobPrefix(name string) string { return fileTag + name + "#" }

func parseBlobSort(sk string) (name string, gen uint64, index int, ok bool) {
	rest, found := strings.CutPrefix(sk, fileTag)
	if !found {
		return "", 0, 0, false
	}
	i := strings.LastIndex(rest, "#")
	if i < 0 {
		return "", 0, 0, false
	}
	j := strings.LastIndex(rest[:i], "#")
	if j < 0 {
		return "", 0, 0, false
	}
	gv, err := strconv.ParseUint(rest[j+1:i], 10, 64)
	if err != nil {
		return "", 0, 0, false
	}
	iv, err := strconv.Atoi(rest[i+1:])
	if err != nil || iv < 0 {
		return "", 0, 0, false
	}
	return rest[:j], gv, iv, true
}

// partition returns the partition key of entries directly under dir.
func (c *Connector) partition(dir fspath.Path) string {
	return dir.Key(c.spec.Validator)
}

// place returns p's parent partition key and p's normalized name.
func (c *Connector) place(p fspath.Path) (pk, name string, err error) {
	parent, err := p.Parent()
	if err != nil {
		return "", "", err
	}
	return c.partition(parent), c.spec.Validator.Normalize(p.Name()), nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func str(v string) types.AttributeValue  { return &types.AttributeValueMemberS{Value: v} }
func bin(v []byte) types.AttributeValue  { return &types.AttributeValueMemberB{Value: v} }
func num(v int64) types.AttributeValue   { return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)} }
func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": str(pk), "sk": str(sk)}
}

// queryAll runs a Query to exhaustion, following pagination.
func (c *Connector) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := c.client.Query(ctx, in)
		if err != nil {
			return nil, connector.Unavailable(err)
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (c *Connector) queryPartition(ctx context.Context, pk string) ([]map[string]types.AttributeValue, error) {
	return c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": str(pk),
		},
	})
}

func (c *Connector) queryBlobItems(ctx context.Context, p fspath.Path) (pk string, items []map[string]types.AttributeValue, err error) {
	pk, name, err := c.place(p)
	if err != nil {
		return "", nil, err
	}
	items, err = c.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     str(pk),
			":prefix": str(blobPrefix(name)),
		},
	})
	return pk, items, err
}

func attrString(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (c *Connector) ListChildren(ctx context.Context, dir fspath.Path) ([]string, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	items, err := c.queryPartition(ctx, c.partition(dir))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 && !dir.IsRoot() {
		ok, err := c.DirectoryExists(ctx, dir)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: directory %s", connector.ErrNotFound, dir)
		}
	}

	seen := make(map[string]struct{})
	var children []string
	for _, item := range items {
		sk := attrString(item, "sk")
		var norm string
		if rest, ok := strings.CutPrefix(sk, dirTag); ok {
			norm = rest
		} else if name, _, _, ok := parseBlobSort(sk); ok {
			norm = name
		} else {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		if display := attrString(item, "name"); display != "" {
			children = append(children, display)
		} else {
			children = append(children, norm)
		}
	}
	sort.Strings(children)
	return children, nil
}

func (c *Connector) FileExists(ctx context.Context, p fspath.Path) (bool, error) {
	if err := c.guard(ctx); err != nil {
		return false, err
	}
	_, items, err := c.queryBlobItems(ctx, p)
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

func (c *Connector) DirectoryExists(ctx context.Context, p fspath.Path) (bool, error) {
	if err := c.guard(ctx); err != nil {
		return false, err
	}
	if p.IsRoot() {
		return true, nil
	}
	pk, name, err := c.place(p)
	if err != nil {
		return false, err
	}
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key:       itemKey(pk, dirTag+name),
	})
	if err != nil {
		return false, connector.Unavailable(err)
	}
	if len(out.Item) > 0 {
		return true, nil
	}
	// Implicit directory: any entry below it.
	items, err := c.queryPartition(ctx, c.partition(p))
	if err != nil {
		return false, err
	}
	return len(items) > 0, nil
}

func (c *Connector) ListBlobs(ctx context.Context, p fspath.Path) ([]connector.BlobInfo, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	_, items, err := c.queryBlobItems(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: file %s", connector.ErrNotFound, p)
	}
	infos := make([]connector.BlobInfo, 0, len(items))
	for _, item := range items {
		sk := attrString(item, "sk")
		_, gen, idx, ok := parseBlobSort(sk)
		if !ok {
			continue
		}
		var length int64
		if v, lok := item["len"].(*types.AttributeValueMemberN); lok {
			length, _ = strconv.ParseInt(v.Value, 10, 64)
		}
		infos = append(infos, connector.BlobInfo{
			Generation: gen,
			Index:      idx,
			Length:     length,
			Key:        sk,
		})
	}
	return infos, nil
}

func (c *Connector) ReadBlobRange(ctx context.Context, p fspath.Path, b connector.BlobInfo, off, length int64) ([]byte, error) {
	if err := c.guard(ctx); err != nil {
		return nil, err
	}
	pk, _, err := c.place(p)
	if err != nil {
		return nil, err
	}
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.table),
		Key:       itemKey(pk, b.Key),
	})
	if err != nil {
		return nil, connector.Unavailable(err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: blob %s", connector.ErrNotFound, b.Key)
	}
	data, ok := out.Item["data"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, connector.NewConsistencyError(p, fmt.Sprintf("blob %s has no content attribute", b.Key), nil)
	}
	size := int64(len(data.Value))
	if length == -1 {
		length = size - off
	}
	if off < 0 || off > size || length < 0 || length > size-off {
		return nil, &connector.InvalidRangeError{Offset: off, Length: length, Size: size}
	}
	result := make([]byte, length)
	copy(result, data.Value[off:off+length])
	return result, nil
}

func (c *Connector) WriteBlobs(ctx context.Context, p fspath.Path, gen uint64, startIndex int, blobs [][]byte) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	pk, name, err := c.place(p)
	if err != nil {
		return err
	}
	for i, data := range blobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		sk := blobSort(name, gen, startIndex+i)
		_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.table),
			Item: map[string]types.AttributeValue{
				"pk":   str(pk),
				"sk":   str(sk),
				"data": bin(data),
				"len":  num(int64(len(data))),
				"name": str(p.Name()),
			},
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		})
		if err != nil {
			if isConditionFailed(err) {
				return fmt.Errorf("%w: blob %s already committed", connector.ErrAlreadyExists, sk)
			}
			return connector.Unavailable(err)
		}
	}
	return nil
}

func (c *Connector) deleteItem(ctx context.Context, pk, sk string) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       itemKey(pk, sk),
	})
	if err != nil {
		return connector.Unavailable(err)
	}
	return nil
}

func (c *Connector) DeleteBlobs(ctx context.Context, p fspath.Path, blobs []connector.BlobInfo) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	pk, _, err := c.place(p)
	if err != nil {
		return err
	}
	for _, b := range blobs {
		if err := c.deleteItem(ctx, pk, b.Key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) DeleteFile(ctx context.Context, p fspath.Path) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	pk, items, err := c.queryBlobItems(ctx, p)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := c.deleteItem(ctx, pk, attrString(item, "sk")); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connector) MakeDirectory(ctx context.Context, p fspath.Path) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	exists, err := c.FileExists(ctx, p)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: file %s", connector.ErrAlreadyExists, p)
	}
	pk, name, err := c.place(p)
	if err != nil {
		return err
	}
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]types.AttributeValue{
			"pk":   str(pk),
			"sk":   str(dirTag + name),
			"name": str(p.Name()),
		},
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("%w: directory %s", connector.ErrAlreadyExists, p)
		}
		return connector.Unavailable(err)
	}
	return nil
}

func (c *Connector) RemoveDirectory(ctx context.Context, p fspath.Path, recursive bool) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	ok, err := c.DirectoryExists(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: directory %s", connector.ErrNotFound, p)
	}
	items, err := c.queryPartition(ctx, c.partition(p))
	if err != nil {
		return err
	}
	if len(items) > 0 && !recursive {
		return fmt.Errorf("%w: %s", connector.ErrNotEmpty, p)
	}
	// Depth-first: clear subdirectories before their entries.
	for _, item := range items {
		sk := attrString(item, "sk")
		if name, isDir := strings.CutPrefix(sk, dirTag); isDir {
			child, cerr := p.Child(name)
			if cerr == nil {
				if err := c.RemoveDirectory(ctx, child, true); err != nil && !errors.Is(err, connector.ErrNotFound) {
					return err
				}
				continue
			}
		}
		if err := c.deleteItem(ctx, c.partition(p), sk); err != nil {
			return err
		}
	}
	if p.IsRoot() {
		return nil
	}
	pk, name, err := c.place(p)
	if err != nil {
		return err
	}
	return c.deleteItem(ctx, pk, dirTag+name)
}

func (c *Connector) CopyFile(ctx context.Context, src, dst fspath.Path) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	_, items, err := c.queryBlobItems(ctx, src)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: file %s", connector.ErrNotFound, src)
	}
	if err := c.DeleteFile(ctx, dst); err != nil {
		return err
	}
	dstPK, dstName, err := c.place(dst)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, gen, idx, ok := parseBlobSort(attrString(item, "sk"))
		if !ok {
			continue
		}
		put := map[string]types.AttributeValue{
			"pk":   str(dstPK),
			"sk":   str(blobSort(dstName, gen, idx)),
			"name": str(dst.Name()),
		}
		if v, ok := item["data"]; ok {
			put["data"] = v
		}
		if v, ok := item["len"]; ok {
			put["len"] = v
		}
		if _, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(c.table),
			Item:      put,
		}); err != nil {
			return connector.Unavailable(err)
		}
	}
	return nil
}

func (c *Connector) RenameFile(ctx context.Context, src, dst fspath.Path) error {
	if err := c.guard(ctx); err != nil {
		return err
	}
	return fmt.Errorf("%w: DynamoDB has no atomic multi-item rename", connector.ErrUnsupported)
}
