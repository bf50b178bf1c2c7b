package connector

import (
	"fmt"
	"sort"

	"github.com/hupe1980/blobfs/fspath"
)

// Catalog is the ordered, gap-free blob inventory of one logical file,
// derived from a connector's live listing. It is never persisted and never
// trusted across processes; on any inconsistency the listing wins.
type Catalog struct {
	path       fspath.Path
	generation uint64
	blobs      []BlobInfo
	offsets    []int64 // start offset of each blob
	total      int64
	garbage    []BlobInfo
}

// Span maps part of a read request onto one blob.
type Span struct {
	Blob BlobInfo
	// BlobOff is the offset within the blob's content.
	BlobOff int64
	// Length is the number of bytes to take from the blob.
	Length int64
	// BufOff is where the bytes land in the caller's result buffer.
	BufOff int64
}

// BuildCatalog selects the active generation from a raw blob listing and
// derives cumulative offsets.
//
// The active generation is the lowest one whose indices run contiguously
// from 0. During a generation-swap rewrite the old generation stays active
// until its index 0 is deleted, so a reader observes either the full old
// content or the full new content, never a mixture. Blobs outside the active
// generation are garbage left by interrupted writes and are reported for
// reclamation, never served.
//
// A listing with no contiguous generation, or with duplicate indices inside
// one, is a ConsistencyError.
func BuildCatalog(p fspath.Path, infos []BlobInfo) (*Catalog, error) {
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: %s has no blobs", ErrNotFound, p)
	}

	byGen := make(map[uint64][]BlobInfo)
	for _, b := range infos {
		byGen[b.Generation] = append(byGen[b.Generation], b)
	}

	gens := make([]uint64, 0, len(byGen))
	for g := range byGen {
		gens = append(gens, g)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })

	var active []BlobInfo
	var activeGen uint64
	for _, g := range gens {
		blobs := byGen[g]
		sort.Slice(blobs, func(i, j int) bool { return blobs[i].Index < blobs[j].Index })
		if err := checkContiguous(p, blobs); err != nil {
			if g == gens[len(gens)-1] && active == nil {
				// No generation is usable at all.
				return nil, err
			}
			continue
		}
		active = blobs
		activeGen = g
		break
	}
	if active == nil {
		return nil, NewConsistencyError(p, "no contiguous generation in listing", nil)
	}

	c := &Catalog{
		path:       p,
		generation: activeGen,
		blobs:      active,
		offsets:    make([]int64, len(active)),
	}
	for i, b := range active {
		c.offsets[i] = c.total
		c.total += b.Length
	}
	for _, b := range infos {
		if b.Generation != activeGen {
			c.garbage = append(c.garbage, b)
		}
	}
	return c, nil
}

func checkContiguous(p fspath.Path, sorted []BlobInfo) error {
	for i, b := range sorted {
		if b.Index != i {
			if b.Index < i {
				return NewConsistencyError(p, fmt.Sprintf("duplicate blob index %d in generation %d", b.Index, b.Generation), nil)
			}
			return NewConsistencyError(p, fmt.Sprintf("gap before blob index %d in generation %d", b.Index, b.Generation), nil)
		}
		if b.Length < 0 {
			return NewConsistencyError(p, fmt.Sprintf("negative length for blob index %d", b.Index), nil)
		}
	}
	return nil
}

// Size returns the total logical file size, the sum of active blob lengths.
func (c *Catalog) Size() int64 { return c.total }

// Len returns the number of blobs in the active generation.
func (c *Catalog) Len() int { return len(c.blobs) }

// Generation returns the active generation number.
func (c *Catalog) Generation() uint64 { return c.generation }

// Blobs returns the active blobs in index order.
func (c *Catalog) Blobs() []BlobInfo { return c.blobs }

// Garbage returns blobs outside the active generation, in no particular
// order. Writers reclaim them under the per-path lock.
func (c *Catalog) Garbage() []BlobInfo { return c.garbage }

// Resolve maps the request [off, off+length) onto blob spans in index order.
// length = -1 means "to end of file". A request spanning N blobs yields N
// spans, i.e. N backend reads.
func (c *Catalog) Resolve(off, length int64) ([]Span, error) {
	if off < 0 || length < -1 || off > c.total {
		return nil, &InvalidRangeError{Offset: off, Length: length, Size: c.total}
	}
	if length == -1 {
		length = c.total - off
	}
	if length > c.total-off { // not off+length: that can overflow
		return nil, &InvalidRangeError{Offset: off, Length: length, Size: c.total}
	}
	if length == 0 {
		return nil, nil
	}

	// First blob overlapping off.
	i := sort.Search(len(c.blobs), func(i int) bool {
		return c.offsets[i]+c.blobs[i].Length > off
	})

	var spans []Span
	var bufOff int64
	remaining := length
	for ; i < len(c.blobs) && remaining > 0; i++ {
		blobOff := int64(0)
		if off > c.offsets[i] {
			blobOff = off - c.offsets[i]
		}
		n := c.blobs[i].Length - blobOff
		if n > remaining {
			n = remaining
		}
		if n <= 0 {
			continue
		}
		spans = append(spans, Span{
			Blob:    c.blobs[i],
			BlobOff: blobOff,
			Length:  n,
			BufOff:  bufOff,
		})
		bufOff += n
		remaining -= n
	}
	if remaining > 0 {
		return nil, NewConsistencyError(c.path, "listing shorter than catalog", nil)
	}
	return spans, nil
}
