// Package chunkalloc implements a best-fit allocator over a GRF archive's
// offset space, used by the builder to decide where to place new or
// resized entries without fragmenting the file more than necessary.
package chunkalloc

import (
	"sort"

	"github.com/l1nkz/rpatchur/gruf"
)

type chunk struct {
	size uint64
}

// List tracks the free chunks of a GRF archive's data region. Offsets
// before the virtual end boundary are either occupied by a live entry or
// listed here as free; anything at or past the end boundary is unallocated
// and grows the file when claimed.
//
// chunks indexes free chunks by offset; sizes keeps the same set ordered by
// (size, offset) so the best-fit search in findSuitableChunk is a single
// range scan instead of a linear one.
type List struct {
	endOffset uint64
	sizes     []sizeKey // sorted by (size, offset)
	chunks    map[uint64]chunk
}

type sizeKey struct {
	size   uint64
	offset uint64
}

// New returns an empty chunk list whose data region starts at startOffset
// (the size in bytes of whatever fixed header precedes it in the archive).
func New(startOffset uint64) *List {
	return &List{
		endOffset: startOffset,
		chunks:    make(map[uint64]chunk),
	}
}

// Entry describes an already-placed archive entry, for reconstructing a
// List from an archive opened for appending.
type Entry struct {
	Offset            uint64
	SizeCompressedAligned uint64
}

// FromEntries rebuilds the free-chunk list implied by a set of occupied
// entries, ordered by offset, following a GRF archive's header.
func FromEntries(startOffset uint64, entries []Entry) (*List, error) {
	l := New(startOffset)
	if len(entries) == 0 {
		return l, nil
	}
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	for i := 0; i < len(sorted)-1; i++ {
		left, right := sorted[i], sorted[i+1]
		expected := left.Offset + left.SizeCompressedAligned
		if right.Offset < expected {
			return nil, gruf.ParsingError("archive is malformed: overlapping entries at offset %d", right.Offset)
		}
		space := right.Offset - expected
		l.insertChunk(expected, space)
	}
	last := sorted[len(sorted)-1]
	l.endOffset = last.Offset + last.SizeCompressedAligned
	return l, nil
}

// Alloc reserves size bytes and returns the offset at which they should be
// written, preferring the smallest free chunk that still fits (best-fit).
func (l *List) Alloc(size uint64) uint64 {
	offset := l.findSuitableChunk(size)
	if offset == l.endOffset {
		l.endOffset = offset + size
		return offset
	}
	c := l.removeChunk(offset)
	if c.size > size {
		l.insertChunk(offset+size, c.size-size)
	}
	return offset
}

func (l *List) findSuitableChunk(size uint64) uint64 {
	i := sort.Search(len(l.sizes), func(i int) bool {
		return l.sizes[i].size >= size
	})
	if i == len(l.sizes) {
		return l.endOffset
	}
	return l.sizes[i].offset
}

// Realloc resizes an already-allocated chunk in place when possible (the
// chunk ends at the virtual end boundary, or the immediately following
// region is free and, together with the chunk, at least newSize bytes),
// otherwise frees the old chunk and allocates a fresh one of newSize, which
// may land at a different offset even when shrinking.
//
// This method assumes all free chunks are already merged, i.e. there can
// only be used chunks between any two free chunks.
func (l *List) Realloc(offset, size, newSize uint64) (uint64, error) {
	endOffset := offset + size
	newEndOffset := offset + newSize
	if endOffset == l.endOffset {
		l.endOffset = newEndOffset
		return offset, nil
	}

	if next, ok := l.chunks[endOffset]; ok {
		if size+next.size >= newSize {
			l.removeChunk(endOffset)
			l.insertChunk(newEndOffset, size+next.size-newSize)
			return offset, nil
		}
	}

	// Next chunk is used, or free but too small: must move.
	if err := l.Free(offset, size); err != nil {
		return 0, err
	}
	return l.Alloc(newSize), nil
}

// Free releases a chunk, coalescing it with an adjacent free chunk on
// either side. This method trusts its caller: passing an offset/size that
// doesn't correspond to a chunk this List actually allocated corrupts the
// list.
func (l *List) Free(offset, size uint64) error {
	chunkEndOffset := offset + size
	newOffset := offset
	newSize := size

	if leftOffset, leftChunk, ok := l.chunkBefore(offset); ok {
		if leftOffset+leftChunk.size == offset {
			l.removeChunk(leftOffset)
			newOffset = leftOffset
			newSize += leftChunk.size
		}
	}

	if chunkEndOffset == l.endOffset {
		l.endOffset = newOffset
		return nil
	}
	if right, ok := l.chunks[chunkEndOffset]; ok {
		l.removeChunk(chunkEndOffset)
		newSize += right.size
	}
	l.insertChunk(newOffset, newSize)
	return nil
}

func (l *List) chunkBefore(offset uint64) (uint64, chunk, bool) {
	var bestOffset uint64
	var best chunk
	found := false
	for o, c := range l.chunks {
		if o < offset && (!found || o > bestOffset) {
			bestOffset, best, found = o, c, true
		}
	}
	return bestOffset, best, found
}

func (l *List) insertChunk(offset, size uint64) {
	l.chunks[offset] = chunk{size: size}
	key := sizeKey{size: size, offset: offset}
	i := sort.Search(len(l.sizes), func(i int) bool {
		if l.sizes[i].size != key.size {
			return l.sizes[i].size > key.size
		}
		return l.sizes[i].offset >= key.offset
	})
	l.sizes = append(l.sizes, sizeKey{})
	copy(l.sizes[i+1:], l.sizes[i:])
	l.sizes[i] = key
}

func (l *List) removeChunk(offset uint64) chunk {
	c, ok := l.chunks[offset]
	if !ok {
		panic("chunkalloc: removeChunk called on unknown offset")
	}
	delete(l.chunks, offset)
	key := sizeKey{size: c.size, offset: offset}
	i := sort.Search(len(l.sizes), func(i int) bool {
		if l.sizes[i].size != key.size {
			return l.sizes[i].size > key.size
		}
		return l.sizes[i].offset >= key.offset
	})
	if i >= len(l.sizes) || l.sizes[i] != key {
		panic("chunkalloc: size index out of sync with chunk map")
	}
	l.sizes = append(l.sizes[:i], l.sizes[i+1:]...)
	return c
}

// EndOffset returns the current virtual end of the archive's data region:
// everything at or past it is unallocated.
func (l *List) EndOffset() uint64 { return l.endOffset }
