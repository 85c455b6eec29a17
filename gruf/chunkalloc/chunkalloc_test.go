package chunkalloc

import "testing"

const startOffset = 0x2EE // arbitrary stand-in for a GRF header size

func TestListBasic(t *testing.T) {
	const size1, size2, size3 = 90, 23, 50
	l := New(startOffset)

	if res := l.Alloc(size1); res != startOffset {
		t.Fatalf("Alloc(size1) = %d, want %d", res, startOffset)
	}
	if res := l.Alloc(size2); res != startOffset+size1 {
		t.Fatalf("Alloc(size2) = %d, want %d", res, startOffset+size1)
	}

	if err := l.Free(startOffset, size1); err != nil {
		t.Fatal(err)
	}
	if res := l.Alloc(size1); res != startOffset {
		t.Fatalf("Alloc(size1) after free = %d, want %d", res, startOffset)
	}
	if res := l.Alloc(size3); res != startOffset+size1+size2 {
		t.Fatalf("Alloc(size3) = %d, want %d", res, startOffset+size1+size2)
	}
}

func TestListRealloc(t *testing.T) {
	const chunkSize = 64
	l := New(startOffset)
	l.Alloc(chunkSize)
	l.Alloc(chunkSize)

	res, err := l.Realloc(startOffset, chunkSize, chunkSize-1)
	if err != nil {
		t.Fatal(err)
	}
	if res != startOffset {
		t.Fatalf("shrink Realloc = %d, want %d (should not move)", res, startOffset)
	}

	res, err = l.Realloc(startOffset, chunkSize, chunkSize+1)
	if err != nil {
		t.Fatal(err)
	}
	if res != startOffset+2*chunkSize {
		t.Fatalf("grow Realloc = %d, want %d (should move to the end)", res, startOffset+2*chunkSize)
	}
	if res := l.Alloc(chunkSize); res != startOffset {
		t.Fatalf("Alloc after realloc moved away = %d, want %d (freed hole reused)", res, startOffset)
	}
}

func TestListReallocOverlapAtZeroSize(t *testing.T) {
	const chunkSize = 64
	l := New(startOffset)
	offset1 := l.Alloc(0)
	offset2 := l.Alloc(0)
	offset3 := l.Alloc(chunkSize)
	if offset1 != offset2 || offset1 != offset3 {
		t.Fatalf("zero-size allocations should not advance the end offset: %d %d %d", offset1, offset2, offset3)
	}

	if err := l.Free(offset1, 0); err != nil {
		t.Fatal(err)
	}
	res, err := l.Realloc(offset2, 0, chunkSize)
	if err != nil {
		t.Fatal(err)
	}
	if res == offset2 {
		t.Fatalf("growing a zero-size chunk into an occupied region must move")
	}

	res, err = l.Realloc(offset3, chunkSize, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res != offset3 {
		t.Fatalf("shrinking to zero in place should not move: got %d, want %d", res, offset3)
	}

	if res := l.Alloc(chunkSize); res != offset3 {
		t.Fatalf("Alloc should reuse the shrunk chunk's offset: got %d, want %d", res, offset3)
	}
}

func TestListRightMerge(t *testing.T) {
	const chunkSize = 64
	l := New(startOffset)
	offset1 := l.Alloc(chunkSize)
	offset2 := l.Alloc(chunkSize)
	offset3 := l.Alloc(chunkSize)

	mustFree(t, l, offset2, chunkSize)
	mustFree(t, l, offset1, chunkSize)
	offset4 := l.Alloc(2 * chunkSize)
	if offset4 != offset1 {
		t.Fatalf("right-merged chunk not reused: got %d, want %d", offset4, offset1)
	}

	mustFree(t, l, offset3, chunkSize)
	mustFree(t, l, offset4, 2*chunkSize)
	offset5 := l.Alloc(4 * chunkSize)
	if offset5 != offset1 {
		t.Fatalf("fully merged chunk not reused: got %d, want %d", offset5, offset1)
	}
}

func TestListLeftMerge(t *testing.T) {
	const chunkSize = 64
	l := New(startOffset)
	offset1 := l.Alloc(chunkSize)
	offset2 := l.Alloc(chunkSize)
	offset3 := l.Alloc(chunkSize)

	mustFree(t, l, offset1, chunkSize)
	mustFree(t, l, offset2, chunkSize)

	offset4 := l.Alloc(2 * chunkSize)
	if offset4 != offset1 {
		t.Fatalf("left-merged chunk not reused: got %d, want %d", offset4, offset1)
	}

	mustFree(t, l, offset4, 2*chunkSize)
	mustFree(t, l, offset3, chunkSize)
	offset5 := l.Alloc(4 * chunkSize)
	if offset5 != offset1 {
		t.Fatalf("fully merged chunk not reused: got %d, want %d", offset5, offset1)
	}
}

// TestFreeTailDoesNotLeaveStaleChunk exercises spec.md §4.3's requirement
// that freeing a chunk whose end coincides with end_offset drops the
// region instead of recording it as free. A List with a stale free chunk
// there would let a later, smaller Alloc both "reuse" the stale chunk and
// extend end_offset over the same bytes, handing out the same offset
// twice.
func TestFreeTailDoesNotLeaveStaleChunk(t *testing.T) {
	l := New(0)
	if res := l.Alloc(10); res != 0 {
		t.Fatalf("Alloc(10) = %d, want 0", res)
	}
	if err := l.Free(0, 10); err != nil {
		t.Fatal(err)
	}
	if l.endOffset != 0 {
		t.Fatalf("endOffset after freeing the only chunk = %d, want 0", l.endOffset)
	}
	if len(l.chunks) != 0 || len(l.sizes) != 0 {
		t.Fatalf("Free left a stale chunk behind: chunks=%v sizes=%v", l.chunks, l.sizes)
	}

	first := l.Alloc(3)
	if first != 0 {
		t.Fatalf("Alloc(3) after emptying the list = %d, want 0", first)
	}
	if l.endOffset != 3 {
		t.Fatalf("endOffset after Alloc(3) = %d, want 3", l.endOffset)
	}
	second := l.Alloc(3)
	if second == first {
		t.Fatalf("Alloc(3) twice returned the same offset %d: the first allocation's bytes would be clobbered", second)
	}
}

func mustFree(t *testing.T, l *List, offset, size uint64) {
	t.Helper()
	if err := l.Free(offset, size); err != nil {
		t.Fatal(err)
	}
}
