package legacyname

import "testing"

func TestUpdateCycle(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 3}, {1, 3}, {2, 3},
		{3, 4}, {4, 5},
		{5, 14}, {6, 15},
		{7, 22}, {8, 23}, {20, 35},
	}
	for _, c := range cases {
		if got := updateCycle(c.in); got != c.want {
			t.Errorf("updateCycle(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPermuteByteInvolution(t *testing.T) {
	for b, p := range permuteTable {
		if got := permuteByte(p); got != b {
			t.Errorf("permuteByte(%#x) = %#x, want %#x (permuteTable should be involutive)", p, got, b)
		}
	}
}

func TestDecryptFileNameStripsPadding(t *testing.T) {
	raw := make([]byte, 16)
	copy(raw, []byte("data\\test.gat"))
	out := DecryptFileName(raw)
	// The function must at least strip trailing zero bytes left over from
	// whatever the round-1 DES decrypt produces; it must never panic on a
	// full 16-byte, two-block buffer.
	if len(out) > len(raw) {
		t.Fatalf("DecryptFileName grew the buffer: got %d bytes from %d", len(out), len(raw))
	}
	if len(out) > 0 && out[len(out)-1] == 0 {
		t.Fatalf("DecryptFileName left trailing zero padding: %v", out)
	}
}

func TestDecryptFileContentDeterministic(t *testing.T) {
	buf1 := make([]byte, 64)
	for i := range buf1 {
		buf1[i] = byte(i)
	}
	buf2 := append([]byte(nil), buf1...)

	DecryptFileContent(buf1, 0)
	DecryptFileContent(buf2, 0)
	for i := range buf1 {
		if buf1[i] != buf2[i] {
			t.Fatalf("DecryptFileContent is not deterministic at byte %d", i)
		}
	}
}

func TestDecryptShuffledHandlesLongBuffers(t *testing.T) {
	// Exercise the shuffle branch (i >= 20 and i%updatedCycle != 0) without
	// panicking on slice bounds.
	buf := make([]byte, blockSize*64)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	decryptShuffled(0, 8, buf)
}
