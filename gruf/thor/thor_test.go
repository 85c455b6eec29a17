package thor

import (
	"bytes"
	"io"
	"testing"
)

func TestParsePatchList(t *testing.T) {
	content := "//869 iteminfo_20170423.thor\n" +
		"870 iteminfo_20170423_.thor\n" +
		"871 sprites_20170427.thor\n" +
		"872 sprites_20170429.thor\n" +
		"623 2016-01_01.thor\n" +
		"//873 rodex_20170501.thor\n" +
		"875 rodex_20170501_.thor"

	if list := ParsePatchList(""); len(list) != 0 {
		t.Fatalf("empty patch list: got %d entries, want 0", len(list))
	}

	list := ParsePatchList(content)
	want := []PatchInfo{
		{Index: 623, FileName: "2016-01_01.thor"},
		{Index: 870, FileName: "iteminfo_20170423_.thor"},
		{Index: 871, FileName: "sprites_20170427.thor"},
		{Index: 872, FileName: "sprites_20170429.thor"},
		{Index: 875, FileName: "rodex_20170501_.thor"},
	}
	if len(list) != len(want) {
		t.Fatalf("got %d entries, want %d", len(list), len(want))
	}
	for i, w := range want {
		if list[i] != w {
			t.Fatalf("entry %d = %+v, want %+v", i, list[i], w)
		}
	}
}

// seekBuffer adapts a bytes.Buffer into an io.WriteSeeker backed by a
// growable byte slice, standing in for a temp *os.File in these tests.
type seekBuffer struct {
	data []byte
	pos  int64
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.data)) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	copy(s.data[s.pos:end], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = int64(len(s.data)) + offset
	}
	return s.pos, nil
}

func (s *seekBuffer) ReaderAt() *bytes.Reader { return bytes.NewReader(s.data) }

func buildArchive(t *testing.T, useGrfMerging bool, targetGrfName string, includeChecksums bool, updates map[string][]byte, removals []string) *Reader {
	t.Helper()
	var buf seekBuffer
	b, err := New(&buf, useGrfMerging, targetGrfName, includeChecksums)
	if err != nil {
		t.Fatal(err)
	}
	for path, content := range updates {
		if err := b.AppendFileUpdate(path, bytes.NewReader(content)); err != nil {
			t.Fatal(err)
		}
	}
	for _, path := range removals {
		b.AppendFileRemoval(path)
	}
	if err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	r, err := New(buf.ReaderAt())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestBuilderEmpty(t *testing.T) {
	r := buildArchive(t, false, "", false, nil, nil)
	if r.FileCount() != 0 {
		t.Fatalf("FileCount() = %d, want 0", r.FileCount())
	}
	if r.TargetGrfName() != "" {
		t.Fatalf("TargetGrfName() = %q, want empty", r.TargetGrfName())
	}
	if r.UseGrfMerging() {
		t.Fatal("UseGrfMerging() = true, want false")
	}
}

func TestBuilderHeaderFields(t *testing.T) {
	r := buildArchive(t, true, "myserver.grf", false, nil, nil)
	if r.TargetGrfName() != "myserver.grf" {
		t.Fatalf("TargetGrfName() = %q, want %q", r.TargetGrfName(), "myserver.grf")
	}
	if !r.UseGrfMerging() {
		t.Fatal("UseGrfMerging() = false, want true")
	}
}

func TestBuilderAppendFileRemoval(t *testing.T) {
	r := buildArchive(t, false, "", false, nil, []string{"data/test1", "data/test2"})
	if r.FileCount() != 2 {
		t.Fatalf("FileCount() = %d, want 2", r.FileCount())
	}
	for _, e := range r.Entries() {
		if !e.IsRemoved {
			t.Fatalf("entry %q should be marked removed", e.RelativePath)
		}
	}
}

func TestBuilderAppendFileUpdate(t *testing.T) {
	content := map[string][]byte{
		"data\\test1": {1, 2, 3},
		"data\\test2": {5, 6},
	}
	r := buildArchive(t, false, "", false, content, nil)
	if r.FileCount() != len(content) {
		t.Fatalf("FileCount() = %d, want %d", r.FileCount(), len(content))
	}
	for path, want := range content {
		got, err := r.ReadFileContent(path)
		if err != nil {
			t.Fatalf("ReadFileContent(%q): %v", path, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("ReadFileContent(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestBuilderDataIntegrity(t *testing.T) {
	content := map[string][]byte{
		"data\\test1": {1, 2, 3},
		"data\\test2": {5, 6},
	}
	r := buildArchive(t, false, "", true, content, nil)
	valid, err := r.IsValid()
	if err != nil {
		t.Fatalf("IsValid(): %v", err)
	}
	if !valid {
		t.Fatal("IsValid() = false, want true")
	}
}

func TestReaderMissingIntegrityManifest(t *testing.T) {
	r := buildArchive(t, false, "", false, map[string][]byte{"a": {1}}, nil)
	_, err := r.IsValid()
	if err == nil {
		t.Fatal("IsValid() on an archive without data.integrity should report an error")
	}
}
