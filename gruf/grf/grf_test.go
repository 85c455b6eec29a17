package grf

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func buildSample(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.grf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Create(f, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := b.AddFile(name, strings.NewReader(content)); err != nil {
			t.Fatalf("AddFile(%q): %v", name, err)
		}
	}
	if err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuilderReaderRoundTrip(t *testing.T) {
	files := map[string]string{
		`data\test.txt`:       "hello world",
		`data\nested\a.dat`:   strings.Repeat("x", 4096),
		`empty.dat`:           "",
	}
	path := buildSample(t, files)

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if r.FileCount() != len(files) {
		t.Fatalf("FileCount() = %d, want %d", r.FileCount(), len(files))
	}
	if r.VersionMajor() != 2 || r.VersionMinor() != 0 {
		t.Fatalf("version = %d.%d, want 2.0", r.VersionMajor(), r.VersionMinor())
	}
	for name, want := range files {
		if !r.ContainsFile(name) {
			t.Fatalf("ContainsFile(%q) = false", name)
		}
		got, err := r.ReadFileContent(name)
		if err != nil {
			t.Fatalf("ReadFileContent(%q): %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("ReadFileContent(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestBuilderRemoveFile(t *testing.T) {
	path := buildSample(t, map[string]string{"a.txt": "one", "b.txt": "two"})

	b, err := OpenForAppend(path)
	if err != nil {
		t.Fatal(err)
	}
	removed, err := b.RemoveFile("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("RemoveFile(a.txt) = false, want true")
	}
	if removed, err := b.RemoveFile("nonexistent.txt"); err != nil || removed {
		t.Fatalf("RemoveFile(nonexistent.txt) = (%v, %v), want (false, nil)", removed, err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.ContainsFile("a.txt") {
		t.Fatal("a.txt should have been removed")
	}
	if !r.ContainsFile("b.txt") {
		t.Fatal("b.txt should still be present")
	}
}

func TestBuilderAppendReusesChunk(t *testing.T) {
	path := buildSample(t, map[string]string{"a.txt": strings.Repeat("a", 1000)})

	before, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	oldOffset := before.FileEntry("a.txt").Offset
	if err := before.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := OpenForAppend(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.AddFile("a.txt", strings.NewReader("short")); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := r.ReadFileContent("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "short" {
		t.Fatalf("ReadFileContent(a.txt) = %q, want %q", got, "short")
	}
	if newOffset := r.FileEntry("a.txt").Offset; newOffset != oldOffset {
		t.Fatalf("a.txt moved from offset %d to %d, want its chunk reused", oldOffset, newOffset)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "idempotent-*.grf")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	b, err := Create(f, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("second Finish() should be a no-op, got: %v", err)
	}
}

func TestWriteGrf1xUnsupported(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "v1-*.grf")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	b, err := Create(f, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Finish(); err == nil {
		t.Fatal("Finish() on a 1.x archive should fail")
	}
}

func TestGetEntryRawDataMissing(t *testing.T) {
	path := buildSample(t, map[string]string{"a.txt": "one"})
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.GetEntryRawData("missing.txt"); err == nil {
		t.Fatal("GetEntryRawData(missing.txt) should fail")
	}
	if r.FileEntry("missing.txt") != nil {
		t.Fatal("FileEntry(missing.txt) should be nil")
	}
}

var _ io.ReaderAt = (*os.File)(nil)
