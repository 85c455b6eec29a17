package patcher

import (
	"path/filepath"
	"testing"
)

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patcher.dat")
	want := Cache{LastPatchIndex: 42}
	if err := WriteCacheFile(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadCacheFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("ReadCacheFile() = %+v, want %+v", got, want)
	}
}

func TestReadCacheFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.dat")
	if _, err := ReadCacheFile(path); err == nil {
		t.Fatal("expected an error reading a missing cache file")
	}
}
