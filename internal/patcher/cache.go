package patcher

import (
	"encoding/json"
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// Cache is the patcher's small persisted state: the index of the last patch
// that was successfully applied, so a subsequent run can skip everything up
// to and including it.
//
// The reference implementation serializes this with bincode; here it's
// plain JSON written atomically with renameio, so a crash mid-write can
// never leave a half-written, unparseable cache file behind.
type Cache struct {
	LastPatchIndex int `json:"last_patch_index"`
}

// ReadCacheFile reads and parses the cache file at path.
func ReadCacheFile(path string) (Cache, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Cache{}, xerrors.Errorf("read cache file %q: %w", path, err)
	}
	var c Cache
	if err := json.Unmarshal(b, &c); err != nil {
		return Cache{}, xerrors.Errorf("parse cache file %q: %w", path, err)
	}
	return c, nil
}

// WriteCacheFile atomically replaces the cache file at path with c's
// contents.
func WriteCacheFile(path string, c Cache) error {
	b, err := json.Marshal(c)
	if err != nil {
		return xerrors.Errorf("marshal cache: %w", err)
	}
	if err := renameio.WriteFile(path, b, 0o644); err != nil {
		return xerrors.Errorf("write cache file %q: %w", path, err)
	}
	return nil
}
