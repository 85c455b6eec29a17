// Package patchapply applies a parsed THOR patch archive onto either a GRF
// container or a plain client directory tree.
package patchapply

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/l1nkz/rpatchur/gruf"
	"github.com/l1nkz/rpatchur/gruf/grf"
	"github.com/l1nkz/rpatchur/gruf/thor"
)

// GrfPatchingMethod selects how a GRF archive is rewritten when applying a
// patch to it.
type GrfPatchingMethod int

const (
	// InPlace edits the archive directly: faster and smaller disk
	// footprint during patching, but a failure partway through can leave
	// the archive corrupted.
	InPlace GrfPatchingMethod = iota
	// OutOfPlace builds a fresh archive next to the original and swaps it
	// in once complete: slower, but a failure never corrupts the live
	// archive.
	OutOfPlace
)

// ApplyPatchToGrf applies thorArchive's entries onto the GRF archive at
// grfFilePath, creating it first (as an empty 2.0 archive) if it doesn't
// exist and createIfNeeded is set.
func ApplyPatchToGrf(method GrfPatchingMethod, createIfNeeded bool, grfFilePath string, thorArchive *thor.Reader) error {
	if _, err := os.Stat(grfFilePath); os.IsNotExist(err) && createIfNeeded {
		f, err := os.Create(grfFilePath)
		if err != nil {
			return gruf.IOError("create "+grfFilePath, err)
		}
		b, err := grf.Create(f, 2, 0)
		if err != nil {
			f.Close()
			return err
		}
		if err := b.Finish(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return gruf.IOError("close "+grfFilePath, err)
		}
	} else if err != nil && !os.IsNotExist(err) {
		return gruf.IOError("stat "+grfFilePath, err)
	}

	switch method {
	case InPlace:
		return applyPatchToGrfInPlace(grfFilePath, thorArchive)
	case OutOfPlace:
		return applyPatchToGrfOutOfPlace(grfFilePath, thorArchive)
	default:
		return xerrors.Errorf("unknown GRF patching method %d", method)
	}
}

// applyPatchToGrfInPlace edits grfFilePath's archive directly. Faster, but a
// crash partway through can corrupt the archive.
func applyPatchToGrfInPlace(grfFilePath string, thorArchive *thor.Reader) error {
	builder, err := grf.OpenForAppend(grfFilePath)
	if err != nil {
		return err
	}
	defer builder.Close()

	entries := relevantEntriesByOffset(thorArchive)
	for _, entry := range entries {
		if entry.IsRemoved {
			builder.RemoveFile(entry.RelativePath)
			continue
		}
		if err := builder.ImportRawEntryFromThor(thorArchive, entry.RelativePath); err != nil {
			return err
		}
	}
	return builder.Finish()
}

type mergeSource int

const (
	fromGrf mergeSource = iota
	fromThor
)

type mergeEntry struct {
	source mergeSource
	path   string
}

// applyPatchToGrfOutOfPlace builds a fresh archive and swaps it in once
// complete, so a failure midway never corrupts the live archive.
//
// The original is renamed aside to a .bak file while the new archive is
// assembled; if anything fails after that rename, a deferred recovery step
// restores the .bak file back to grfFilePath so the client is never left
// without a usable archive.
func applyPatchToGrfOutOfPlace(grfFilePath string, thorArchive *thor.Reader) (err error) {
	backupPath := grfFilePath + ".bak"
	if err := os.Rename(grfFilePath, backupPath); err != nil {
		return gruf.IOError("back up "+grfFilePath, err)
	}
	defer func() {
		if err != nil {
			log.Printf("rebuilding %s failed, restoring backup: %v", grfFilePath, err)
			if rerr := os.Rename(backupPath, grfFilePath); rerr != nil {
				log.Printf("restore backup %s: %v", backupPath, rerr)
			}
		}
	}()

	grfArchive, err := grf.Open(backupPath)
	if err != nil {
		return err
	}
	defer grfArchive.Close()

	merged := make(map[string]mergeEntry)
	for _, entry := range grfArchive.Entries() {
		if thorEntry := thorArchive.FileEntry(entry.RelativePath); thorEntry != nil && thorEntry.IsRemoved {
			continue
		}
		merged[entry.RelativePath] = mergeEntry{source: fromGrf, path: entry.RelativePath}
	}
	for _, entry := range thorArchive.Entries() {
		if entry.IsRemoved || entry.IsInternal() {
			continue
		}
		merged[entry.RelativePath] = mergeEntry{source: fromThor, path: entry.RelativePath}
	}

	paths := make([]string, 0, len(merged))
	for path := range merged {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	func() {
		newFile, createErr := os.Create(grfFilePath)
		if createErr != nil {
			err = gruf.IOError("create "+grfFilePath, createErr)
			return
		}
		defer newFile.Close()
		builder, buildErr := grf.Create(newFile, 2, 0)
		if buildErr != nil {
			err = buildErr
			return
		}
		for _, path := range paths {
			entry := merged[path]
			switch entry.source {
			case fromGrf:
				err = builder.ImportRawEntryFromGrf(grfArchive, path)
			case fromThor:
				err = builder.ImportRawEntryFromThor(thorArchive, path)
			}
			if err != nil {
				return
			}
		}
		err = builder.Finish()
	}()
	if err != nil {
		return err
	}

	if err := os.Remove(backupPath); err != nil {
		return gruf.IOError("remove backup "+backupPath, err)
	}
	return nil
}

// relevantEntriesByOffset returns thorArchive's non-internal entries sorted
// by on-disk offset, the order in which they should be applied so later
// entries never get shadowed by an earlier write into a chunk that was
// about to be reused.
func relevantEntriesByOffset(thorArchive *thor.Reader) []thor.FileEntry {
	entries := make([]thor.FileEntry, 0, thorArchive.FileCount())
	for _, e := range thorArchive.Entries() {
		if !e.IsInternal() {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })
	return entries
}

// ApplyPatchToDisk extracts thorArchive's entries directly into
// rootDirectory, removing files the patch marks as deleted.
func ApplyPatchToDisk(rootDirectory string, thorArchive *thor.Reader) error {
	entries := relevantEntriesByOffset(thorArchive)
	for _, entry := range entries {
		destPath := joinWindowsRelativePath(rootDirectory, entry.RelativePath)
		if entry.IsRemoved {
			_ = os.Remove(destPath)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return gruf.IOError("create directory for "+destPath, err)
		}
		if err := extractFile(thorArchive, entry.RelativePath, destPath); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(thorArchive *thor.Reader, relativePath, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return gruf.IOError("create "+destPath, err)
	}
	defer f.Close()
	content, err := thorArchive.ReadFileContent(relativePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, bytes.NewReader(content)); err != nil {
		return gruf.IOError("write "+destPath, err)
	}
	return nil
}

// joinWindowsRelativePath joins a Windows-style (backslash-separated)
// relative path onto root using the host's own path separator conventions.
func joinWindowsRelativePath(root, windowsRelativePath string) string {
	components := strings.Split(windowsRelativePath, `\`)
	return filepath.Join(append([]string{root}, components...)...)
}
