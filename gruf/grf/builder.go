package grf

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"github.com/l1nkz/rpatchur/gruf"
	"github.com/l1nkz/rpatchur/gruf/chunkalloc"
	"github.com/l1nkz/rpatchur/gruf/thor"
	"github.com/l1nkz/rpatchur/gruf/winenc"
)

// fixedKey is the key GRF 2.0 archives actually store in their header;
// 2.0 entries are never encrypted, so the value is a placeholder the
// client ignores.
var fixedKey = [14]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}

type genericFileEntry struct {
	offset         uint64
	size           uint32
	sizeCompressed uint32
}

// Builder incrementally assembles a GRF 2.0 archive, allocating space for
// new or resized entries with a best-fit chunk allocator so repeated
// patching doesn't grow the file more than necessary.
type Builder struct {
	obj          io.WriteSeeker
	closer       io.Closer
	startOffset  int64
	finished     bool
	versionMajor uint32
	versionMinor uint32
	entries      map[string]genericFileEntry
	chunks       *chunkalloc.List
}

// Create starts a new archive written to w, whose current seek position is
// taken as the start of the archive (so w may be a file already positioned
// past some other prefix, though in practice it's always the start).
func Create(w io.WriteSeeker, versionMajor, versionMinor uint32) (*Builder, error) {
	startOffset, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		startOffset = 0
	}
	if _, err := w.Write(make([]byte, HeaderSize)); err != nil {
		return nil, gruf.IOError("write grf header placeholder", err)
	}
	return &Builder{
		obj:          w,
		startOffset:  startOffset,
		versionMajor: versionMajor,
		versionMinor: versionMinor,
		entries:      make(map[string]genericFileEntry),
		chunks:       chunkalloc.New(uint64(HeaderSize)),
	}, nil
}

// OpenForAppend reopens an existing GRF archive for appending, rebuilding
// the chunk allocator's free-space index from the archive's current
// entries.
func OpenForAppend(path string) (*Builder, error) {
	archive, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	entries := make(map[string]genericFileEntry, archive.FileCount())
	allocEntries := make([]chunkalloc.Entry, 0, archive.FileCount())
	for _, e := range archive.Entries() {
		entries[e.RelativePath] = genericFileEntry{
			offset:         e.Offset,
			size:           uint32(e.Size),
			sizeCompressed: uint32(e.SizeCompressedAligned),
		}
		allocEntries = append(allocEntries, chunkalloc.Entry{
			Offset:                e.Offset,
			SizeCompressedAligned: uint64(e.SizeCompressedAligned),
		})
	}
	chunks, err := chunkalloc.FromEntries(uint64(HeaderSize), allocEntries)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, gruf.IOError("reopen "+path, err)
	}
	return &Builder{
		obj:          f,
		closer:       f,
		startOffset:  0,
		versionMajor: archive.VersionMajor(),
		versionMinor: archive.VersionMinor(),
		entries:      entries,
		chunks:       chunks,
	}, nil
}

// ImportRawEntryFromGrf copies relativePath's raw (still compressed) bytes
// from another already-open archive into this one, without recompressing.
func (b *Builder) ImportRawEntryFromGrf(archive *Reader, relativePath string) error {
	entry := archive.FileEntry(relativePath)
	if entry == nil {
		return gruf.EntryNotFound(relativePath)
	}
	content, err := archive.GetEntryRawData(relativePath)
	if err != nil {
		return err
	}
	if len(content) != entry.SizeCompressedAligned {
		return gruf.AllocatorError("raw content length for %q is %d, recorded size_compressed_aligned is %d", relativePath, len(content), entry.SizeCompressedAligned)
	}
	offset, err := b.allocFor(relativePath, len(content))
	if err != nil {
		return err
	}
	if err := b.writeAt(offset, content); err != nil {
		return err
	}
	b.entries[relativePath] = genericFileEntry{
		offset:         offset,
		size:           uint32(entry.Size),
		sizeCompressed: uint32(entry.SizeCompressedAligned),
	}
	return nil
}

// ImportRawEntryFromThor copies relativePath's raw (still compressed)
// bytes from an open THOR patch archive into this GRF archive.
func (b *Builder) ImportRawEntryFromThor(archive *thor.Reader, relativePath string) error {
	entry := archive.FileEntry(relativePath)
	if entry == nil {
		return gruf.EntryNotFound(relativePath)
	}
	content, err := archive.GetEntryRawData(relativePath)
	if err != nil {
		return err
	}
	if len(content) != entry.SizeCompressed {
		return gruf.AllocatorError("raw content length for %q is %d, recorded size_compressed is %d", relativePath, len(content), entry.SizeCompressed)
	}
	offset, err := b.allocFor(relativePath, len(content))
	if err != nil {
		return err
	}
	if err := b.writeAt(offset, content); err != nil {
		return err
	}
	b.entries[relativePath] = genericFileEntry{
		offset:         offset,
		size:           uint32(entry.Size),
		sizeCompressed: uint32(entry.SizeCompressed),
	}
	return nil
}

// AddFile compresses data and stores it under relativePath, overwriting any
// existing entry of the same name.
func (b *Builder) AddFile(relativePath string, data io.Reader) error {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	dataSize, err := io.Copy(zw, data)
	if err != nil {
		return gruf.IOError("compress "+relativePath, err)
	}
	if err := zw.Close(); err != nil {
		return gruf.IOError("finish compression for "+relativePath, err)
	}

	offset, err := b.allocFor(relativePath, compressed.Len())
	if err != nil {
		return err
	}
	if err := b.writeAt(offset, compressed.Bytes()); err != nil {
		return err
	}
	b.entries[relativePath] = genericFileEntry{
		offset:         offset,
		size:           uint32(dataSize),
		sizeCompressed: uint32(compressed.Len()),
	}
	return nil
}

// RemoveFile drops relativePath from the archive, freeing its chunk. It
// reports whether an entry of that name existed.
func (b *Builder) RemoveFile(relativePath string) (bool, error) {
	entry, ok := b.entries[relativePath]
	if !ok {
		return false, nil
	}
	delete(b.entries, relativePath)
	if err := b.chunks.Free(entry.offset, uint64(entry.sizeCompressed)); err != nil {
		return false, err
	}
	return true, nil
}

// allocFor reserves space for newSize bytes, reusing relativePath's current
// chunk via realloc if it already has one.
func (b *Builder) allocFor(relativePath string, newSize int) (uint64, error) {
	existing, ok := b.entries[relativePath]
	if !ok {
		return b.chunks.Alloc(uint64(newSize)), nil
	}
	return b.chunks.Realloc(existing.offset, uint64(existing.sizeCompressed), uint64(newSize))
}

func (b *Builder) writeAt(offset uint64, content []byte) error {
	if _, err := b.obj.Seek(b.startOffset+int64(offset), io.SeekStart); err != nil {
		return gruf.IOError("seek", err)
	}
	if _, err := b.obj.Write(content); err != nil {
		return gruf.IOError("write entry content", err)
	}
	return nil
}

// Finish flushes the file table and header. It is idempotent: calling it
// more than once is a no-op after the first successful call.
func (b *Builder) Finish() error {
	if b.finished {
		return nil
	}
	b.finished = true

	vFileCount := int32(len(b.entries) + 7)
	var tableOffset uint64
	var err error
	switch b.versionMajor {
	case 2:
		tableOffset, err = b.writeTable200()
	case 1:
		return gruf.ParsingError("wrong file format version: writing GRF 1.x archives is not supported")
	default:
		return gruf.ParsingError("wrong file format version: %d", b.versionMajor)
	}
	if err != nil {
		return err
	}

	if _, err := b.obj.Seek(b.startOffset, io.SeekStart); err != nil {
		return gruf.IOError("seek to header", err)
	}
	return writeHeader(b.obj, (b.versionMajor<<8)|b.versionMinor, uint32(tableOffset)-uint32(HeaderSize), vFileCount)
}

// Close finishes the archive (if not already finished) and releases the
// underlying file, if this Builder owns one (i.e. it came from
// OpenForAppend).
func (b *Builder) Close() error {
	err := b.Finish()
	if b.closer != nil {
		if cerr := b.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (b *Builder) writeTable200() (uint64, error) {
	var table bytes.Buffer
	for relativePath, entry := range b.entries {
		cstr, err := winenc.EncodeCString(relativePath)
		if err != nil {
			return 0, err
		}
		table.Write(cstr)
		var fixed [17]byte
		binary.LittleEndian.PutUint32(fixed[0:4], entry.sizeCompressed)
		binary.LittleEndian.PutUint32(fixed[4:8], entry.sizeCompressed) // size_compressed_aligned == size_compressed
		binary.LittleEndian.PutUint32(fixed[8:12], entry.size)
		fixed[12] = 1 // entry_type
		binary.LittleEndian.PutUint32(fixed[13:17], uint32(entry.offset)-uint32(HeaderSize))
		table.Write(fixed[:])
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(table.Bytes()); err != nil {
		return 0, gruf.IOError("compress grf table", err)
	}
	if err := zw.Close(); err != nil {
		return 0, gruf.IOError("finish grf table compression", err)
	}

	tableOffset := b.chunks.Alloc(uint64(compressed.Len() + 2*4))
	if _, err := b.obj.Seek(b.startOffset+int64(tableOffset), io.SeekStart); err != nil {
		return 0, gruf.IOError("seek to table", err)
	}
	var sizes [8]byte
	binary.LittleEndian.PutUint32(sizes[0:4], uint32(compressed.Len()))
	binary.LittleEndian.PutUint32(sizes[4:8], uint32(table.Len()))
	if _, err := b.obj.Write(sizes[:]); err != nil {
		return 0, gruf.IOError("write grf table sizes", err)
	}
	if _, err := b.obj.Write(compressed.Bytes()); err != nil {
		return 0, gruf.IOError("write grf table", err)
	}
	return tableOffset, nil
}

func writeHeader(w io.Writer, version uint32, fileTableOffset uint32, vFileCount int32) error {
	if _, err := w.Write([]byte(HeaderMagic)); err != nil {
		return gruf.IOError("write grf magic", err)
	}
	var rest [30]byte
	copy(rest[0:14], fixedKey[:])
	binary.LittleEndian.PutUint32(rest[14:18], fileTableOffset)
	binary.LittleEndian.PutUint32(rest[18:22], 0) // seed
	binary.LittleEndian.PutUint32(rest[22:26], uint32(vFileCount))
	binary.LittleEndian.PutUint32(rest[26:30], version)
	if _, err := w.Write(rest[:]); err != nil {
		return gruf.IOError("write grf header", err)
	}
	return nil
}
