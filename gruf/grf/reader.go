package grf

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/exp/mmap"

	"github.com/l1nkz/rpatchur/gruf"
	"github.com/l1nkz/rpatchur/gruf/legacyname"
	"github.com/l1nkz/rpatchur/gruf/winenc"
)

// Reader gives random access to the entries of an opened GRF archive. It
// keeps the archive memory-mapped so reads don't pay a syscall each time.
type Reader struct {
	obj    io.ReaderAt
	closer io.Closer
	header Header
	entries map[string]FileEntry
}

// Open memory-maps the GRF archive at path and parses its header and file
// table.
func Open(path string) (*Reader, error) {
	f, err := mmap.Open(path)
	if err != nil {
		return nil, gruf.IOError("open "+path, err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader parses a GRF archive already available as an io.ReaderAt,
// without taking ownership of closing it.
func NewReader(r io.ReaderAt) (*Reader, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, HeaderSize), headerBuf); err != nil {
		return nil, gruf.IOError("read grf header", err)
	}
	header, err := parseHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	var entries map[string]FileEntry
	switch header.VersionMajor {
	case 2:
		entries, err = readTable200(r, header)
	case 1:
		if header.VersionMinor < 1 || header.VersionMinor > 3 {
			return nil, gruf.ParsingError("unsupported archive version 1.%d", header.VersionMinor)
		}
		entries, err = readTable101(r, header)
	default:
		return nil, gruf.ParsingError("unsupported archive version %d", header.VersionMajor)
	}
	if err != nil {
		return nil, err
	}
	return &Reader{obj: r, header: header, entries: entries}, nil
}

// Close releases the underlying memory mapping, if this Reader owns one
// (i.e. it was returned by Open rather than NewReader).
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func parseHeader(buf []byte) (Header, error) {
	if !bytes.Equal(buf[:len(HeaderMagic)], []byte(HeaderMagic)) {
		return Header{}, gruf.ParsingError("bad GRF magic")
	}
	rest := buf[len(HeaderMagic):]
	var h Header
	copy(h.Key[:], rest[:14])
	rest = rest[14:]
	fileTableOffset := binary.LittleEndian.Uint32(rest[0:4])
	seed := int32(binary.LittleEndian.Uint32(rest[4:8]))
	vFileCount := int32(binary.LittleEndian.Uint32(rest[8:12]))
	version := binary.LittleEndian.Uint32(rest[12:16])
	h.FileTableOffset = uint64(fileTableOffset)
	h.Seed = seed
	h.FileCount = int(vFileCount - seed - 7)
	h.VersionMajor = (version >> 8) & 0xFF
	h.VersionMinor = version & 0xFF
	return h, nil
}

func zlibDecompress(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, gruf.ParsingError("open zlib stream: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, gruf.ParsingError("decompress: %w", err)
	}
	return out, nil
}

func readTable200(r io.ReaderAt, header Header) (map[string]FileEntry, error) {
	if header.FileCount == 0 {
		return map[string]FileEntry{}, nil
	}
	infoBuf := make([]byte, tableInfo200Size)
	off := int64(HeaderSize) + int64(header.FileTableOffset)
	if _, err := io.ReadFull(io.NewSectionReader(r, off, tableInfo200Size), infoBuf); err != nil {
		return nil, gruf.IOError("read grf table info", err)
	}
	tableSizeCompressed := binary.LittleEndian.Uint32(infoBuf[0:4])
	tableSize := binary.LittleEndian.Uint32(infoBuf[4:8])
	if tableSizeCompressed == 0 || tableSize == 0 {
		return map[string]FileEntry{}, nil
	}

	compressed := make([]byte, tableSizeCompressed)
	compOff := off + tableInfo200Size
	if _, err := io.ReadFull(io.NewSectionReader(r, compOff, int64(tableSizeCompressed)), compressed); err != nil {
		return nil, gruf.IOError("read grf table", err)
	}
	table, err := zlibDecompress(compressed)
	if err != nil {
		return nil, err
	}
	return parseEntries200(table, header.FileCount)
}

func parseEntries200(table []byte, fileCount int) (map[string]FileEntry, error) {
	entries := make(map[string]FileEntry, fileCount)
	for i := 0; i < fileCount && len(table) > 0; i++ {
		nameEnd := bytes.IndexByte(table, 0)
		if nameEnd < 0 {
			return nil, gruf.ParsingError("grf file table: missing NUL terminator")
		}
		name, err := winenc.Decode(table[:nameEnd])
		if err != nil {
			return nil, gruf.ParsingError("grf file table: %w", err)
		}
		table = table[nameEnd+1:]
		if len(table) < 17 {
			return nil, gruf.ParsingError("grf file table: truncated entry")
		}
		sizeCompressed := binary.LittleEndian.Uint32(table[0:4])
		sizeCompressedAligned := binary.LittleEndian.Uint32(table[4:8])
		size := binary.LittleEndian.Uint32(table[8:12])
		entryType := table[12]
		offset := binary.LittleEndian.Uint32(table[13:17])
		table = table[17:]

		entries[name] = FileEntry{
			RelativePath:          name,
			SizeCompressed:        int(sizeCompressed),
			SizeCompressedAligned: int(sizeCompressedAligned),
			Size:                  int(size),
			EntryType:             entryType,
			Offset:                uint64(HeaderSize) + uint64(offset),
			Encryption:            Encryption{},
		}
	}
	return entries, nil
}

// readTable101 parses the uncompressed file table of a GRF 1.1/1.2/1.3
// archive. Like the 2.0 table it starts at HeaderSize+FileTableOffset, but
// it is stored uncompressed and without a length prefix, so it is read
// through to the end of the file.
func readTable101(r io.ReaderAt, header Header) (map[string]FileEntry, error) {
	if header.FileCount == 0 {
		return map[string]FileEntry{}, nil
	}
	tableStart := int64(HeaderSize) + int64(header.FileTableOffset)
	table, err := io.ReadAll(io.NewSectionReader(r, tableStart, 1<<40))
	if err != nil {
		return nil, gruf.IOError("read grf file table", err)
	}
	return parseEntries101(table, header.FileCount)
}

func parseEntries101(table []byte, fileCount int) (map[string]FileEntry, error) {
	entries := make(map[string]FileEntry, fileCount)
	// The table carries one fewer entry than the obfuscated file count
	// implies; the client reserves the last slot for itself.
	maxEntries := fileCount - 1
	for i := 0; i < maxEntries && len(table) > 0; i++ {
		if len(table) < 4 {
			break
		}
		pathSizePadded := binary.LittleEndian.Uint32(table[0:4])
		table = table[4:]
		if pathSizePadded < 6 || len(table) < int(pathSizePadded) {
			return nil, gruf.ParsingError("grf file table: invalid padded path size")
		}
		table = table[2:] // two NUL bytes
		nameLen := int(pathSizePadded) - 6
		obfuscated := append([]byte(nil), table[:nameLen]...)
		table = table[nameLen:]
		table = table[4:] // four NUL bytes

		decrypted := legacyname.DecryptFileName(obfuscated)
		name, err := winenc.Decode(decrypted)
		if err != nil {
			return nil, gruf.ParsingError("grf file table: %w", err)
		}

		if len(table) < 17 {
			return nil, gruf.ParsingError("grf file table: truncated entry")
		}
		sizeTotEnc := binary.LittleEndian.Uint32(table[0:4])
		sizeCompressedAlignedEnc := binary.LittleEndian.Uint32(table[4:8])
		size := binary.LittleEndian.Uint32(table[8:12])
		entryType := table[12]
		offset := binary.LittleEndian.Uint32(table[13:17])
		table = table[17:]

		sizeCompressed := int(sizeTotEnc) - int(size) - 0x02CB
		entries[name] = FileEntry{
			RelativePath:          name,
			SizeCompressed:        sizeCompressed,
			SizeCompressedAligned: int(sizeCompressedAlignedEnc) - 0x92CB,
			Size:                  int(size),
			EntryType:             entryType,
			Offset:                uint64(HeaderSize) + uint64(offset),
			Encryption:            determineFileEncryption101(name, sizeCompressed),
		}
	}
	return entries, nil
}

// FileCount returns the number of entries in the archive's table.
func (r *Reader) FileCount() int { return len(r.entries) }

// VersionMajor returns the archive's major format version (1 or 2).
func (r *Reader) VersionMajor() uint32 { return r.header.VersionMajor }

// VersionMinor returns the archive's minor format version.
func (r *Reader) VersionMinor() uint32 { return r.header.VersionMinor }

// ContainsFile reports whether path names an entry in the archive.
func (r *Reader) ContainsFile(path string) bool {
	_, ok := r.entries[path]
	return ok
}

// FileEntry returns the metadata for path, or nil if there is no such entry.
func (r *Reader) FileEntry(path string) *FileEntry {
	e, ok := r.entries[path]
	if !ok {
		return nil
	}
	return &e
}

// Entries returns every entry of the archive, in no particular order.
func (r *Reader) Entries() []FileEntry {
	out := make([]FileEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// GetEntryRawData returns path's raw (still compressed, still possibly
// obfuscated) on-disk bytes, for copying directly into another archive
// without re-encoding.
func (r *Reader) GetEntryRawData(path string) ([]byte, error) {
	entry, ok := r.entries[path]
	if !ok {
		return nil, gruf.EntryNotFound(path)
	}
	if entry.SizeCompressedAligned == 0 {
		return nil, nil
	}
	buf := make([]byte, entry.SizeCompressedAligned)
	if _, err := io.ReadFull(io.NewSectionReader(r.obj, int64(entry.Offset), int64(len(buf))), buf); err != nil {
		return nil, gruf.IOError("read entry "+path, err)
	}
	return buf, nil
}

// ReadFileContent returns path's fully decoded (decrypted and
// decompressed) content.
func (r *Reader) ReadFileContent(path string) ([]byte, error) {
	entry, ok := r.entries[path]
	if !ok {
		return nil, gruf.EntryNotFound(path)
	}
	if entry.Size == 0 {
		return nil, nil
	}
	content, err := r.GetEntryRawData(path)
	if err != nil {
		return nil, err
	}
	if entry.Encryption.Encrypted {
		legacyname.DecryptFileContent(content, entry.Encryption.Cycle)
	}
	decoded, err := zlibDecompress(content)
	if err != nil {
		return nil, err
	}
	if len(decoded) != entry.Size {
		return nil, gruf.ParsingError("decompressed content is not as expected for %q: got %d bytes, want %d", path, len(decoded), entry.Size)
	}
	return decoded, nil
}
