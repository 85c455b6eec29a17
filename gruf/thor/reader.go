package thor

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/exp/mmap"

	"github.com/l1nkz/rpatchur/gruf"
	"github.com/l1nkz/rpatchur/gruf/winenc"
)

const (
	maxFileNameSize         = 256
	headerMaxSize           = len(HeaderMagic) + 0x8 + maxFileNameSize
	singleFileEntryMaxSize  = 9 + maxFileNameSize
	headerExtendedMaxSize   = headerMaxSize + multipleFilesTableDescSize + singleFileEntryMaxSize
)

// ParsePatchList parses the contents of a plist.txt patch list: one
// "index file_name" pair per line, with malformed or comment lines (e.g.
// "//870 some.thor") silently skipped. The result is sorted by Index.
func ParsePatchList(content string) PatchList {
	var list PatchList
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		index, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		list = append(list, PatchInfo{Index: index, FileName: fields[1]})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Index < list[j].Index })
	return list
}

func parseDataIntegrityInfo(data string) map[string]uint32 {
	out := make(map[string]uint32)
	for _, line := range strings.Split(data, "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), "=", 2)
		if len(fields) != 2 {
			continue
		}
		hashStr := strings.TrimPrefix(fields[1], "0x")
		hash, err := strconv.ParseUint(hashStr, 16, 32)
		if err != nil {
			continue
		}
		out[fields[0]] = uint32(hash)
	}
	return out
}

// Reader gives random access to the entries of an opened THOR archive.
type Reader struct {
	obj     io.ReaderAt
	closer  io.Closer
	header  Header
	entries map[string]FileEntry
}

// Open memory-maps the THOR archive at path and parses its header and file
// table.
func Open(path string) (*Reader, error) {
	f, err := mmap.Open(path)
	if err != nil {
		return nil, gruf.IOError("open "+path, err)
	}
	r, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// New parses a THOR archive already available as an io.ReaderAt, without
// taking ownership of closing it.
func New(r io.ReaderAt) (*Reader, error) {
	headerBuf, err := io.ReadAll(io.NewSectionReader(r, 0, int64(headerExtendedMaxSize)))
	if err != nil {
		return nil, gruf.IOError("read thor header", err)
	}

	buf := headerBuf
	if len(buf) < len(HeaderMagic) || string(buf[:len(HeaderMagic)]) != HeaderMagic {
		return nil, gruf.ParsingError("bad THOR magic")
	}
	buf = buf[len(HeaderMagic):]

	if len(buf) < 7 {
		return nil, gruf.ParsingError("truncated THOR header")
	}
	useGrfMerging := buf[0] == 1
	// On disk the field is stored as count+1; undo that here so Header.FileCount
	// matches the number of entries the table actually holds.
	fileCount := binary.LittleEndian.Uint32(buf[1:5]) - 1
	mode := modeFromI16(int16(binary.LittleEndian.Uint16(buf[5:7])))
	buf = buf[7:]

	if len(buf) < 1 {
		return nil, gruf.ParsingError("truncated THOR header")
	}
	targetGrfNameSize := int(buf[0])
	buf = buf[1:]
	if len(buf) < targetGrfNameSize {
		return nil, gruf.ParsingError("truncated THOR header: target GRF name")
	}
	targetGrfName, err := winenc.Decode(buf[:targetGrfNameSize])
	if err != nil {
		return nil, gruf.ParsingError("thor header: %w", err)
	}
	buf = buf[targetGrfNameSize:]

	header := Header{
		UseGrfMerging: useGrfMerging,
		FileCount:     int(fileCount),
		Mode:          mode,
		TargetGrfName: targetGrfName,
	}

	var entries map[string]FileEntry
	switch mode {
	case ModeInvalid:
		return nil, gruf.ParsingError("invalid THOR header mode")
	case ModeSingleFile:
		entries, err = parseSingleFileTable(headerBuf, buf)
	case ModeMultipleFiles:
		entries, err = parseMultipleFilesTable(r, buf, headerBuf)
	}
	if err != nil {
		return nil, err
	}
	return &Reader{obj: r, header: header, entries: entries}, nil
}

func parseSingleFileTable(headerBuf, buf []byte) (map[string]FileEntry, error) {
	if len(buf) < 1 {
		return nil, gruf.ParsingError("truncated THOR single-file table")
	}
	buf = buf[1:] // reserved byte

	if len(buf) < 9 {
		return nil, gruf.ParsingError("truncated THOR single-file entry")
	}
	sizeCompressed := int32(binary.LittleEndian.Uint32(buf[0:4]))
	size := int32(binary.LittleEndian.Uint32(buf[4:8]))
	relativePathSize := int(buf[8])
	buf = buf[9:]
	if len(buf) < relativePathSize {
		return nil, gruf.ParsingError("truncated THOR single-file entry: path")
	}
	relativePath, err := winenc.Decode(buf[:relativePathSize])
	if err != nil {
		return nil, gruf.ParsingError("thor single-file entry: %w", err)
	}
	buf = buf[relativePathSize:]

	offset := uint64(len(headerBuf) - len(buf))
	return map[string]FileEntry{
		relativePath: {
			RelativePath:   relativePath,
			SizeCompressed: int(sizeCompressed),
			Size:           int(size),
			IsRemoved:      false,
			Offset:         offset,
		},
	}, nil
}

func parseMultipleFilesTable(r io.ReaderAt, buf, headerBuf []byte) (map[string]FileEntry, error) {
	if len(buf) < multipleFilesTableDescSize {
		return nil, gruf.ParsingError("truncated THOR multiple-files table descriptor")
	}
	tableCompressedSize := int32(binary.LittleEndian.Uint32(buf[0:4]))
	tableOffset := int32(binary.LittleEndian.Uint32(buf[4:8]))
	buf = buf[8:]

	consumedBytes := uint64(len(headerBuf) - len(buf))
	if uint64(tableOffset) < consumedBytes {
		return nil, gruf.ParsingError("invalid THOR file table offset")
	}

	compressed := make([]byte, tableCompressedSize)
	if _, err := io.ReadFull(io.NewSectionReader(r, int64(tableOffset), int64(tableCompressedSize)), compressed); err != nil {
		return nil, gruf.IOError("read thor file table", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, gruf.ParsingError("open thor table zlib stream: %w", err)
	}
	defer zr.Close()
	table, err := io.ReadAll(zr)
	if err != nil {
		return nil, gruf.ParsingError("decompress thor table: %w", err)
	}

	entries := make(map[string]FileEntry)
	for len(table) > 0 {
		entry, rest, err := parseMultipleFilesEntry(table)
		if err != nil {
			return nil, err
		}
		entries[entry.RelativePath] = entry
		table = rest
	}
	return entries, nil
}

func parseMultipleFilesEntry(buf []byte) (FileEntry, []byte, error) {
	if len(buf) < 1 {
		return FileEntry{}, nil, gruf.ParsingError("truncated THOR file entry")
	}
	relativePathSize := int(buf[0])
	buf = buf[1:]
	if len(buf) < relativePathSize {
		return FileEntry{}, nil, gruf.ParsingError("truncated THOR file entry: path")
	}
	relativePath, err := winenc.Decode(buf[:relativePathSize])
	if err != nil {
		return FileEntry{}, nil, gruf.ParsingError("thor file entry: %w", err)
	}
	buf = buf[relativePathSize:]

	if len(buf) < 1 {
		return FileEntry{}, nil, gruf.ParsingError("truncated THOR file entry: flags")
	}
	flags := buf[0]
	buf = buf[1:]
	isRemoved := flags&0b1 == 1

	var offset uint64
	var sizeCompressed, size int32
	if !isRemoved {
		if len(buf) < 12 {
			return FileEntry{}, nil, gruf.ParsingError("truncated THOR file entry: fields")
		}
		offset = uint64(binary.LittleEndian.Uint32(buf[0:4]))
		sizeCompressed = int32(binary.LittleEndian.Uint32(buf[4:8]))
		size = int32(binary.LittleEndian.Uint32(buf[8:12]))
		buf = buf[12:]
	}

	return FileEntry{
		RelativePath:   relativePath,
		SizeCompressed: int(sizeCompressed),
		Size:           int(size),
		IsRemoved:      isRemoved,
		Offset:         offset,
	}, buf, nil
}

// Close releases the underlying memory mapping, if this Reader owns one
// (i.e. it was returned by Open rather than New).
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// UseGrfMerging reports whether this patch's entries must be merged into a
// target GRF archive rather than extracted directly to the client directory.
func (r *Reader) UseGrfMerging() bool { return r.header.UseGrfMerging }

// FileCount returns the number of entries (updates and removals) carried by
// the archive.
func (r *Reader) FileCount() int { return len(r.entries) }

// TargetGrfName returns the GRF archive this patch should be merged into,
// or the empty string for the client's default data GRF.
func (r *Reader) TargetGrfName() string { return r.header.TargetGrfName }

// FileEntry returns the metadata for path, or nil if there is no such entry.
func (r *Reader) FileEntry(path string) *FileEntry {
	e, ok := r.entries[path]
	if !ok {
		return nil
	}
	return &e
}

// Entries returns every entry (updates and removals) of the archive, in no
// particular order.
func (r *Reader) Entries() []FileEntry {
	out := make([]FileEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// GetEntryRawData returns path's raw (still zlib-compressed) on-disk bytes.
func (r *Reader) GetEntryRawData(path string) ([]byte, error) {
	entry, ok := r.entries[path]
	if !ok {
		return nil, gruf.EntryNotFound(path)
	}
	if entry.SizeCompressed == 0 {
		return nil, nil
	}
	buf := make([]byte, entry.SizeCompressed)
	if _, err := io.ReadFull(io.NewSectionReader(r.obj, int64(entry.Offset), int64(len(buf))), buf); err != nil {
		return nil, gruf.IOError("read entry "+path, err)
	}
	return buf, nil
}

// ReadFileContent returns path's fully decompressed content.
func (r *Reader) ReadFileContent(path string) ([]byte, error) {
	entry, ok := r.entries[path]
	if !ok {
		return nil, gruf.EntryNotFound(path)
	}
	if entry.SizeCompressed == 0 {
		return nil, nil
	}
	raw, err := r.GetEntryRawData(path)
	if err != nil {
		return nil, err
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, gruf.ParsingError("open entry zlib stream: %w", err)
	}
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return nil, gruf.ParsingError("decompress entry: %w", err)
	}
	if len(decoded) != entry.Size {
		return nil, gruf.ParsingError("decompressed content is not as expected for %q: got %d bytes, want %d", path, len(decoded), entry.Size)
	}
	return decoded, nil
}

// ExtractFile decompresses path's content and writes it to w.
func (r *Reader) ExtractFile(path string, w io.Writer) error {
	content, err := r.ReadFileContent(path)
	if err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		return gruf.IOError("write extracted file "+path, err)
	}
	return nil
}

// IsValid checks the archive's data.integrity manifest (if any) against the
// actual CRC32 of every entry it lists. A missing manifest is reported as
// gruf.ErrEntryNotFound, distinct from a present-but-failing manifest,
// mirroring the archive's own lack of checksums rather than a corruption.
func (r *Reader) IsValid() (bool, error) {
	integrityData, err := r.ReadFileContent(IntegrityFileName)
	if err != nil {
		return false, err
	}
	integrityText, err := winenc.Decode(integrityData)
	if err != nil {
		return false, gruf.ParsingError("data.integrity: %w", err)
	}
	for path, wantHash := range parseDataIntegrityInfo(integrityText) {
		content, err := r.ReadFileContent(path)
		if err != nil {
			return false, nil
		}
		if crc32IEEE(content) != wantHash {
			return false, nil
		}
	}
	return true, nil
}
