package thor

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sort"

	"github.com/klauspost/compress/zlib"

	"github.com/l1nkz/rpatchur/gruf"
	"github.com/l1nkz/rpatchur/gruf/winenc"
)

const thorHeaderFixedSize = len(HeaderMagic) + 0x8

const removeFileFlag = 1

type builderFileEntry struct {
	offset         uint64
	size           uint32
	sizeCompressed uint32
	checksum       uint32
}

// Builder incrementally assembles a THOR patch archive, always in
// MultipleFiles mode: writing a legacy SingleFile-mode archive is not
// supported, mirroring what the reference builder ever produces.
type Builder struct {
	obj               io.WriteSeeker
	entries           map[string]*builderFileEntry // nil value means "file removal"
	finished          bool
	useGrfMerging     bool
	targetGrfName     string
	includeChecksums  bool
}

// New starts a new THOR archive written to w. targetGrfName is the GRF
// archive this patch merges into; pass "" for the client's default data
// GRF. When includeChecksums is set, Finish appends a data.integrity
// manifest covering every updated file.
func New(w io.WriteSeeker, useGrfMerging bool, targetGrfName string, includeChecksums bool) (*Builder, error) {
	placeholderSize := thorHeaderFixedSize + len(targetGrfName) + multipleFilesTableDescSize
	if _, err := w.Write(make([]byte, placeholderSize)); err != nil {
		return nil, gruf.IOError("write thor header placeholder", err)
	}
	return &Builder{
		obj:              w,
		entries:          make(map[string]*builderFileEntry),
		useGrfMerging:    useGrfMerging,
		targetGrfName:    targetGrfName,
		includeChecksums: includeChecksums,
	}, nil
}

// AppendFileUpdate compresses data and records it as an update to
// entryPath, to be written to the archive on Finish.
func (b *Builder) AppendFileUpdate(entryPath string, data io.Reader) error {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)

	var checksum uint32
	var dataSize int64
	var err error
	if b.includeChecksums {
		digest := crc32.NewIEEE()
		dataSize, err = io.Copy(io.MultiWriter(zw, digest), data)
		checksum = digest.Sum32()
	} else {
		dataSize, err = io.Copy(zw, data)
	}
	if err != nil {
		return gruf.IOError("compress "+entryPath, err)
	}
	if err := zw.Close(); err != nil {
		return gruf.IOError("finish compression for "+entryPath, err)
	}

	offset, err := b.obj.Seek(0, io.SeekCurrent)
	if err != nil {
		return gruf.IOError("seek", err)
	}
	if _, err := b.obj.Write(compressed.Bytes()); err != nil {
		return gruf.IOError("write entry content", err)
	}

	b.entries[entryPath] = &builderFileEntry{
		offset:         uint64(offset),
		size:           uint32(dataSize),
		sizeCompressed: uint32(compressed.Len()),
		checksum:       checksum,
	}
	return nil
}

// AppendFileRemoval records entryPath as a deletion, to be written to the
// archive on Finish.
func (b *Builder) AppendFileRemoval(entryPath string) {
	b.entries[entryPath] = nil
}

// Finish flushes the file table and header. It is idempotent: calling it
// more than once is a no-op after the first successful call.
func (b *Builder) Finish() error {
	if b.finished {
		return nil
	}
	b.finished = true

	if b.includeChecksums {
		if err := b.appendDataIntegrity(); err != nil {
			return err
		}
	}
	fileTableOffset, compressedTableSize, err := b.writeFileTable()
	if err != nil {
		return err
	}

	if _, err := b.obj.Seek(0, io.SeekStart); err != nil {
		return gruf.IOError("seek to header", err)
	}
	return writeHeader(b.obj, b.useGrfMerging, len(b.entries), b.targetGrfName, compressedTableSize, fileTableOffset)
}

func (b *Builder) writeFileTable() (uint64, int, error) {
	var table bytes.Buffer
	paths := make([]string, 0, len(b.entries))
	for path := range b.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		pathBytes, err := winenc.Encode(path)
		if err != nil {
			return 0, 0, err
		}
		if err := writeThorBytes(&table, pathBytes); err != nil {
			return 0, 0, err
		}

		entry := b.entries[path]
		if entry == nil {
			table.WriteByte(removeFileFlag)
			continue
		}
		var fixed [13]byte
		fixed[0] = 0 // flags
		binary.LittleEndian.PutUint32(fixed[1:5], uint32(entry.offset))
		binary.LittleEndian.PutUint32(fixed[5:9], entry.sizeCompressed)
		binary.LittleEndian.PutUint32(fixed[9:13], entry.size)
		table.Write(fixed[:])
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(table.Bytes()); err != nil {
		return 0, 0, gruf.IOError("compress thor table", err)
	}
	if err := zw.Close(); err != nil {
		return 0, 0, gruf.IOError("finish thor table compression", err)
	}

	tableOffset, err := b.obj.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, gruf.IOError("seek", err)
	}
	if _, err := b.obj.Write(compressed.Bytes()); err != nil {
		return 0, 0, gruf.IOError("write thor table", err)
	}
	return uint64(tableOffset), compressed.Len(), nil
}

func (b *Builder) appendDataIntegrity() error {
	content, err := b.generateDataIntegrity()
	if err != nil {
		return err
	}
	return b.AppendFileUpdate(IntegrityFileName, bytes.NewReader(content))
}

func (b *Builder) generateDataIntegrity() ([]byte, error) {
	paths := make([]string, 0, len(b.entries))
	for path, entry := range b.entries {
		if entry != nil {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	var sb bytes.Buffer
	for _, path := range paths {
		sb.WriteString(path)
		sb.WriteString("=0x")
		sb.WriteString(hex8(b.entries[path].checksum))
		sb.WriteString("\r\n")
	}
	return winenc.Encode(sb.String())
}

func hex8(v uint32) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = digits[v&0xF]
		v >>= 4
	}
	return string(out)
}

func writeHeader(w io.Writer, useGrfMerging bool, fileCount int, targetGrfName string, fileTableCompressedSize int, fileTableOffset uint64) error {
	if _, err := w.Write([]byte(HeaderMagic)); err != nil {
		return gruf.IOError("write thor magic", err)
	}
	var flags [7]byte
	if useGrfMerging {
		flags[0] = 1
	}
	// On disk the field is stored as count+1, undone by the reader.
	binary.LittleEndian.PutUint32(flags[1:5], uint32(fileCount)+1)
	binary.LittleEndian.PutUint16(flags[5:7], uint16(ModeMultipleFiles.i16()))
	if _, err := w.Write(flags[:]); err != nil {
		return gruf.IOError("write thor header", err)
	}

	targetGrfNameBytes, err := winenc.Encode(targetGrfName)
	if err != nil {
		return err
	}
	if err := writeThorBytes(w, targetGrfNameBytes); err != nil {
		return err
	}

	var desc [8]byte
	binary.LittleEndian.PutUint32(desc[0:4], uint32(fileTableCompressedSize))
	binary.LittleEndian.PutUint32(desc[4:8], uint32(fileTableOffset))
	if _, err := w.Write(desc[:]); err != nil {
		return gruf.IOError("write thor table descriptor", err)
	}
	return nil
}

// writeThorBytes writes b as THOR's length-prefixed, non-NUL-terminated
// string/slice encoding: a single length byte followed by the raw bytes.
func writeThorBytes(w io.Writer, b []byte) error {
	if len(b) > 0xFF {
		return gruf.EncodingError("thor string too long: %d bytes", len(b))
	}
	if _, err := w.Write([]byte{byte(len(b))}); err != nil {
		return gruf.IOError("write thor string length", err)
	}
	if len(b) == 0 {
		return nil
	}
	if _, err := w.Write(b); err != nil {
		return gruf.IOError("write thor string", err)
	}
	return nil
}
