// Package grf implements a reader and builder for GRF archives, the
// indexed, optionally zlib-compressed container format used to ship a game
// client's data files.
package grf

const (
	// HeaderMagic is the fixed 16-byte signature (15 characters plus a
	// NUL) every GRF archive begins with.
	HeaderMagic = "Master of Magic\x00"
	// HeaderSize is the size in bytes of the fixed GRF header: the magic
	// plus a 14-byte encryption key, a u32 file table offset, an i32
	// seed, an i32 obfuscated file count and a u32 version.
	HeaderSize = len(HeaderMagic) + 0x1E

	tableInfo200Size = 8 // two little-endian u32: compressed size, size
)

// Header is the fixed-size GRF header (HeaderSize bytes on disk).
type Header struct {
	Key             [14]byte
	FileTableOffset uint64
	Seed            int32
	FileCount       int
	VersionMajor    uint32
	VersionMinor    uint32
}

// Encryption describes how an entry's content was obfuscated, relevant only
// to version 1.x archives.
type Encryption struct {
	Encrypted bool
	Cycle     int
}

// FileEntry describes one file stored in a GRF archive.
type FileEntry struct {
	RelativePath        string
	SizeCompressed      int
	SizeCompressedAligned int
	Size                int
	EntryType           uint8
	Offset              uint64
	Encryption          Encryption
}

// specialExtensions lists the v1.x file extensions that are never
// compressed-size-cycle-keyed; they always use cycle 0.
var specialExtensions = map[string]bool{
	".gnd": true,
	".gat": true,
	".act": true,
	".str": true,
}

func determineFileEncryption101(fileName string, sizeCompressed int) Encryption {
	if len(fileName) < 4 {
		return Encryption{Encrypted: true, Cycle: 0}
	}
	if specialExtensions[fileName[len(fileName)-4:]] {
		return Encryption{Encrypted: true, Cycle: 0}
	}
	return Encryption{Encrypted: true, Cycle: digitCount(sizeCompressed)}
}

// digitCount counts the base-10 digits of n, naively (matches the client's
// own overflow-prone digit-counting routine, used to derive the DES cycle).
func digitCount(n int) int {
	result := 1
	acc := 10
	for n >= acc {
		acc *= 10
		result++
	}
	return result
}
