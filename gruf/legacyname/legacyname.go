// Package legacyname implements the legacy filename/content de-scrambler
// used by GRF archives below version 2.0. It is a single-round,
// fixed-all-zero-key DES variant combined with a nibble swap and, for
// content decryption past the first 20 blocks, a periodic byte-shuffle.
package legacyname

import (
	"encoding/binary"
)

const blockSize = 8 // DES block size in bytes

// permuteTable lists the handful of byte values the client additionally
// permutes in the 8th byte of a shuffled block; every other value passes
// through unchanged.
var permuteTable = map[byte]byte{
	0x00: 0x2B,
	0x01: 0x68,
	0x2B: 0x00,
	0x48: 0x77,
	0x60: 0xFF,
	0x68: 0x01,
	0x6C: 0x80,
	0x77: 0x48,
	0x80: 0x6C,
	0xB9: 0xC0,
	0xC0: 0xB9,
	0xEB: 0xFE,
	0xFE: 0xEB,
	0xFF: 0x60,
}

func permuteByte(b byte) byte {
	if p, ok := permuteTable[b]; ok {
		return p
	}
	return b
}

func swapNibbles(buf []byte) {
	for i, b := range buf {
		buf[i] = (b << 4) | (b >> 4)
	}
}

func removeZeroPadding(buf []byte) []byte {
	i := len(buf)
	for i > 0 && buf[i-1] == 0 {
		i--
	}
	return buf[:i]
}

// DecryptFileName reverses the obfuscation GRF 1.x archives apply to file
// names stored in the file table.
func DecryptFileName(fileName []byte) []byte {
	buf := append([]byte(nil), fileName...)
	swapNibbles(buf)
	decryptFirstBlocks(0, buf)
	return removeZeroPadding(buf)
}

// DecryptFileContent reverses the per-file content obfuscation GRF 1.x
// archives apply, keyed by the "cycle" derived from the compressed size.
func DecryptFileContent(data []byte, cycle int) {
	if cycle == 0 {
		decryptFirstBlocks(0, data)
	} else {
		decryptShuffled(0, cycle, data)
	}
}

func decryptFirstBlocks(key uint64, buf []byte) {
	cipher := des{keys: genKeys(key)}
	blocks := len(buf) / blockSize
	if blocks > 20 {
		blocks = 20
	}
	for i := 0; i < blocks; i++ {
		block := buf[i*blockSize : (i+1)*blockSize]
		decrypted := cipher.decryptBlock1Round(binary.BigEndian.Uint64(block))
		binary.BigEndian.PutUint64(block, decrypted)
	}
}

func decryptShuffled(key uint64, cycle int, buf []byte) {
	cipher := des{keys: genKeys(key)}
	updatedCycle := updateCycle(cycle)
	blocks := len(buf) / blockSize
	j := 0
	for i := 0; i < blocks; i++ {
		block := buf[i*blockSize : (i+1)*blockSize]
		if i < 20 || (i%updatedCycle) == 0 {
			decrypted := cipher.decryptBlock1Round(binary.BigEndian.Uint64(block))
			binary.BigEndian.PutUint64(block, decrypted)
			continue
		}
		if j == 7 {
			j = 0
			var orig [blockSize]byte
			copy(orig[:], block)
			// 3450162 (initial layout) to 0123456 (final layout)
			copy(block[0:2], orig[3:5])
			block[2] = orig[6]
			copy(block[3:6], orig[0:3])
			block[6] = orig[5]
			block[7] = permuteByte(orig[7])
		}
		j++
	}
}

func updateCycle(cycle int) int {
	switch {
	case cycle < 3:
		return 3
	case cycle < 5:
		return cycle + 1
	case cycle < 7:
		return cycle + 9
	default:
		return cycle + 15
	}
}
