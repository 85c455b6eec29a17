package legacyname

// Single-round DES primitive used by the GRF filename/content obfuscation
// scheme. Taken from the bit-sliced DES implementation in RustCrypto/des and
// reduced to the single round the client actually uses; this is not a
// general-purpose DES implementation and must not be used for anything the
// client itself doesn't do.

var shifts = [16]uint{1, 1, 2, 2, 2, 2, 2, 2, 1, 2, 2, 2, 2, 2, 2, 1}

// These boxes are not the same ones that appear in the literature. Normally,
// the first and the last bits of the six input bits are used to choose the
// row and the middle four bits are used to choose the column. These sboxes
// are rearranged so that the bottom four bits choose the column and the top
// two bits choose the row. In other words, we can directly index the sbox
// array with the 6 input bits to get the correct value.
var sboxes = [8][64]uint8{
	{
		14, 0, 4, 15, 13, 7, 1, 4, 2, 14, 15, 2, 11, 13, 8, 1,
		3, 10, 10, 6, 6, 12, 12, 11, 5, 9, 9, 5, 0, 3, 7, 8,
		4, 15, 1, 12, 14, 8, 8, 2, 13, 4, 6, 9, 2, 1, 11, 7,
		15, 5, 12, 11, 9, 3, 7, 14, 3, 10, 10, 0, 5, 6, 0, 13,
	},
	{
		15, 3, 1, 13, 8, 4, 14, 7, 6, 15, 11, 2, 3, 8, 4, 14,
		9, 12, 7, 0, 2, 1, 13, 10, 12, 6, 0, 9, 5, 11, 10, 5,
		0, 13, 14, 8, 7, 10, 11, 1, 10, 3, 4, 15, 13, 4, 1, 2,
		5, 11, 8, 6, 12, 7, 6, 12, 9, 0, 3, 5, 2, 14, 15, 9,
	},
	{
		10, 13, 0, 7, 9, 0, 14, 9, 6, 3, 3, 4, 15, 6, 5, 10,
		1, 2, 13, 8, 12, 5, 7, 14, 11, 12, 4, 11, 2, 15, 8, 1,
		13, 1, 6, 10, 4, 13, 9, 0, 8, 6, 15, 9, 3, 8, 0, 7,
		11, 4, 1, 15, 2, 14, 12, 3, 5, 11, 10, 5, 14, 2, 7, 12,
	},
	{
		7, 13, 13, 8, 14, 11, 3, 5, 0, 6, 6, 15, 9, 0, 10, 3,
		1, 4, 2, 7, 8, 2, 5, 12, 11, 1, 12, 10, 4, 14, 15, 9,
		10, 3, 6, 15, 9, 0, 0, 6, 12, 10, 11, 1, 7, 13, 13, 8,
		15, 9, 1, 4, 3, 5, 14, 11, 5, 12, 2, 7, 8, 2, 4, 14,
	},
	{
		2, 14, 12, 11, 4, 2, 1, 12, 7, 4, 10, 7, 11, 13, 6, 1,
		8, 5, 5, 0, 3, 15, 15, 10, 13, 3, 0, 9, 14, 8, 9, 6,
		4, 11, 2, 8, 1, 12, 11, 7, 10, 1, 13, 14, 7, 2, 8, 13,
		15, 6, 9, 15, 12, 0, 5, 9, 6, 10, 3, 4, 0, 5, 14, 3,
	},
	{
		12, 10, 1, 15, 10, 4, 15, 2, 9, 7, 2, 12, 6, 9, 8, 5,
		0, 6, 13, 1, 3, 13, 4, 14, 14, 0, 7, 11, 5, 3, 11, 8,
		9, 4, 14, 3, 15, 2, 5, 12, 2, 9, 8, 5, 12, 15, 3, 10,
		7, 11, 0, 14, 4, 1, 10, 7, 1, 6, 13, 0, 11, 8, 6, 13,
	},
	{
		4, 13, 11, 0, 2, 11, 14, 7, 15, 4, 0, 9, 8, 1, 13, 10,
		3, 14, 12, 3, 9, 5, 7, 12, 5, 2, 10, 15, 6, 8, 1, 6,
		1, 6, 4, 11, 11, 13, 13, 8, 12, 1, 3, 4, 7, 10, 14, 7,
		10, 9, 15, 5, 6, 0, 8, 15, 0, 14, 5, 2, 9, 3, 2, 12,
	},
	{
		13, 1, 2, 15, 8, 13, 4, 8, 6, 10, 15, 3, 11, 7, 1, 4,
		10, 12, 9, 5, 3, 6, 14, 11, 5, 0, 0, 14, 12, 9, 7, 2,
		7, 2, 11, 1, 4, 14, 1, 7, 9, 4, 12, 10, 14, 8, 2, 13,
		0, 15, 6, 12, 10, 9, 13, 0, 15, 3, 3, 5, 5, 6, 8, 11,
	},
}

// des holds the 16 round subkeys derived by genKeys; only keys[15] is ever
// used, by the single-round decrypt helper below.
type des struct {
	keys [16]uint64
}

func deltaSwap(a, delta, mask uint64) uint64 {
	b := (a ^ (a >> delta)) & mask
	return a ^ b ^ (b << delta)
}

func pc1(key uint64) uint64 {
	key = deltaSwap(key, 2, 0x3333000033330000)
	key = deltaSwap(key, 4, 0x0f0f0f0f00000000)
	key = deltaSwap(key, 8, 0x009a000a00a200a8)
	key = deltaSwap(key, 16, 0x00006c6c0000cccc)
	key = deltaSwap(key, 1, 0x1045500500550550)
	key = deltaSwap(key, 32, 0x00000000f0f0f5fa)
	key = deltaSwap(key, 8, 0x00550055006a00aa)
	key = deltaSwap(key, 2, 0x0000333330000300)
	return key & 0xFFFFFFFFFFFFFF00
}

func rotl64(x uint64, n uint) uint64 {
	n &= 63
	return (x << n) | (x >> (64 - n))
}

func pc2(key uint64) uint64 {
	key = rotl64(key, 61)
	b1 := (key & 0x0021000002000000) >> 7
	b2 := (key & 0x0008020010080000) << 1
	b3 := key & 0x0002200000000000
	b4 := (key & 0x0000000000100020) << 19
	b5 := (rotl64(key, 54) & 0x0005312400000011) * 0x0000000094200201 & 0xea40100880000000
	b6 := (rotl64(key, 7) & 0x0022110000012001) * 0x0001000000610006 & 0x1185004400000000
	b7 := (rotl64(key, 6) & 0x0000520040200002) * 0x00000080000000c1 & 0x0028811000200000
	b8 := (key & 0x01000004c0011100) * 0x0000000000004284 & 0x0400082244400000
	b9 := (rotl64(key, 60) & 0x0000000000820280) * 0x0000000000089001 & 0x0000000110880000
	b10 := (rotl64(key, 49) & 0x0000000000024084) * 0x0000000002040005 & 0x000000000a030000
	return b1 | b2 | b3 | b4 | b5 | b6 | b7 | b8 | b9 | b10
}

func fp(message uint64) uint64 {
	message = deltaSwap(message, 24, 0x000000FF000000FF)
	message = deltaSwap(message, 24, 0x00000000FF00FF00)
	message = deltaSwap(message, 36, 0x000000000F0F0F0F)
	message = deltaSwap(message, 18, 0x0000333300003333)
	return deltaSwap(message, 9, 0x0055005500550055)
}

func ip(message uint64) uint64 {
	message = deltaSwap(message, 9, 0x0055005500550055)
	message = deltaSwap(message, 18, 0x0000333300003333)
	message = deltaSwap(message, 36, 0x000000000F0F0F0F)
	message = deltaSwap(message, 24, 0x00000000FF00FF00)
	return deltaSwap(message, 24, 0x000000FF000000FF)
}

func expansion(block uint64) uint64 {
	const blockLen = 32
	const resultLen = 48
	b1 := (block << (blockLen - 1)) & 0x8000000000000000
	b2 := (block >> 1) & 0x7C00000000000000
	b3 := (block >> 3) & 0x03F0000000000000
	b4 := (block >> 5) & 0x000FC00000000000
	b5 := (block >> 7) & 0x00003F0000000000
	b6 := (block >> 9) & 0x000000FC00000000
	b7 := (block >> 11) & 0x00000003F0000000
	b8 := (block >> 13) & 0x000000000FC00000
	b9 := (block >> 15) & 0x00000000003E0000
	b10 := (block >> (resultLen - 1)) & 0x0000000000010000
	return b1 | b2 | b3 | b4 | b5 | b6 | b7 | b8 | b9 | b10
}

func permutation(block uint64) uint64 {
	block = rotl64(block, 44)
	b1 := (block & 0x0000000000200000) << 32
	b2 := (block & 0x0000000000480000) << 13
	b3 := (block & 0x0000088000000000) << 12
	b4 := (block & 0x0000002020120000) << 25
	b5 := (block & 0x0000000442000000) << 14
	b6 := (block & 0x0000000001800000) << 37
	b7 := (block & 0x0000000004000000) << 24
	b8 := (block & 0x0000020280015000) * 0x0000020080800083 & 0x02000a6400000000
	b9 := (rotl64(block, 29) & 0x01001400000000aa) * 0x0000210210008081 & 0x0902c01200000000
	b10 := (block & 0x0000000910040000) * 0x0000000c04000020 & 0x8410010000000000
	return b1 | b2 | b3 | b4 | b5 | b6 | b7 | b8 | b9 | b10
}

func rotate28(val uint64, shift uint) uint64 {
	topBits := val >> (28 - shift)
	val <<= shift
	return (val | topBits) & 0x0FFFFFFF
}

// genKeys derives the 16 round subkeys from a 64-bit key (with parity bits).
func genKeys(key uint64) [16]uint64 {
	var keys [16]uint64
	k := pc1(key)
	// The most significant bit is bit zero, and there are only 56 bits in
	// the key after applying PC1, so we need to remove the eight least
	// significant bits from the key.
	k >>= 8

	c := k >> 28
	d := k & 0x0FFFFFFF
	for i := 0; i < 16; i++ {
		c = rotate28(c, shifts[i])
		d = rotate28(d, shifts[i])
		// We need the `<< 8` because the most significant bit is bit
		// zero, so we need to shift our 56 bit value 8 bits to the left.
		keys[i] = pc2(((c << 28) | d) << 8)
	}
	return keys
}

func applySboxes(input uint64) uint64 {
	var output uint64
	for i, sbox := range sboxes {
		val := (input >> (58 - uint(i)*6)) & 0x3F
		output |= uint64(sbox[val]) << (60 - uint(i)*4)
	}
	return output
}

func feistel(input, key uint64) uint64 {
	val := expansion(input)
	val ^= key
	val = applySboxes(val)
	return permutation(val)
}

func round(input, key uint64) uint64 {
	l := input & (0xFFFFFFFF << 32)
	r := input << 32
	return r | ((feistel(r, key) ^ l) >> 32)
}

// decryptBlock1Round performs the single-round decrypt the client uses,
// keyed with keys[15] (the last round subkey).
func (d des) decryptBlock1Round(data uint64) uint64 {
	data = ip(data)
	data = round(data, d.keys[15])
	return fp((data << 32) | (data >> 32))
}
