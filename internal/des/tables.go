package des

// Constant tables for the modified-DES scheme used by GRF archives to
// encrypt directory-table entries and (optionally) file payloads. These are
// the standard DES initial/final permutation and P-box tables, and the
// last four standard DES S-boxes (S5-S8); the "modification" relative to
// real DES lives entirely in the round function in cipher.go, which only
// ever consumes bytes 4-7 of the input block and only ever uses these four
// S-tables (real DES uses all eight, keyed by a 48-bit subkey per round).
//
// All tables are 1-indexed in their documented form; ip, fp and tp below
// have already been converted to 0-indexed bit positions.

// ip is the initial permutation applied to the 64-bit input block.
var ip = [64]int{
	57, 49, 41, 33, 25, 17, 9, 1,
	59, 51, 43, 35, 27, 19, 11, 3,
	61, 53, 45, 37, 29, 21, 13, 5,
	63, 55, 47, 39, 31, 23, 15, 7,
	56, 48, 40, 32, 24, 16, 8, 0,
	58, 50, 42, 34, 26, 18, 10, 2,
	60, 52, 44, 36, 28, 20, 12, 4,
	62, 54, 46, 38, 30, 22, 14, 6,
}

// fp is the final permutation (inverse of ip).
var fp = [64]int{
	39, 7, 47, 15, 55, 23, 63, 31,
	38, 6, 46, 14, 54, 22, 62, 30,
	37, 5, 45, 13, 53, 21, 61, 29,
	36, 4, 44, 12, 52, 20, 60, 28,
	35, 3, 43, 11, 51, 19, 59, 27,
	34, 2, 42, 10, 50, 18, 58, 26,
	33, 1, 41, 9, 49, 17, 57, 25,
	32, 0, 40, 8, 48, 16, 56, 24,
}

// tp is the post-substitution permutation (standard DES P-box), scattering
// the 32 bits produced by the four S-table lookups before they are XORed
// into bytes 0-3 of the block.
var tp = [32]int{
	15, 6, 19, 20,
	28, 11, 27, 16,
	0, 14, 22, 25,
	4, 17, 30, 9,
	1, 7, 23, 13,
	31, 26, 2, 8,
	18, 12, 29, 5,
	21, 10, 3, 24,
}

// sTables holds the four 64-entry substitution tables (standard DES
// S5-S8), each mapping a 6-bit index to a 4-bit nibble.
var sTables = [4][64]byte{
	{ // S5
		2, 12, 4, 1, 7, 10, 11, 6, 8, 5, 3, 15, 13, 0, 14, 9,
		14, 11, 2, 12, 4, 7, 13, 1, 5, 0, 15, 10, 3, 9, 8, 6,
		4, 2, 1, 11, 10, 13, 7, 8, 15, 9, 12, 5, 6, 3, 0, 14,
		11, 8, 12, 7, 1, 14, 2, 13, 6, 15, 0, 9, 10, 4, 5, 3,
	},
	{ // S6
		12, 1, 10, 15, 9, 2, 6, 8, 0, 13, 3, 4, 14, 7, 5, 11,
		10, 15, 4, 2, 7, 12, 9, 5, 6, 1, 13, 14, 0, 11, 3, 8,
		9, 14, 15, 5, 2, 8, 12, 3, 7, 0, 4, 10, 1, 13, 11, 6,
		4, 3, 2, 12, 9, 5, 15, 10, 11, 14, 1, 7, 6, 0, 8, 13,
	},
	{ // S7
		4, 11, 2, 14, 15, 0, 8, 13, 3, 12, 9, 7, 5, 10, 6, 1,
		13, 0, 11, 7, 4, 9, 1, 10, 14, 3, 5, 12, 2, 15, 8, 6,
		1, 4, 11, 13, 12, 3, 7, 14, 10, 15, 6, 8, 0, 5, 9, 2,
		6, 11, 13, 8, 1, 4, 10, 7, 9, 5, 0, 15, 14, 2, 3, 12,
	},
	{ // S8
		13, 2, 8, 4, 6, 15, 11, 1, 10, 9, 3, 14, 5, 0, 12, 7,
		1, 15, 13, 8, 10, 3, 7, 4, 12, 5, 6, 11, 0, 14, 9, 2,
		7, 11, 4, 1, 9, 12, 14, 2, 0, 6, 10, 13, 15, 3, 5, 8,
		2, 1, 14, 7, 4, 10, 8, 13, 15, 12, 9, 0, 3, 5, 6, 11,
	},
}

// shuffleMap is the byte-index shuffle applied to a block every 8th
// untouched block while decrypting a mixed-scheme, non-data-crypted
// payload: output[i] = input[shuffleMap[i]].
var shuffleMap = [8]int{3, 4, 6, 0, 1, 2, 5, 7}

// involutionPairs lists the byte-value swap pairs applied to byte 7 of a
// shuffled block. Each pair is its own inverse.
var involutionPairs = [][2]byte{
	{0x00, 0x2b},
	{0x01, 0x68},
	{0x48, 0x77},
	{0x60, 0xff},
	{0x6c, 0x80},
	{0xb9, 0xc0},
	{0xeb, 0xfe},
}

func involute(b byte) byte {
	for _, p := range involutionPairs {
		if b == p[0] {
			return p[1]
		}
		if b == p[1] {
			return p[0]
		}
	}
	return b
}
