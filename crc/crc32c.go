package crc

import "hash/crc32"

// castagnoliTable is shared across all CRC32C instances; hash/crc32 caches
// hardware-accelerated tables for this exact polynomial on amd64/arm64.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes CRC-32C/Castagnoli: polynomial 0x1EDC6F41, reflected
// input/output, initial value and final XOR both 0xFFFFFFFF. Used as the
// serial and high-overhead-transport transfer CRC.
type CRC32C struct {
	value uint32
}

// NewCRC32C returns a CRC accumulator in its initial state.
func NewCRC32C() *CRC32C { return &CRC32C{} }

// Add folds p into the running CRC and returns the receiver for chaining.
func (c *CRC32C) Add(p []byte) *CRC32C {
	c.value = crc32.Update(c.value, castagnoliTable, p)
	return c
}

// Value returns the current 32-bit CRC (init/xorout already applied by
// crc32.Update's use of the stdlib's IEEE-style CRC convention).
func (c *CRC32C) Value() uint32 { return c.value }

// ValueAsBytes returns the CRC in little-endian wire order, as appended to a
// serial transfer's payload before framing.
func (c *CRC32C) ValueAsBytes() [4]byte {
	v := c.value
	return [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// Size32 is the CRC-32C width in bytes.
const Size32 = 4

// residueCRC32C is the fixed value Add(message-including-its-own-crc)
// converges to for CRC-32C (0x48674BC7 for this reflected, xorout=0xFFFFFFFF
// variant, per the Rocksoft CRC catalogue).
const residueCRC32C = 0x48674BC7

// CheckResidue reports whether the accumulator, having absorbed a full
// message plus its trailing little-endian CRC, equals the expected residue.
func (c *CRC32C) CheckResidue() bool { return c.value == residueCRC32C }
