package crc

// CRC16CCITTFalse computes CRC-16/CCITT-FALSE: polynomial 0x1021, initial
// value 0xFFFF, no input or output reflection, no final XOR. Used as the
// CAN transport's transfer CRC.
type CRC16CCITTFalse struct {
	value uint16
}

var crc16Table [256]uint16

func init() {
	const poly = 0x1021
	for i := 0; i < 256; i++ {
		c := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if c&0x8000 != 0 {
				c = (c << 1) ^ poly
			} else {
				c <<= 1
			}
		}
		crc16Table[i] = c
	}
}

// NewCRC16CCITTFalse returns a CRC accumulator initialized to 0xFFFF.
func NewCRC16CCITTFalse() *CRC16CCITTFalse {
	return &CRC16CCITTFalse{value: 0xFFFF}
}

// Add folds p into the running CRC and returns the receiver for chaining.
func (c *CRC16CCITTFalse) Add(p []byte) *CRC16CCITTFalse {
	for _, b := range p {
		c.value = (c.value << 8) ^ crc16Table[byte(c.value>>8)^b]
	}
	return c
}

// Value returns the current 16-bit CRC.
func (c *CRC16CCITTFalse) Value() uint16 { return c.value }

// ValueAsBytes returns the CRC in big-endian wire order, as appended to a
// CAN transfer's final frame.
func (c *CRC16CCITTFalse) ValueAsBytes() [2]byte {
	return [2]byte{byte(c.value >> 8), byte(c.value)}
}

// Size is the CRC width in bytes.
func (c *CRC16CCITTFalse) Size() int { return 2 }

// residueCRC16 is the fixed value Add(message-including-its-own-crc)
// converges to for CRC-16/CCITT-FALSE (0x0000 for this non-reflected,
// non-xorout variant).
const residueCRC16 = 0x0000

// CheckResidue reports whether the accumulator, having absorbed a full
// message plus its trailing CRC, equals the expected residue.
func (c *CRC16CCITTFalse) CheckResidue() bool { return c.value == residueCRC16 }
