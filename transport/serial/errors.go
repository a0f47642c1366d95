package serial

import "errors"

// frameDelimiter is the single reserved byte value COBS encoding guarantees
// never appears inside an encoded frame body.
const frameDelimiter = 0x00

var (
	errCOBSZeroCode  = errors.New("serial: invalid cobs code byte 0x00")
	errCOBSTruncated = errors.New("serial: cobs frame truncated")
	errFrameTooShort = errors.New("serial: frame shorter than header")
	errHeaderCRC     = errors.New("serial: header crc mismatch")
	errPayloadCRC    = errors.New("serial: payload crc mismatch")
)
