package hot

import (
	"github.com/opencyphal-go/transport/crc"
	"github.com/opencyphal-go/transport/refragment"
)

// Serialize splits a transfer's payload fragments into maxPayloadPerFrame-
// sized frame payloads. A multi-frame transfer (more than one resulting
// frame) gets a CRC-32C of the whole payload appended before chunking, so
// the final frame carries the tail of the CRC; a transfer that fits into a
// single frame is emitted byte-for-byte with no CRC, matching the
// reassembler's finalize/DropCRC asymmetry.
func Serialize(fragments [][]byte, maxPayloadPerFrame int) ([][]byte, error) {
	total := 0
	for _, f := range fragments {
		total += len(f)
	}
	if total <= maxPayloadPerFrame {
		if total == 0 {
			return [][]byte{{}}, nil
		}
		return refragment.Collect(fragments, maxPayloadPerFrame)
	}

	c := crc.NewCRC32C()
	for _, f := range fragments {
		c.Add(f)
	}
	trailer := c.ValueAsBytes()
	withCRC := make([][]byte, 0, len(fragments)+1)
	withCRC = append(withCRC, fragments...)
	withCRC = append(withCRC, trailer[:])
	return refragment.Collect(withCRC, maxPayloadPerFrame)
}
