package serial

import (
	"encoding/binary"

	roottransport "github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/crc"
)

// headerSize is the fixed, little-endian serial frame header: a 32-byte
// struct layout trimmed of a data-type-hash field (dropped from the data
// model upstream of this transport) and carrying a header CRC-32C of its
// own instead of relying on the frame-wide trailer to protect routing
// fields:
//
//	0      version            (1 byte, always 0)
//	1      priority           (1 byte, 0..7)
//	2:4    source node-id     (uint16 LE; 0xFFFF = anonymous)
//	4:6    destination node-id (uint16 LE; 0xFFFF = broadcast/none)
//	6:8    data-specifier     (uint16 LE; bit15 = service, bit14 = request, bits13:0 = id)
//	8:16   reserved           (8 bytes, always 0)
//	16:24  transfer-id        (uint64 LE)
//	24:28  frame index + EOT  (uint32 LE; bit31 = end-of-transfer)
//	28:32  header CRC-32C     (uint32 LE, over bytes 0:28)
const headerSize = 32

const anonymousNodeID = 0xFFFF

const (
	dataSpecServiceBit = 1 << 15
	dataSpecRequestBit = 1 << 14
	dataSpecIDMask      = 1<<14 - 1
)

const frameIndexEOTBit = 1 << 31

// Frame is one on-wire serial transfer fragment, fully decoded.
type Frame struct {
	Priority          roottransport.Priority
	SourceNodeID      *uint16
	DestinationNodeID *uint16
	DataSpecifier     roottransport.DataSpecifier
	TransferID        uint64
	Index             uint32
	EndOfTransfer     bool
	Payload           []byte
}

func encodeDataSpecifier(ds roottransport.DataSpecifier) uint16 {
	v := ds.ID & dataSpecIDMask
	if ds.IsService {
		v |= dataSpecServiceBit
		if ds.IsRequest {
			v |= dataSpecRequestBit
		}
	}
	return v
}

func decodeDataSpecifier(v uint16) roottransport.DataSpecifier {
	if v&dataSpecServiceBit != 0 {
		return roottransport.DataSpecifier{IsService: true, IsRequest: v&dataSpecRequestBit != 0, ID: v & dataSpecIDMask}
	}
	return roottransport.DataSpecifier{ID: v & dataSpecIDMask}
}

// compileHeader writes the 32-byte header (including its own trailing CRC)
// into a freshly allocated slice.
func (f Frame) compileHeader() []byte {
	h := make([]byte, headerSize)
	h[0] = 0
	h[1] = byte(f.Priority)
	binary.LittleEndian.PutUint16(h[2:4], nodeIDOrAnonymous(f.SourceNodeID))
	binary.LittleEndian.PutUint16(h[4:6], nodeIDOrAnonymous(f.DestinationNodeID))
	binary.LittleEndian.PutUint16(h[6:8], encodeDataSpecifier(f.DataSpecifier))
	// h[8:16] reserved, left zero.
	binary.LittleEndian.PutUint64(h[16:24], f.TransferID)
	idx := f.Index
	if f.EndOfTransfer {
		idx |= frameIndexEOTBit
	}
	binary.LittleEndian.PutUint32(h[24:28], idx)
	c := crc.NewCRC32C()
	c.Add(h[:28])
	trailer := c.ValueAsBytes()
	copy(h[28:32], trailer[:])
	return h
}

func nodeIDOrAnonymous(id *uint16) uint16 {
	if id == nil {
		return anonymousNodeID
	}
	return *id
}

func nodeIDOrNil(v uint16) *uint16 {
	if v == anonymousNodeID {
		return nil
	}
	cp := v
	return &cp
}

// Compile renders f onto the wire as a COBS-encoded, 0x00-delimited frame:
// header || payload || CRC-32C(header||payload), all COBS-encoded, preceded
// and followed by the 0x00 delimiter.
func (f Frame) Compile() []byte {
	header := f.compileHeader()
	c := crc.NewCRC32C()
	c.Add(header)
	c.Add(f.Payload)
	trailer := c.ValueAsBytes()

	plain := make([]byte, 0, len(header)+len(f.Payload)+len(trailer))
	plain = append(plain, header...)
	plain = append(plain, f.Payload...)
	plain = append(plain, trailer[:]...)

	encoded := cobsEncode(plain)
	out := make([]byte, 0, len(encoded)+2)
	out = append(out, frameDelimiter)
	out = append(out, encoded...)
	out = append(out, frameDelimiter)
	return out
}

// ParseFrame decodes a COBS-encoded frame body (delimiters already stripped
// by the stream parser) back into a Frame, validating both the header's own
// CRC-32C and the frame-wide trailing CRC-32C.
func ParseFrame(cobsBody []byte) (Frame, error) {
	plain, err := cobsDecode(cobsBody)
	if err != nil {
		return Frame{}, err
	}
	if len(plain) < headerSize+4 {
		return Frame{}, errFrameTooShort
	}
	header := plain[:headerSize]
	hc := crc.NewCRC32C()
	hc.Add(header[:28])
	if !bytesEqual(hc.ValueAsBytes(), [4]byte(header[28:32])) {
		return Frame{}, errHeaderCRC
	}

	rest := plain[headerSize:]
	payload := rest[:len(rest)-4]
	fc := crc.NewCRC32C()
	fc.Add(header)
	fc.Add(payload)
	if !bytesEqual(fc.ValueAsBytes(), [4]byte(rest[len(rest)-4:])) {
		return Frame{}, errPayloadCRC
	}

	idx := binary.LittleEndian.Uint32(header[24:28])
	f := Frame{
		Priority:          roottransport.Priority(header[1]),
		SourceNodeID:      nodeIDOrNil(binary.LittleEndian.Uint16(header[2:4])),
		DestinationNodeID: nodeIDOrNil(binary.LittleEndian.Uint16(header[4:6])),
		DataSpecifier:     decodeDataSpecifier(binary.LittleEndian.Uint16(header[6:8])),
		TransferID:        binary.LittleEndian.Uint64(header[16:24]),
		Index:             idx &^ frameIndexEOTBit,
		EndOfTransfer:     idx&frameIndexEOTBit != 0,
		Payload:           append([]byte(nil), payload...),
	}
	return f, nil
}

func bytesEqual(a, b [4]byte) bool { return a == b }
