package serial

import (
	"time"

	roottransport "github.com/opencyphal-go/transport"
)

// maxFrameSizeBytes bounds how large a single delimited block may grow
// before it is discarded as out-of-band noise, shielding the parser from
// unbounded memory growth when fed an arbitrary byte stream (e.g. a shared
// console port).
const maxFrameSizeBytes = 1 << 16

// monotonicEpoch anchors the Monotonic field of block timestamps.
var monotonicEpoch = time.Now()

// ParsedBlock is delivered once per 0x00-delimited block the stream parser
// extracts. Frame is nil when the block failed to parse (garbage, truncated,
// bad CRC, oversized) — callers that want to treat the serial port as a
// shared text console can still consume Raw.
type ParsedBlock struct {
	Timestamp roottransport.Timestamp
	Raw       []byte
	Frame     *Frame
}

// StreamParser reassembles an unbounded byte stream into delimited frame
// candidates, calling back once per block. The first byte of each candidate
// block stamps its Timestamp, following an earliest-byte-wins timestamping
// rule.
type StreamParser struct {
	callback func(ParsedBlock)
	buf      []byte
	started  bool
	ts       roottransport.Timestamp
}

// NewStreamParser constructs a parser that invokes callback for every
// delimited block (valid or not).
func NewStreamParser(callback func(ParsedBlock)) *StreamParser {
	return &StreamParser{callback: callback}
}

// Feed processes one chunk of freshly-read bytes, stamping any newly
// started block with now.
func (p *StreamParser) Feed(chunk []byte, now time.Time) {
	for _, b := range chunk {
		p.buf = append(p.buf, b)
		if b == frameDelimiter {
			p.finalize()
			continue
		}
		if !p.started {
			p.ts = roottransport.Timestamp{System: now, Monotonic: now.Sub(monotonicEpoch)}
			p.started = true
		}
	}
	if len(p.buf) > maxFrameSizeBytes {
		p.finalize()
	}
}

func (p *StreamParser) finalize() {
	if len(p.buf) == 0 || (len(p.buf) == 1 && p.buf[0] == frameDelimiter) {
		p.buf = p.buf[:0]
		return
	}
	raw := p.buf
	p.buf = nil
	ts := p.ts
	p.started = false
	p.ts = roottransport.Timestamp{}

	body := raw
	if len(body) > 0 && body[len(body)-1] == frameDelimiter {
		body = body[:len(body)-1]
	}
	if len(body) > 0 && body[0] == frameDelimiter {
		body = body[1:]
	}

	var fr *Frame
	if len(raw) <= maxFrameSizeBytes {
		if parsed, err := ParseFrame(body); err == nil {
			fr = &parsed
		}
	}
	p.callback(ParsedBlock{Timestamp: ts, Raw: raw, Frame: fr})
}
