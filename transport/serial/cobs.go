package serial

// COBS (Consistent Overhead Byte Stuffing) removes every 0x00 byte from an
// arbitrary payload so 0x00 can be used as an unambiguous frame delimiter on
// the wire. This replaces the original escape-byte framing scheme with a
// single reserved delimiter and a bounded worst-case overhead of one code
// byte plus one more per 254 input bytes (n/254 + 1).

// cobsEncode returns the COBS encoding of src, without a trailing delimiter.
func cobsEncode(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/254+1)
	codeIdx := 0
	out = append(out, 0) // placeholder for the first code byte
	code := byte(1)
	for _, b := range src {
		if b == 0 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code
	return out
}

// cobsDecode reverses cobsEncode. src must not contain the frame delimiter.
// Returns an error if src is malformed (a code byte points past the end of
// the buffer).
func cobsDecode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	i := 0
	for i < len(src) {
		code := int(src[i])
		if code == 0 {
			return nil, errCOBSZeroCode
		}
		i++
		blockLen := code - 1
		if i+blockLen > len(src) {
			return nil, errCOBSTruncated
		}
		out = append(out, src[i:i+blockLen]...)
		i += blockLen
		if code != 0xFF && i < len(src) {
			out = append(out, 0)
		}
	}
	return out, nil
}
