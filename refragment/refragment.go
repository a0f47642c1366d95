// Package refragment rechunks a sequence of variable-sized byte fragments
// into fixed-size output chunks, used by transport/hot's serializer to turn
// an arbitrary payload (itself a slice of DSDL-serialized fragments) into
// frame-sized pieces without copying more than necessary.
package refragment

// Refragment consumes fragments in order and invokes emit once per
// chunkSize-sized output chunk, followed by one final shorter chunk for any
// remaining tail bytes (emit is never called with an empty slice unless
// fragments contained no bytes at all, in which case it is not called).
//
// It is zero-copy whenever an input fragment is itself chunkSize bytes (or a
// multiple of it) and no carry is pending: such fragments, or slices of
// them, are passed to emit directly rather than being copied into a carry
// buffer first.
func Refragment(fragments [][]byte, chunkSize int, emit func([]byte) error) error {
	if chunkSize <= 0 {
		panic("refragment: chunkSize must be positive")
	}
	var carry []byte
	for _, frag := range fragments {
		if len(carry) == 0 {
			i := 0
			for ; i+chunkSize <= len(frag); i += chunkSize {
				if err := emit(frag[i : i+chunkSize]); err != nil {
					return err
				}
			}
			if i < len(frag) {
				carry = append(carry, frag[i:]...)
			}
			continue
		}
		carry = append(carry, frag...)
		for len(carry) >= chunkSize {
			if err := emit(carry[:chunkSize]); err != nil {
				return err
			}
			carry = carry[chunkSize:]
		}
	}
	if len(carry) > 0 {
		if err := emit(carry); err != nil {
			return err
		}
	}
	return nil
}

// Collect is a convenience wrapper around Refragment that returns the
// output chunks as a slice instead of streaming them through a callback.
func Collect(fragments [][]byte, chunkSize int) ([][]byte, error) {
	var out [][]byte
	err := Refragment(fragments, chunkSize, func(chunk []byte) error {
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		out = append(out, cp)
		return nil
	})
	return out, err
}
