package refragment

import (
	"bytes"
	"testing"
)

func TestRefragment_AlignedInputs(t *testing.T) {
	in := [][]byte{[]byte("01234"), []byte("56789")}
	out, err := Collect(in, 5)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := [][]byte{[]byte("01234"), []byte("56789")}
	for i := range want {
		if !bytes.Equal(out[i], want[i]) {
			t.Fatalf("chunk %d = %q, want %q", i, out[i], want[i])
		}
	}
}

func TestRefragment_UnalignedInputs(t *testing.T) {
	in := [][]byte{[]byte("abc"), []byte("defgh"), []byte("ij")}
	out, err := Collect(in, 4)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var joined []byte
	for _, c := range out {
		joined = append(joined, c...)
	}
	if string(joined) != "abcdefghij" {
		t.Fatalf("joined = %q, want abcdefghij", joined)
	}
	for i, c := range out[:len(out)-1] {
		if len(c) != 4 {
			t.Fatalf("chunk %d has len %d, want 4", i, len(c))
		}
	}
	if n := len(out[len(out)-1]); n == 0 || n > 4 {
		t.Fatalf("final chunk has len %d, want 1..4", n)
	}
}

func TestRefragment_EmptyInput(t *testing.T) {
	out, err := Collect(nil, 8)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no chunks, got %d", len(out))
	}
}

func TestRefragment_SingleLargeFragmentZeroCopy(t *testing.T) {
	big := bytes.Repeat([]byte{0xAB}, 24)
	var chunks [][]byte
	err := Refragment([][]byte{big}, 8, func(c []byte) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Refragment: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	// Zero-copy: each chunk must alias the original backing array.
	if &chunks[0][0] != &big[0] {
		t.Fatalf("expected zero-copy slice into original fragment")
	}
}

func TestRefragment_StopsOnEmitError(t *testing.T) {
	in := [][]byte{[]byte("0123456789")}
	called := 0
	errStop := errStopTest{}
	err := Refragment(in, 4, func([]byte) error {
		called++
		if called == 2 {
			return errStop
		}
		return nil
	})
	if err != errStop {
		t.Fatalf("err = %v, want errStop", err)
	}
	if called != 2 {
		t.Fatalf("emit called %d times, want 2", called)
	}
}

type errStopTest struct{}

func (errStopTest) Error() string { return "stop" }
