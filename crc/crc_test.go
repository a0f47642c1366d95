package crc

import "testing"

func TestCRC16CCITTFalse_KnownVector(t *testing.T) {
	// "123456789" -> 0x29B1 is the standard CRC-16/CCITT-FALSE check value.
	c := NewCRC16CCITTFalse()
	c.Add([]byte("123456789"))
	if got := c.Value(); got != 0x29B1 {
		t.Fatalf("Value() = %#04x, want 0x29b1", got)
	}
}

func TestCRC16CCITTFalse_Residue(t *testing.T) {
	c := NewCRC16CCITTFalse()
	msg := []byte("123456789")
	c.Add(msg)
	b := c.ValueAsBytes()
	c2 := NewCRC16CCITTFalse()
	c2.Add(msg).Add(b[:])
	if !c2.CheckResidue() {
		t.Fatalf("CheckResidue() = false, want true after absorbing message+crc")
	}
}

func TestCRC16CCITTFalse_Incremental(t *testing.T) {
	whole := NewCRC16CCITTFalse()
	whole.Add([]byte("123456789"))

	split := NewCRC16CCITTFalse()
	split.Add([]byte("123")).Add([]byte("456")).Add([]byte("789"))

	if whole.Value() != split.Value() {
		t.Fatalf("incremental Add produced %#04x, want %#04x", split.Value(), whole.Value())
	}
}

func TestCRC32C_KnownVector(t *testing.T) {
	// "123456789" -> 0xE3069283 is the standard CRC-32C/Castagnoli check value.
	c := NewCRC32C()
	c.Add([]byte("123456789"))
	if got := c.Value(); got != 0xE3069283 {
		t.Fatalf("Value() = %#08x, want 0xe3069283", got)
	}
}

func TestCRC32C_Residue(t *testing.T) {
	c := NewCRC32C()
	msg := []byte("123456789")
	c.Add(msg)
	b := c.ValueAsBytes()
	c2 := NewCRC32C()
	c2.Add(msg).Add(b[:])
	if !c2.CheckResidue() {
		t.Fatalf("CheckResidue() = false, want true after absorbing message+crc")
	}
}

func TestCRC32C_Incremental(t *testing.T) {
	whole := NewCRC32C()
	whole.Add([]byte("123456789"))

	split := NewCRC32C()
	split.Add([]byte("12")).Add([]byte("3456")).Add([]byte("789"))

	if whole.Value() != split.Value() {
		t.Fatalf("incremental Add produced %#08x, want %#08x", split.Value(), whole.Value())
	}
}
