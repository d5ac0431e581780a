package packet

import (
	"bytes"
	"testing"
)

func TestStringBig5RoundTrip(t *testing.T) {
	cases := []string{
		"",
		"hello",
		"楓之谷",
		"交易: 短劍 x1",
	}
	for _, s := range cases {
		w := NewWriter()
		w.WriteS(s)
		r := NewReader(w.Bytes())
		if got := r.ReadS(); got != s {
			t.Fatalf("round trip %q: got %q", s, got)
		}
		if r.Remaining() != 0 {
			t.Fatalf("round trip %q left %d unread bytes", s, r.Remaining())
		}
	}
}

func TestStringWireLengthCountsEncodedBytes(t *testing.T) {
	// A CJK character is 2 bytes in Big5, not the 3 of its UTF-8 form.
	w := NewWriter()
	w.WriteS("谷")
	got := w.Bytes()
	if len(got) != 4 {
		t.Fatalf("wire size %d, want 4 (2B length + 2B Big5)", len(got))
	}
	if !bytes.Equal(got[:2], []byte{0x02, 0x00}) {
		t.Fatalf("length prefix % X, want 02 00", got[:2])
	}
	if got[2] < 0x80 {
		t.Fatal("Big5 lead byte missing its high bit")
	}
}

func TestReaderPastEndReturnsZero(t *testing.T) {
	w := NewWriter()
	w.WriteC(7)
	r := NewReader(w.Bytes())
	if r.ReadC() != 7 {
		t.Fatal("first byte lost")
	}
	if r.ReadC() != 0 || r.ReadH() != 0 || r.ReadD() != 0 || r.ReadQ() != 0 || r.ReadS() != "" {
		t.Fatal("reads past the end must yield zero values")
	}
}

func TestNumericLittleEndian(t *testing.T) {
	w := NewWriterWithType(0xC8)
	w.WriteC(0x0A)
	w.WriteD(-1)
	w.WriteQ(0x0102030405060708)

	r := NewReader(w.Bytes())
	if r.ReadH() != 0xC8 {
		t.Fatal("type word mismatch")
	}
	if r.ReadC() != 0x0A {
		t.Fatal("byte mismatch")
	}
	if r.ReadD() != -1 {
		t.Fatal("signed int32 mismatch")
	}
	if r.ReadQ() != 0x0102030405060708 {
		t.Fatal("int64 mismatch")
	}
}
