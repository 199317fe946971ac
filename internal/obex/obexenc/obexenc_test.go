package obexenc

import (
	"errors"
	"testing"
)

func TestReaderConnectFields(t *testing.T) {
	// CONNECT, length 7, version 1.0, flags 0, MTU 0x2000
	r := NewReader([]byte{0x80, 0x00, 0x07, 0x10, 0x00, 0x20, 0x00})
	op := r.ReadUint8()
	length := r.ReadUint16()
	version := r.ReadUint8()
	r.Skip(1)
	mtu := r.ReadUint16()
	if r.Err() != nil {
		t.Fatalf("unexpected error: %v", r.Err())
	}
	if op != 0x80 || length != 7 || version != 0x10 || mtu != 0x2000 {
		t.Errorf("got op=0x%02X len=%d version=0x%02X mtu=0x%04X", op, length, version, mtu)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected remaining 0, got %d", r.Remaining())
	}
}

func TestReaderShortReadSticks(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03})
	if v := r.ReadUint32(); v != 0 {
		t.Errorf("expected 0 on short read, got %d", v)
	}
	if !errors.Is(r.Err(), ErrShortRead) {
		t.Fatalf("expected ErrShortRead, got %v", r.Err())
	}
	if v := r.ReadUint8(); v != 0 {
		t.Errorf("reads after an error must return 0, got %d", v)
	}
	if r.Position() != 0 {
		t.Errorf("position must not move on error, got %d", r.Position())
	}
}

func TestReaderSliceAliases(t *testing.T) {
	data := []byte{0xAA, 0xBB, 0xCC}
	r := NewReader(data)
	s := r.Slice(2)
	c := NewReader(data).ReadBytes(2)
	data[0] = 0x11
	if s[0] != 0x11 {
		t.Errorf("Slice should alias the buffer")
	}
	if c[0] != 0xAA {
		t.Errorf("ReadBytes should copy")
	}
	if b, ok := r.PeekUint8(); !ok || b != 0xCC {
		t.Errorf("PeekUint8 = 0x%02X, %v", b, ok)
	}
}

func TestWriterPatchLength(t *testing.T) {
	buf := make([]byte, 8)
	w := NewWriter(buf)
	w.WriteUint8(0x82)
	w.WriteUint16(0)
	w.WriteUint8(0xCB)
	w.WriteUint32(0x01020304)
	w.PatchUint16(1, uint16(w.Len()))
	if w.Err() != nil {
		t.Fatalf("unexpected error: %v", w.Err())
	}
	want := []byte{0x82, 0x00, 0x08, 0xCB, 0x01, 0x02, 0x03, 0x04}
	if string(w.Bytes()) != string(want) {
		t.Errorf("got % X, want % X", w.Bytes(), want)
	}

	w.WriteUint8(0xFF)
	if !errors.Is(w.Err(), ErrShortWrite) {
		t.Errorf("expected ErrShortWrite, got %v", w.Err())
	}
}
