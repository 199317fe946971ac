package obexenc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortWrite is returned when a Writer runs out of room.
var ErrShortWrite = errors.New("obexenc: short write")

// Writer writes big-endian values into a fixed slice. It never grows the
// slice; running past the end records ErrShortWrite and stops writing.
type Writer struct {
	buf []byte
	pos int
	err error
}

// NewWriter creates a Writer over buf starting at offset 0.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

func (w *Writer) require(n int) bool {
	if w.err != nil {
		return false
	}
	if w.pos+n > len(w.buf) {
		w.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortWrite, n, w.pos, len(w.buf)-w.pos)
		return false
	}
	return true
}

func (w *Writer) WriteUint8(v uint8) {
	if w.require(1) {
		w.buf[w.pos] = v
		w.pos++
	}
}

func (w *Writer) WriteUint16(v uint16) {
	if w.require(2) {
		binary.BigEndian.PutUint16(w.buf[w.pos:], v)
		w.pos += 2
	}
}

func (w *Writer) WriteUint32(v uint32) {
	if w.require(4) {
		binary.BigEndian.PutUint32(w.buf[w.pos:], v)
		w.pos += 4
	}
}

func (w *Writer) WriteBytes(data []byte) {
	if w.require(len(data)) {
		w.pos += copy(w.buf[w.pos:], data)
	}
}

// PatchUint16 overwrites two bytes at offset without moving the cursor.
func (w *Writer) PatchUint16(offset int, v uint16) {
	if w.err != nil {
		return
	}
	if offset < 0 || offset+2 > len(w.buf) {
		w.err = fmt.Errorf("%w: patch at offset %d", ErrShortWrite, offset)
		return
	}
	binary.BigEndian.PutUint16(w.buf[offset:], v)
}

// Bytes returns the written prefix of the buffer.
func (w *Writer) Bytes() []byte { return w.buf[:w.pos] }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return w.pos }

// Err returns the first error encountered, or nil.
func (w *Writer) Err() error { return w.err }
