package obexenc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortRead is returned when there are insufficient bytes to complete a read.
var ErrShortRead = errors.New("obexenc: short read")

// Reader reads big-endian OBEX wire data with error accumulation.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader creates a Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) require(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortRead, n, r.pos, len(r.data)-r.pos)
		return false
	}
	return true
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() uint8 {
	if !r.require(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

// ReadUint16 reads a big-endian uint16.
func (r *Reader) ReadUint16() uint16 {
	if !r.require(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() uint32 {
	if !r.require(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

// ReadBytes reads n bytes into a fresh slice.
func (r *Reader) ReadBytes(n int) []byte {
	s := r.Slice(n)
	if s == nil {
		return nil
	}
	b := make([]byte, n)
	copy(b, s)
	return b
}

// Slice returns the next n bytes without copying. The result aliases the
// underlying buffer.
func (r *Reader) Slice(n int) []byte {
	if !r.require(n) {
		return nil
	}
	s := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return s
}

// PeekUint8 returns the next byte without consuming it.
func (r *Reader) PeekUint8() (uint8, bool) {
	if r.err != nil || r.pos >= len(r.data) {
		return 0, false
	}
	return r.data[r.pos], true
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) {
	if r.require(n) {
		r.pos += n
	}
}

// Err returns the first error encountered, or nil.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return max(len(r.data)-r.pos, 0) }

// Position returns the current read offset.
func (r *Reader) Position() int { return r.pos }
