// Package packet implements the OBEX packet buffer: an owned byte slice
// with a reserved prefix region so the engine can prepend the opcode, the
// length field, fixed fields and engine-owned headers (Connection-ID,
// Session-Sequence-Number, SRM) after the application has appended its own
// headers, without copying the payload.
//
// The buffer is divided into three regions:
//
//	[ headroom: offset ][ used: length ][ free: capacity ]
//
// and offset + length + capacity always equals the total buffer size.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/pkg/bufpool"
)

// Headroom is the prefix reserved by New for bytes the engine prepends:
// opcode and length (3), Connect fixed fields (4), Connection-ID (5),
// Session-Sequence-Number (2), SRM (2) and SRM-Parameters (2), rounded up.
const Headroom = 32

var (
	// ErrOverflow is returned when an append or prepend does not fit. Nothing
	// is written when it is returned.
	ErrOverflow = errors.New("packet: insufficient capacity")

	// ErrTooLarge is returned when a packet exceeds the 16-bit length field
	// or the negotiated maximum packet length.
	ErrTooLarge = errors.New("packet: too large")

	// ErrMalformed is returned for wire data whose length field is invalid.
	ErrMalformed = errors.New("packet: malformed")
)

// Packet is an owned OBEX packet buffer. A Packet must not be used after
// Release, and ownership moves with the pointer: whoever holds it last
// releases it.
type Packet struct {
	buf    []byte
	offset int
	length int
	kind   types.Kind
	framed bool
	pooled bool
}

// New allocates a packet whose total size is size bytes, of which Headroom
// bytes are reserved at the front. The application can therefore append up
// to size-Headroom bytes of headers, and the framed packet never exceeds
// size.
func New(size int) *Packet {
	return NewWithHeadroom(size, Headroom)
}

// NewWithHeadroom allocates a packet with an explicit headroom.
func NewWithHeadroom(size, headroom int) *Packet {
	if headroom > size {
		headroom = size
	}
	return &Packet{
		buf:    bufpool.Get(size),
		offset: headroom,
		pooled: true,
	}
}

// FromWire wraps a complete wire packet. The data is copied into a pooled
// buffer. The kind defaults to a request with the packet's first byte as
// opcode; receivers of responses set the kind with SetKind.
func FromWire(data []byte) (*Packet, error) {
	if len(data) < types.PacketPrefixSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	n := int(binary.BigEndian.Uint16(data[1:3]))
	if n < types.PacketPrefixSize || n != len(data) {
		return nil, fmt.Errorf("%w: length field %d, have %d bytes", ErrMalformed, n, len(data))
	}
	p := &Packet{
		buf:    bufpool.Get(n),
		length: n,
		kind:   types.RequestKind(types.Opcode(data[0])),
		framed: true,
		pooled: true,
	}
	copy(p.buf, data)
	return p, nil
}

// Bytes returns the used region. The slice aliases the packet.
func (p *Packet) Bytes() []byte { return p.buf[p.offset : p.offset+p.length] }

// Len returns the length of the used region.
func (p *Packet) Len() int { return p.length }

// Cap returns the free space after the used region.
func (p *Packet) Cap() int { return len(p.buf) - p.offset - p.length }

// Front returns the free space before the used region.
func (p *Packet) Front() int { return p.offset }

// Total returns the size of the underlying buffer.
func (p *Packet) Total() int { return len(p.buf) }

// Kind returns the request/response tag of the packet.
func (p *Packet) Kind() types.Kind { return p.kind }

// SetKind retags the packet.
func (p *Packet) SetKind(k types.Kind) { p.kind = k }

// Framed reports whether the packet starts with an opcode and length.
func (p *Packet) Framed() bool { return p.framed }

// Append copies b after the used region.
func (p *Packet) Append(b []byte) error {
	dst, err := p.Extend(len(b))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// Extend grows the used region by n bytes and returns the new bytes for the
// caller to fill.
func (p *Packet) Extend(n int) ([]byte, error) {
	if n < 0 || n > p.Cap() {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrOverflow, n, p.Cap())
	}
	start := p.offset + p.length
	p.length += n
	return p.buf[start : start+n], nil
}

// ReserveFront grows the used region n bytes towards the front and returns
// the new bytes for the caller to fill.
func (p *Packet) ReserveFront(n int) ([]byte, error) {
	if n < 0 || n > p.offset {
		return nil, fmt.Errorf("%w: need %d bytes of headroom, have %d", ErrOverflow, n, p.offset)
	}
	p.offset -= n
	p.length += n
	return p.buf[p.offset : p.offset+n], nil
}

// Truncate shrinks the used region to n bytes.
func (p *Packet) Truncate(n int) {
	if n >= 0 && n < p.length {
		p.length = n
	}
}

// Consume drops n bytes from the front of the used region. Senders use it to
// track the unsent tail of a partially transmitted packet.
func (p *Packet) Consume(n int) {
	n = min(max(n, 0), p.length)
	p.offset += n
	p.length -= n
}

// Grow makes sure at least n bytes of capacity are free, reallocating when
// needed. The headroom is preserved.
func (p *Packet) Grow(n int) {
	if n <= p.Cap() {
		return
	}
	buf := bufpool.Get(p.offset + p.length + n)
	copy(buf[p.offset:], p.Bytes())
	p.put()
	p.buf = buf
	p.pooled = true
}

// Frame prepends the opcode, a length field and the fixed fields, turning
// the used region into a complete wire packet. A packet tagged as a
// response keeps the request opcode in its kind; op is the response code.
func (p *Packet) Frame(op uint8, fixed ...byte) error {
	if p.framed {
		return fmt.Errorf("%w: packet already framed", types.ErrBadParameters)
	}
	if p.length+types.PacketPrefixSize+len(fixed) > int(types.MaxMTU) {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, p.length+types.PacketPrefixSize+len(fixed))
	}
	front, err := p.ReserveFront(types.PacketPrefixSize + len(fixed))
	if err != nil {
		return err
	}
	front[0] = op
	copy(front[types.PacketPrefixSize:], fixed)
	p.framed = true
	if !p.kind.Response {
		p.kind.Op = types.Opcode(op)
	}
	p.FixLength()
	return nil
}

// FixLength rewrites the length field after the used region changed size.
func (p *Packet) FixLength() {
	if !p.framed || p.length < types.PacketPrefixSize {
		return
	}
	binary.BigEndian.PutUint16(p.buf[p.offset+1:], uint16(p.length))
}

// Code returns the first byte of a framed packet: an opcode for requests
// and a response code for responses.
func (p *Packet) Code() uint8 {
	if !p.framed || p.length == 0 {
		return 0
	}
	return p.buf[p.offset]
}

// SetCode overwrites the first byte of a framed packet.
func (p *Packet) SetCode(c uint8) {
	if p.framed && p.length > 0 {
		p.buf[p.offset] = c
	}
}

// Fixed returns the fixed fields between the length field and the first
// header.
func (p *Packet) Fixed() []byte {
	if !p.framed {
		return nil
	}
	start := p.kind.HeadersStart()
	if start > p.length {
		return nil
	}
	return p.Bytes()[types.PacketPrefixSize:start]
}

// Headers returns the header region: everything after the fixed fields of
// a framed packet, or the whole used region of an unframed one.
func (p *Packet) Headers() []byte {
	if !p.framed {
		return p.Bytes()
	}
	start := p.kind.HeadersStart()
	if start > p.length {
		return nil
	}
	return p.Bytes()[start:]
}

// Clone returns an independent copy with the same headroom and capacity.
func (p *Packet) Clone() *Packet {
	c := &Packet{
		buf:    bufpool.Get(len(p.buf)),
		offset: p.offset,
		length: p.length,
		kind:   p.kind,
		framed: p.framed,
		pooled: true,
	}
	copy(c.buf[c.offset:], p.Bytes())
	return c
}

// Release hands the buffer back to the pool. Release on a nil packet is a
// no-op, as is a second Release.
func (p *Packet) Release() {
	if p == nil {
		return
	}
	p.put()
	p.buf = nil
	p.offset, p.length = 0, 0
}

func (p *Packet) put() {
	if p.pooled && p.buf != nil {
		bufpool.Put(p.buf)
	}
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s len=%d front=%d cap=%d", p.kind, p.length, p.offset, p.Cap())
}
