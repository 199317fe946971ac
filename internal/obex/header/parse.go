package header

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/types"
)

// decode reads one header at the start of b and returns it along with its
// encoded size.
func decode(b []byte) (Header, int, error) {
	if len(b) == 0 {
		return Header{}, 0, fmt.Errorf("%w: empty header region", ErrMalformed)
	}
	id := types.HeaderID(b[0])
	var n int
	switch id.Encoding() {
	case types.EncByte:
		n = 2
	case types.EncUint32:
		n = 5
	default:
		if len(b) < prefixLen {
			return Header{}, 0, fmt.Errorf("%w: truncated %s", ErrMalformed, id)
		}
		n = int(binary.BigEndian.Uint16(b[1:3]))
		if n < prefixLen {
			return Header{}, 0, fmt.Errorf("%w: %s length %d", ErrMalformed, id, n)
		}
	}
	if n > len(b) {
		return Header{}, 0, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrMalformed, id, n, len(b))
	}
	h := Header{ID: id}
	switch id.Encoding() {
	case types.EncByte, types.EncUint32:
		h.Value = b[1:n:n]
	default:
		h.Value = b[prefixLen:n:n]
	}
	return h, n, nil
}

// Parse decodes every header in a header region.
func Parse(b []byte) ([]Header, error) {
	var hs []Header
	for len(b) > 0 {
		h, n, err := decode(b)
		if err != nil {
			return hs, err
		}
		hs = append(hs, h)
		b = b[n:]
	}
	return hs, nil
}

// Validate walks every header of the packet and reports the first framing
// error. Inbound packets are validated once before any header lookups.
func Validate(p *packet.Packet) error {
	b := p.Headers()
	for len(b) > 0 {
		_, n, err := decode(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Cursor walks the headers of a packet in order. It stops at the first
// malformed header.
type Cursor struct {
	b   []byte
	err error
}

// NewCursor starts a walk at the packet's first header.
func NewCursor(p *packet.Packet) *Cursor {
	return &Cursor{b: p.Headers()}
}

// Next returns the next header of any kind.
func (c *Cursor) Next() (Header, bool) {
	if c.err != nil || len(c.b) == 0 {
		return Header{}, false
	}
	h, n, err := decode(c.b)
	if err != nil {
		c.err = err
		return Header{}, false
	}
	c.b = c.b[n:]
	return h, true
}

// NextID returns the next header with the given identifier, for headers
// that may repeat.
func (c *Cursor) NextID(id types.HeaderID) (Header, bool) {
	for {
		h, ok := c.Next()
		if !ok {
			return Header{}, false
		}
		if h.ID == id {
			return h, true
		}
	}
}

// Err returns the framing error that stopped the walk, if any.
func (c *Cursor) Err() error { return c.err }

// Find returns the first header with the given identifier.
func Find(p *packet.Packet, id types.HeaderID) (Header, bool) {
	return NewCursor(p).NextID(id)
}

// Has reports whether the packet carries a header with the given identifier.
func Has(p *packet.Packet, id types.HeaderID) bool {
	_, ok := Find(p, id)
	return ok
}

// FindUint8 returns the value of a one byte header.
func FindUint8(p *packet.Packet, id types.HeaderID) (uint8, bool) {
	h, ok := Find(p, id)
	if !ok {
		return 0, false
	}
	return h.AsUint8()
}

// FindUint32 returns the value of a four byte header.
func FindUint32(p *packet.Packet, id types.HeaderID) (uint32, bool) {
	h, ok := Find(p, id)
	if !ok {
		return 0, false
	}
	return h.AsUint32()
}

// FindString returns the decoded value of a unicode header.
func FindString(p *packet.Packet, id types.HeaderID) (string, bool) {
	h, ok := Find(p, id)
	if !ok {
		return "", false
	}
	s, err := h.AsString()
	if err != nil {
		return "", false
	}
	return s, true
}

// ReadBody returns the object data of a packet. Body and End-of-Body are
// mutually exclusive: end reports that End-of-Body was present, and ok is
// false when the packet carries neither.
func ReadBody(p *packet.Packet) (body []byte, end bool, ok bool) {
	c := NewCursor(p)
	for {
		h, more := c.Next()
		if !more {
			return nil, false, false
		}
		switch h.ID {
		case types.HdrBody:
			return h.Value, false, true
		case types.HdrEndOfBody:
			return h.Value, true, true
		}
	}
}

// Remove deletes every header with the given identifier from a packet,
// compacting the header region in place.
func Remove(p *packet.Packet, id types.HeaderID) int {
	region := p.Headers()
	headersStart := p.Len() - len(region)
	out := region[:0]
	removed := 0
	b := region
	for len(b) > 0 {
		_, n, err := decode(b)
		if err != nil {
			out = append(out, b...)
			break
		}
		if types.HeaderID(b[0]) == id {
			removed++
		} else {
			out = append(out, b[:n]...)
		}
		b = b[n:]
	}
	if removed > 0 {
		p.Truncate(headersStart + len(out))
		p.FixLength()
	}
	return removed
}
