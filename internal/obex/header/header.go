// Package header encodes and decodes OBEX headers.
//
// A header is an identifier byte followed by a value whose layout is
// selected by the identifier's two most significant bits:
//
//	00 unicode   id(1) len(2) UTF-16BE text, null terminated
//	01 bytes     id(1) len(2) payload
//	10 byte      id(1) value(1)
//	11 uint32    id(1) value(4)
//
// The 2-byte length counts the identifier and the length field themselves.
// Authentication, session and application parameters nest tag/length/value
// triplets inside a byte-sequence header.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/types"
)

var (
	// ErrOverflow is returned by Encode when the packet lacks room for the
	// header. The packet is left untouched.
	ErrOverflow = packet.ErrOverflow

	// ErrMalformed is returned when a header's self-described length runs
	// past the end of the header region.
	ErrMalformed = errors.New("header: malformed")

	// ErrBadValue is returned when a value does not fit its encoding.
	ErrBadValue = errors.New("header: value does not match encoding")

	// ErrNotFound is returned when a requested header is absent.
	ErrNotFound = errors.New("header: not found")
)

// prefixLen is id(1) + len(2) for variable length headers.
const prefixLen = 3

// MaxValueLen is the largest payload a variable length header can carry.
const MaxValueLen = 0xFFFF - prefixLen

// Header is a decoded header. Value holds the raw wire payload: one byte,
// four big-endian bytes, a byte sequence, or UTF-16BE text with its null
// terminator. Values returned by the parsers alias the packet buffer.
type Header struct {
	ID    types.HeaderID
	Value []byte
}

// Uint8 builds a one byte header.
func Uint8(id types.HeaderID, v uint8) Header {
	return Header{ID: id, Value: []byte{v}}
}

// Uint32 builds a four byte header.
func Uint32(id types.HeaderID, v uint32) Header {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return Header{ID: id, Value: b}
}

// Bytes builds a byte-sequence header.
func Bytes(id types.HeaderID, b []byte) Header {
	return Header{ID: id, Value: b}
}

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// Unicode builds a unicode header. An empty string encodes as an empty
// value, which OBEX uses for "no name" (for example SetPath to the root).
func Unicode(id types.HeaderID, s string) (Header, error) {
	if s == "" {
		return Header{ID: id}, nil
	}
	b, err := utf16be.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	return Header{ID: id, Value: append(b, 0, 0)}, nil
}

// Size returns the encoded size of the header.
func (h Header) Size() int {
	switch h.ID.Encoding() {
	case types.EncByte:
		return 2
	case types.EncUint32:
		return 5
	default:
		return prefixLen + len(h.Value)
	}
}

// AsUint8 returns the value of a one byte header.
func (h Header) AsUint8() (uint8, bool) {
	if h.ID.Encoding() != types.EncByte || len(h.Value) != 1 {
		return 0, false
	}
	return h.Value[0], true
}

// AsUint32 returns the value of a four byte header.
func (h Header) AsUint32() (uint32, bool) {
	if h.ID.Encoding() != types.EncUint32 || len(h.Value) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(h.Value), true
}

// AsString decodes a unicode header.
func (h Header) AsString() (string, error) {
	if h.ID.Encoding() != types.EncUnicode {
		return "", fmt.Errorf("%w: %s is not unicode", ErrBadValue, h.ID)
	}
	v := h.Value
	if len(v)%2 != 0 {
		return "", fmt.Errorf("%w: odd length unicode value", ErrMalformed)
	}
	for len(v) >= 2 && v[len(v)-2] == 0 && v[len(v)-1] == 0 {
		v = v[:len(v)-2]
	}
	out, err := utf16be.NewDecoder().Bytes(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return string(out), nil
}

func (h Header) String() string {
	switch h.ID.Encoding() {
	case types.EncByte, types.EncUint32:
		return fmt.Sprintf("%s=% X", h.ID, h.Value)
	case types.EncUnicode:
		s, _ := h.AsString()
		return fmt.Sprintf("%s=%q", h.ID, s)
	default:
		return fmt.Sprintf("%s[%d]", h.ID, len(h.Value))
	}
}

// validate checks that the value length suits the encoding.
func (h Header) validate() error {
	switch h.ID.Encoding() {
	case types.EncByte:
		if len(h.Value) != 1 {
			return fmt.Errorf("%w: %s needs 1 byte, got %d", ErrBadValue, h.ID, len(h.Value))
		}
	case types.EncUint32:
		if len(h.Value) != 4 {
			return fmt.Errorf("%w: %s needs 4 bytes, got %d", ErrBadValue, h.ID, len(h.Value))
		}
	default:
		if len(h.Value) > MaxValueLen {
			return fmt.Errorf("%w: %s value of %d bytes", ErrBadValue, h.ID, len(h.Value))
		}
	}
	return nil
}

// put writes the header into dst, which must be exactly Size bytes.
func (h Header) put(dst []byte) {
	dst[0] = uint8(h.ID)
	switch h.ID.Encoding() {
	case types.EncByte, types.EncUint32:
		copy(dst[1:], h.Value)
	default:
		binary.BigEndian.PutUint16(dst[1:3], uint16(len(dst)))
		copy(dst[prefixLen:], h.Value)
	}
}

// Encode appends h to the packet. Either the whole header is written or
// nothing is, in which case ErrOverflow is returned.
func Encode(p *packet.Packet, h Header) error {
	if err := h.validate(); err != nil {
		return err
	}
	dst, err := p.Extend(h.Size())
	if err != nil {
		return fmt.Errorf("%s: %w", h.ID, err)
	}
	h.put(dst)
	return nil
}

// EncodeAll appends every header, rolling back on the first failure so the
// packet ends up either fully written or unchanged.
func EncodeAll(p *packet.Packet, hs ...Header) error {
	mark := p.Len()
	for _, h := range hs {
		if err := Encode(p, h); err != nil {
			p.Truncate(mark)
			return err
		}
	}
	return nil
}

// Prepend writes h in front of the packet's used region. The engine uses it
// for headers that must precede application headers, like Connection-ID.
func Prepend(p *packet.Packet, h Header) error {
	if err := h.validate(); err != nil {
		return err
	}
	dst, err := p.ReserveFront(h.Size())
	if err != nil {
		return fmt.Errorf("%s: %w", h.ID, err)
	}
	h.put(dst)
	return nil
}

// Marshal returns the wire form of h.
func Marshal(h Header) ([]byte, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	b := make([]byte, h.Size())
	h.put(b)
	return b, nil
}
