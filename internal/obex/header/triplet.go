package header

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/types"
)

// Triplet is a tag/length/value entry nested in a byte-sequence header.
type Triplet struct {
	Tag   uint8
	Value []byte
}

// TripletSet is an ordered list of triplets.
type TripletSet []Triplet

// Get returns the value of the first triplet with the tag.
func (ts TripletSet) Get(tag uint8) ([]byte, bool) {
	for _, t := range ts {
		if t.Tag == tag {
			return t.Value, true
		}
	}
	return nil, false
}

// GetUint8 returns a one byte triplet value.
func (ts TripletSet) GetUint8(tag uint8) (uint8, bool) {
	v, ok := ts.Get(tag)
	if !ok || len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

// GetUint32 returns a four byte big-endian triplet value.
func (ts TripletSet) GetUint32(tag uint8) (uint32, bool) {
	v, ok := ts.Get(tag)
	if !ok {
		return 0, false
	}
	s := cryptobyte.String(v)
	var out uint32
	if !s.ReadUint32(&out) || !s.Empty() {
		return 0, false
	}
	return out, true
}

// EncodeTriplets serializes triplets. Each value must be at most 255 bytes.
func EncodeTriplets(ts TripletSet) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	for _, t := range ts {
		if len(t.Value) > 0xFF {
			return nil, fmt.Errorf("%w: triplet 0x%02X value of %d bytes", ErrBadValue, t.Tag, len(t.Value))
		}
		b.AddUint8(t.Tag)
		b.AddUint8LengthPrefixed(func(c *cryptobyte.Builder) {
			c.AddBytes(t.Value)
		})
	}
	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadValue, err)
	}
	return out, nil
}

// ParseTriplets decodes a triplet sequence. Values alias b.
func ParseTriplets(b []byte) (TripletSet, error) {
	s := cryptobyte.String(b)
	var ts TripletSet
	for !s.Empty() {
		var tag uint8
		var v cryptobyte.String
		if !s.ReadUint8(&tag) || !s.ReadUint8LengthPrefixed(&v) {
			return ts, fmt.Errorf("%w: truncated triplet after %d entries", ErrMalformed, len(ts))
		}
		ts = append(ts, Triplet{Tag: tag, Value: []byte(v)})
	}
	return ts, nil
}

// Triplets builds a byte-sequence header holding the encoded triplets.
func Triplets(id types.HeaderID, ts TripletSet) (Header, error) {
	if id.Encoding() != types.EncBytes {
		return Header{}, fmt.Errorf("%w: %s cannot carry triplets", ErrBadValue, id)
	}
	v, err := EncodeTriplets(ts)
	if err != nil {
		return Header{}, err
	}
	return Bytes(id, v), nil
}

// ReadTripletSet finds the header and decodes its triplets.
func ReadTripletSet(p *packet.Packet, id types.HeaderID) (TripletSet, error) {
	h, ok := Find(p, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ParseTriplets(h.Value)
}

// Uint32Triplet encodes v as a four byte big-endian triplet.
func Uint32Triplet(tag uint8, v uint32) Triplet {
	b := cryptobyte.NewBuilder(make([]byte, 0, 4))
	b.AddUint32(v)
	return Triplet{Tag: tag, Value: b.BytesOrPanic()}
}
