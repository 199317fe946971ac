package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/obexd/internal/obex/types"
)

// Reassembler turns the byte chunks a stream transport delivers into whole
// OBEX packets, using the 16-bit length field to find packet boundaries.
// One chunk may complete several packets and one packet may span several
// chunks.
type Reassembler struct {
	buf []byte
	max int
}

// NewReassembler creates a Reassembler that rejects packets longer than
// maxLen. A zero maxLen allows the protocol maximum.
func NewReassembler(maxLen int) *Reassembler {
	if maxLen <= 0 || maxLen > int(types.MaxMTU) {
		maxLen = int(types.MaxMTU)
	}
	return &Reassembler{max: maxLen}
}

// SetMax changes the largest accepted packet, usually once the MTU has been
// negotiated.
func (r *Reassembler) SetMax(maxLen int) {
	if maxLen > 0 && maxLen <= int(types.MaxMTU) {
		r.max = maxLen
	}
}

// Feed adds a chunk and returns every packet it completes. On a length
// error the buffered bytes are discarded, since the stream has lost framing.
func (r *Reassembler) Feed(chunk []byte) ([]*Packet, error) {
	r.buf = append(r.buf, chunk...)

	var out []*Packet
	for len(r.buf) >= types.PacketPrefixSize {
		n := int(binary.BigEndian.Uint16(r.buf[1:3]))
		if n < types.PacketPrefixSize || n > r.max {
			r.buf = r.buf[:0]
			return out, fmt.Errorf("%w: length field %d (max %d)", ErrMalformed, n, r.max)
		}
		if len(r.buf) < n {
			break
		}
		p, err := FromWire(r.buf[:n])
		if err != nil {
			r.buf = r.buf[:0]
			return out, err
		}
		out = append(out, p)
		r.buf = r.buf[n:]
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return out, nil
}

// Pending returns the number of buffered bytes of an incomplete packet.
func (r *Reassembler) Pending() int { return len(r.buf) }

// Reset drops any partial packet.
func (r *Reassembler) Reset() { r.buf = nil }
