// Package link is the transport side of one OBEX connection, shared by the
// client and server state machines: it reassembles inbound packets and
// keeps the unsent tail of an outbound packet the transport accepted only
// in part.
package link

import (
	"fmt"

	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/transport"
)

// Link wraps a transport. It is not safe for concurrent use.
type Link struct {
	tr    transport.Transport
	reasm *packet.Reassembler
	tail  []byte
	sent  int
}

// New creates a link accepting inbound packets of up to maxRecv bytes.
func New(tr transport.Transport, maxRecv int) *Link {
	return &Link{tr: tr, reasm: packet.NewReassembler(maxRecv)}
}

// Transport returns the wrapped transport.
func (l *Link) Transport() transport.Transport { return l.tr }

// SetMaxRecv changes the inbound packet limit.
func (l *Link) SetMaxRecv(n int) { l.reasm.SetMax(n) }

// Send transmits a framed packet and releases it. It reports whether the
// whole packet was accepted; if not, the rest is kept for Resume.
func (l *Link) Send(p *packet.Packet) (complete bool, err error) {
	defer p.Release()
	if len(l.tail) > 0 {
		return false, fmt.Errorf("link: send while %d bytes are pending", len(l.tail))
	}
	b := p.Bytes()
	n, err := l.tr.Send(b)
	l.sent += n
	if err != nil {
		return false, err
	}
	if n < len(b) {
		l.tail = append(l.tail[:0], b[n:]...)
		return false, nil
	}
	return true, nil
}

// Resume retries the pending tail and reports whether it is gone.
func (l *Link) Resume() (complete bool, err error) {
	if len(l.tail) == 0 {
		return true, nil
	}
	n, err := l.tr.Send(l.tail)
	l.sent += n
	if err != nil {
		return false, err
	}
	l.tail = l.tail[n:]
	if len(l.tail) == 0 {
		l.tail = nil
		return true, nil
	}
	return false, nil
}

// Pending returns the number of unsent bytes.
func (l *Link) Pending() int { return len(l.tail) }

// Sent returns the bytes handed to the transport so far.
func (l *Link) Sent() int { return l.sent }

// Congested reports whether the transport refuses data.
func (l *Link) Congested() bool { return l.tr.Congested() }

// Feed adds received bytes and returns the packets they complete.
func (l *Link) Feed(b []byte) ([]*packet.Packet, error) { return l.reasm.Feed(b) }

// Reset drops the unsent tail and any partial inbound packet.
func (l *Link) Reset() {
	l.tail = nil
	l.reasm.Reset()
}

// Close resets the link and closes the transport.
func (l *Link) Close() error {
	l.Reset()
	return l.tr.Close()
}
