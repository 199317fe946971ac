// Package transport defines the virtual circuit the OBEX engine runs on.
//
// A Transport is a connected, ordered, reliable byte pipe: an RFCOMM
// channel, an L2CAP channel, a TCP connection, or an in-memory loopback.
// Sends never block. A transport that cannot take a whole buffer accepts a
// prefix and later reports TxEmpty once the backlog drains; the engine
// keeps the unsent tail and retries.
package transport

import (
	"errors"

	"github.com/marmos91/obexd/internal/obex/types"
)

// ErrClosed is returned by Send after the transport closed.
var ErrClosed = errors.New("transport: closed")

// Transport is the send side of a circuit.
type Transport interface {
	// Send queues a prefix of b and returns its length. A short count with
	// a nil error means the transport is congested; TxEmpty follows.
	Send(b []byte) (int, error)

	// Congested reports whether the transport currently refuses data.
	Congested() bool

	// Close tears the circuit down. The peer observes a close; the local
	// handler does not.
	Close() error

	LocalAddr() types.BDAddr
	PeerAddr() types.BDAddr

	// Name identifies the transport kind in logs and metrics.
	Name() string
}

// Handler receives transport notifications. Implementations must not block.
type Handler interface {
	// OnData delivers received bytes. Chunk boundaries are arbitrary.
	OnData(b []byte)
	// OnTxEmpty reports that queued data has drained.
	OnTxEmpty()
	// OnFlow reports a change of the congestion state.
	OnFlow(on bool)
	// OnClose reports that the peer or the link closed the circuit.
	OnClose(err error)
}

// Starter is implemented by transports that begin delivering events once a
// handler is attached.
type Starter interface {
	Start(h Handler)
}

// HandlerFuncs adapts functions to Handler. Nil functions are skipped.
type HandlerFuncs struct {
	Data    func([]byte)
	TxEmpty func()
	Flow    func(bool)
	Closed  func(error)
}

func (h HandlerFuncs) OnData(b []byte) {
	if h.Data != nil {
		h.Data(b)
	}
}

func (h HandlerFuncs) OnTxEmpty() {
	if h.TxEmpty != nil {
		h.TxEmpty()
	}
}

func (h HandlerFuncs) OnFlow(on bool) {
	if h.Flow != nil {
		h.Flow(on)
	}
}

func (h HandlerFuncs) OnClose(err error) {
	if h.Closed != nil {
		h.Closed(err)
	}
}
