// Package loopback implements an in-memory transport pair.
//
// Sends are queued and delivered to the other endpoint by Pump, which
// makes multi-party protocol exchanges deterministic in tests. A write
// window smaller than a packet simulates a transport that accepts data in
// pieces, and SetCongested simulates flow control.
package loopback

import (
	"sync"

	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/types"
)

// Options configures a Pair.
type Options struct {
	// Window is the largest number of bytes one Send accepts. Zero means
	// unlimited.
	Window int
	// AddrA and AddrB are the device addresses of the endpoints.
	AddrA types.BDAddr
	AddrB types.BDAddr
}

type delivery struct {
	to      *Endpoint
	data    []byte
	close   bool
	txEmpty bool
	flow    *bool
}

// Pair is two connected endpoints.
type Pair struct {
	A, B *Endpoint

	mu      sync.Mutex
	queue   []delivery
	window  int
	notify  chan struct{}
	pumping bool
}

// Endpoint is one side of a Pair.
type Endpoint struct {
	pair      *Pair
	peer      *Endpoint
	addr      types.BDAddr
	handler   transport.Handler
	closed    bool
	congested bool
	blocked   bool
	sent      int
}

// NewPair creates a connected pair.
func NewPair(opts Options) *Pair {
	p := &Pair{window: opts.Window, notify: make(chan struct{}, 1)}
	p.A = &Endpoint{pair: p, addr: opts.AddrA}
	p.B = &Endpoint{pair: p, addr: opts.AddrB}
	p.A.peer, p.B.peer = p.B, p.A
	return p
}

func (p *Pair) enqueue(d delivery) {
	p.queue = append(p.queue, d)
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Notify returns a channel that receives a value whenever deliveries are
// queued. Asynchronous users call Pump when it fires.
func (p *Pair) Notify() <-chan struct{} { return p.notify }

// Pump delivers queued data until nothing is left and returns the number
// of deliveries. Handlers may send from inside a delivery; their data is
// delivered in the same Pump call. Re-entrant calls return immediately.
func (p *Pair) Pump() int {
	p.mu.Lock()
	if p.pumping {
		p.mu.Unlock()
		return 0
	}
	p.pumping = true
	p.mu.Unlock()

	n := 0
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.pumping = false
			p.mu.Unlock()
			return n
		}
		d := p.queue[0]
		p.queue = p.queue[1:]
		if d.txEmpty {
			d.to.blocked = false
		}
		h := d.to.handler
		p.mu.Unlock()

		n++
		if h == nil {
			continue
		}
		switch {
		case d.close:
			h.OnClose(transport.ErrClosed)
		case d.txEmpty:
			h.OnTxEmpty()
		case d.flow != nil:
			h.OnFlow(*d.flow)
		default:
			h.OnData(d.data)
		}
	}
}

// Start attaches the handler that receives this endpoint's events.
func (e *Endpoint) Start(h transport.Handler) {
	e.pair.mu.Lock()
	e.handler = h
	e.pair.mu.Unlock()
}

// Send accepts up to the pair's window and queues it for the peer. After a
// short send the endpoint reports TxEmpty once the queued bytes have been
// pumped.
func (e *Endpoint) Send(b []byte) (int, error) {
	p := e.pair
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.closed {
		return 0, transport.ErrClosed
	}
	if e.congested || e.blocked {
		return 0, nil
	}
	n := len(b)
	if p.window > 0 && n > p.window {
		n = p.window
	}
	data := append([]byte(nil), b[:n]...)
	e.sent += n
	if !e.peer.closed {
		p.enqueue(delivery{to: e.peer, data: data})
	}
	if n < len(b) {
		e.blocked = true
		p.enqueue(delivery{to: e, txEmpty: true})
	}
	return n, nil
}

// Congested reports whether Send currently refuses data.
func (e *Endpoint) Congested() bool {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.congested || e.blocked
}

// SetCongested simulates flow control. Clearing congestion queues a flow-on
// notification for this endpoint.
func (e *Endpoint) SetCongested(on bool) {
	p := e.pair
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.congested == on {
		return
	}
	e.congested = on
	flow := !on
	p.enqueue(delivery{to: e, flow: &flow})
}

// Close closes the endpoint. The peer receives OnClose after any data
// already queued for it.
func (e *Endpoint) Close() error {
	p := e.pair
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if !e.peer.closed {
		p.enqueue(delivery{to: e.peer, close: true})
	}
	return nil
}

// Drop simulates a link loss: both endpoints close and both handlers are
// notified.
func (p *Pair) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range []*Endpoint{p.A, p.B} {
		if !e.closed {
			e.closed = true
			p.enqueue(delivery{to: e, close: true})
		}
	}
}

// Closed reports whether the endpoint closed.
func (e *Endpoint) Closed() bool {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.closed
}

// Sent returns the total bytes accepted by Send.
func (e *Endpoint) Sent() int {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.sent
}

func (e *Endpoint) LocalAddr() types.BDAddr { return e.addr }
func (e *Endpoint) PeerAddr() types.BDAddr  { return e.peer.addr }
func (e *Endpoint) Name() string            { return "loopback" }
