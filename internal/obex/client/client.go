// Package client implements the requesting side of an OBEX connection.
//
// A Client is a synchronous state machine. Its inputs are the request
// methods (Connect, Put, Get, ...) and the transport notifications
// (Receive, TxEmpty, FlowOn, TransportClosed) plus Timeout. Outputs are
// packets handed to the transport and events delivered to the Sink. None
// of the methods block, and none of them are safe for concurrent use: the
// engine serialises every call on its event loop.
package client

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/auth"
	"github.com/marmos91/obexd/internal/obex/digest"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/link"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/sched"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/srm"
	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/pkg/metrics"
)

const role = "client"

var (
	// ErrProtocol is the cause of a close forced by an invalid response.
	ErrProtocol = errors.New("client: protocol error")

	// ErrMutualAuth is the cause of a close forced by a server that failed
	// the client's challenge.
	ErrMutualAuth = errors.New("client: server failed mutual authentication")

	// ErrResponseTimeout is reported by Timeout events.
	ErrResponseTimeout = errors.New("client: response timeout")

	// ErrSessionExpired is reported when a suspended session times out.
	ErrSessionExpired = errors.New("client: suspended session expired")
)

// Options configures a Client.
type Options struct {
	// MTU is the largest packet this side accepts. Zero uses DefaultMTU.
	MTU uint16

	// SRM allows single response mode.
	SRM bool

	// SRMQueue is the number of streamed Get responses held while the
	// application owns the credit before the server is asked to wait.
	// Zero uses 2.
	SRMQueue int

	// ResponseTimeout bounds the wait for each response. Zero disables
	// the timer.
	ResponseTimeout time.Duration

	// Progress enables Progress events.
	Progress bool

	Scheduler sched.Scheduler
	Nonces    *digest.NonceSource
	Metrics   metrics.OBEXMetrics
}

func (o *Options) normalize() {
	if o.MTU == 0 {
		o.MTU = types.DefaultMTU
	}
	o.MTU = max(o.MTU, types.MinMTU)
	if o.SRMQueue <= 0 {
		o.SRMQueue = 2
	}
	if o.Scheduler == nil {
		o.Scheduler = sched.Wall{}
	}
	if o.Nonces == nil {
		o.Nonces = digest.NewNonceSource()
	}
}

// ConnectParams describes a Connect request.
type ConnectParams struct {
	// Packet carries extra headers such as Target or Who. It may be nil.
	Packet *packet.Packet

	// Reliable creates a reliable session before connecting.
	Reliable bool

	// Nonce is the session nonce, 4 to 16 bytes. Empty generates one.
	Nonce []byte

	// SessionTimeout is the suspend timeout proposed at session creation,
	// in seconds. Zero leaves it to the server.
	SessionTimeout uint32
}

// queuedRequest is a request made while a packet was partially sent.
type queuedRequest struct {
	e evt
	p *packet.Packet
}

// authAnswer carries an AuthResponse call into the dispatcher.
type authAnswer struct {
	cancel bool
}

// Client is one client connection.
type Client struct {
	opts Options
	ctx  context.Context
	link *link.Link
	sink event.Sink

	state State
	prev  State

	// partialNext is the state entered when the pending tail drains.
	partialNext State
	queued      *queuedRequest
	deferred    []*packet.Packet

	pendingOp types.Opcode
	// last is a copy of the last Connect request for authentication retry.
	last *packet.Packet
	// connectAfterSession is sent once a session creation succeeds.
	connectAfterSession *packet.Packet

	srm *srm.Controller
	// srmAuto emits a local Continue once the current streamed Put drains.
	srmAuto bool
	// srmHeld is a local Continue withheld while the server asked to wait.
	srmHeld bool
	// srmQueue holds streamed Get responses while the application owns the
	// credit.
	srmQueue    []*packet.Packet
	srmWaitSent bool

	sess     session.Info
	sessOp   types.SessionOp
	sessPrev State

	connID    uint32
	hasConnID bool
	peerMTU   uint16

	challenge  *auth.Challenge
	mutual     *auth.Challenge
	mutualPass []byte
	answer     *authAnswer

	abortDummy bool

	rspTimer  *sched.Single
	sessTimer *sched.Single
	// sessExpired is set by the session timer before it dispatches.
	sessExpired bool

	closeErr error
	closed   bool

	later []func()
	depth int
}

// New creates a client on a connected transport. Events go to sink.
func New(tr transport.Transport, sink event.Sink, opts Options) *Client {
	opts.normalize()
	if sink == nil {
		sink = func(e event.Event) { e.Release() }
	}
	lc := logger.NewLogContext(role, tr.PeerAddr().String())
	c := &Client{
		opts:      opts,
		ctx:       logger.WithContext(context.Background(), lc),
		link:      link.New(tr, int(opts.MTU)),
		sink:      sink,
		srm:       srm.New(opts.SRM),
		rspTimer:  sched.NewSingle(opts.Scheduler),
		sessTimer: sched.NewSingle(opts.Scheduler),
	}
	c.sess.LocalAddr = tr.LocalAddr()
	c.sess.PeerAddr = tr.PeerAddr()
	return c
}

// Handler adapts the client to transport notifications for callers that
// drive it directly rather than through the engine.
func (c *Client) Handler() transport.Handler {
	return transport.HandlerFuncs{
		Data:    c.Receive,
		TxEmpty: c.TxEmpty,
		Flow: func(on bool) {
			if on {
				c.FlowOn()
			}
		},
		Closed: c.TransportClosed,
	}
}

// State returns the current state.
func (c *Client) State() State { return c.state }

// Session returns a copy of the reliable session block.
func (c *Client) Session() session.Info { return c.sess }

// SRMFlags returns the single response mode flags.
func (c *Client) SRMFlags() srm.Flags { return c.srm.Flags() }

// ConnectionID returns the Connection-ID assigned by the server.
func (c *Client) ConnectionID() (uint32, bool) { return c.connID, c.hasConnID }

// PeerMTU returns the largest packet the server accepts.
func (c *Client) PeerMTU() uint16 { return c.peerMTU }

// NewPacket allocates a request packet sized for the connection.
func (c *Client) NewPacket() *packet.Packet {
	return packet.New(int(c.sendMTU()))
}

func (c *Client) sendMTU() uint16 {
	if c.peerMTU >= types.MinMTU {
		return c.peerMTU
	}
	return types.MinMTU
}

// =============================================================================
// Transport inputs
// =============================================================================

// Receive feeds bytes read from the transport.
func (c *Client) Receive(b []byte) {
	if c.closed {
		return
	}
	pkts, err := c.link.Feed(b)
	for _, p := range pkts {
		c.handleResponse(p)
	}
	if err != nil {
		logger.WarnCtx(c.ctx, "Invalid response framing", logger.KeyError, err)
		c.dispatch(evProtoErr, nil)
	}
}

// TxEmpty reports that the transport drained its send queue.
func (c *Client) TxEmpty() { c.dispatch(evTxEmpty, nil) }

// FlowOn reports that the transport accepts data again.
func (c *Client) FlowOn() { c.dispatch(evFlowOn, nil) }

// TransportClosed reports that the peer or the link closed the transport.
func (c *Client) TransportClosed(err error) {
	if c.closed {
		return
	}
	if err == nil {
		err = transport.ErrClosed
	}
	c.closeErr = err
	c.dispatch(evPortClose, nil)
}

// Timeout fires the response timer immediately.
func (c *Client) Timeout() { c.dispatch(evTimeout, nil) }

// Close tears the connection down locally. The Close event is delivered.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	err := c.link.Close()
	c.closeErr = transport.ErrClosed
	c.dispatch(evPortClose, nil)
	return err
}

func (c *Client) handleResponse(p *packet.Packet) {
	p.SetKind(types.ResponseKind(c.pendingOp))
	c.rspTimer.Stop()

	st := types.Status(p.Code())
	e := evProtoErr
	switch st.Class() {
	case types.ClassContinue:
		e = evContCfm
	case types.ClassOK:
		e = evOKCfm
	case types.ClassFail:
		e = evFailCfm
	}
	if e != evProtoErr {
		if err := validate(p); err != nil {
			logger.WarnCtx(c.ctx, "Malformed response", logger.Status(st), logger.KeyError, err)
			e = evProtoErr
		}
	}
	metrics.RecordResponse(c.opts.Metrics, role, c.pendingOp.String(), st.String())
	c.dispatch(e, p)
}

// =============================================================================
// Dispatch
// =============================================================================

// dispatch runs one transition. Work scheduled with runLater, including
// event delivery, happens after the new state is set, so a Sink may call
// back into the client.
func (c *Client) dispatch(e evt, p *packet.Packet) {
	ent, ok := lookup(c.state, e)
	if !ok {
		logger.DebugCtx(c.ctx, "Event ignored", logger.State(c.state), logger.Event(e))
		p.Release()
		return
	}

	c.depth++
	from := c.state
	next := ent.act(c, p, ent.next)
	if next == candidate {
		next = ent.next
	}
	if next == stay {
		next = from
	}
	if next != from {
		if next == PartialSent {
			c.prev = from
		}
		logger.DebugCtx(c.ctx, "Client transition",
			logger.State(from), logger.KeyNextState, next.String(), logger.Event(e))
	}
	c.state = next
	c.syncTimer()
	c.depth--

	if c.depth == 0 {
		c.flush()
	}
}

func (c *Client) runLater(f func()) { c.later = append(c.later, f) }

func (c *Client) emit(ev event.Event) {
	c.runLater(func() { c.sink(ev) })
}

func (c *Client) flush() {
	for len(c.later) > 0 {
		f := c.later[0]
		c.later = c.later[1:]
		f()
	}
}

// awaiting reports whether the state waits for a response.
func (c *Client) awaiting() bool {
	switch c.state {
	case SessionReqSent, ConnectReqSent, DisconnectReqSent, SetPathReqSent,
		ActionReqSent, AbortReqSent, PutReqSent, GetReqSent:
		return true
	case GetSrm:
		return !c.srm.WaitingUpper() && !c.srmWaitSent
	}
	return false
}

func (c *Client) syncTimer() {
	if c.opts.ResponseTimeout <= 0 {
		return
	}
	switch {
	case c.awaiting() && !c.rspTimer.Armed():
		c.rspTimer.Arm(c.opts.ResponseTimeout, c.Timeout)
	case !c.awaiting() && c.rspTimer.Armed():
		c.rspTimer.Stop()
	}
}

func (c *Client) armSessionTimer() {
	c.sessTimer.Stop()
	if c.sess.Timeout == 0 || c.sess.Timeout == types.InfiniteTimeout {
		return
	}
	c.sessTimer.Arm(time.Duration(c.sess.Timeout)*time.Second, func() {
		if c.sess.State != session.StateSuspended {
			return
		}
		c.sessExpired = true
		c.dispatch(evTimeout, nil)
	})
}
