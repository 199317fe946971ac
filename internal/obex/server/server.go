// Package server implements the responding side of an OBEX connection.
//
// A Session is the server control block of one transport. Peer requests
// arrive through Receive and are handed to the application as indication
// events; the application answers each with the matching response method
// (ConnectResponse, PutResponse, ...). Requests the current state cannot
// take are answered ServiceUnavailable without reaching the application,
// and malformed packets are answered BadRequest. Like the client, a
// Session is not safe for concurrent use and is driven from one event loop.
package server

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/auth"
	"github.com/marmos91/obexd/internal/obex/digest"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/link"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/sched"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/srm"
	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/pkg/metrics"
)

const role = "server"

var (
	// ErrProtocol is the cause of a close forced by unparseable framing.
	ErrProtocol = errors.New("server: protocol error")

	// ErrWaitClose is the cause of a close after the peer neither
	// reconnected nor ended its session following a Disconnect.
	ErrWaitClose = errors.New("server: wait-close timeout")
)

const (
	// DefaultConnectionID is assigned when Options.ConnectionID is zero.
	DefaultConnectionID uint32 = 1

	// DefaultSessionTimeout is the suspend timeout, in seconds, granted to
	// peers that do not propose one.
	DefaultSessionTimeout uint32 = 60

	DefaultWaitCloseTimeout = 5 * time.Second
)

// Options configures a Session.
type Options struct {
	// MTU is the largest packet this side accepts. Zero uses DefaultMTU.
	MTU uint16

	// SRM allows single response mode.
	SRM bool

	// Targets lists the Target header values this server answers. With
	// none the server is the default (inbox) service and accepts requests
	// without a Target.
	Targets [][]byte

	// Password enables authentication with a fixed password. With Auth
	// set and no Password the application is asked through
	// PasswordRequired events.
	Password []byte
	Auth     bool

	Realm          []byte
	UserIDRequired bool
	ReadOnly       bool

	// UserID is sent when answering a challenge from the client.
	UserID []byte

	ConnectionID uint32

	// Sessions is the suspended session table. Servers sharing a table
	// can resume each other's sessions.
	Sessions *session.Table

	// SessionTimeout is granted to sessions created without a proposal.
	SessionTimeout uint32

	// WaitCloseTimeout bounds the wait after a Disconnect while a reliable
	// session is active.
	WaitCloseTimeout time.Duration

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
	if o.ConnectionID == 0 {
		o.ConnectionID = DefaultConnectionID
	}
	if o.SessionTimeout == 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
	if o.WaitCloseTimeout <= 0 {
		o.WaitCloseTimeout = DefaultWaitCloseTimeout
	}
	if o.Scheduler == nil {
		o.Scheduler = sched.Wall{}
	}
	if o.Nonces == nil {
		o.Nonces = digest.NewNonceSource()
	}
	if o.Sessions == nil {
		o.Sessions = session.NewTable(4, session.WithScheduler(o.Scheduler))
	}
}

func (o *Options) authRequired() bool { return o.Auth || o.Password != nil }

// password carries a Password call into the dispatcher.
type password struct {
	secret []byte
	userID []byte
}

// Session is one server connection.
type Session struct {
	opts Options
	ctx  context.Context
	link *link.Link
	sink event.Sink

	state State
	prev  State

	partialNext State
	// deferred holds requests received while a response was partially
	// sent.
	deferred []*packet.Packet
	// abortPending delays the Abort indication until the fabricated
	// response to the aborted request has left.
	abortPending bool

	// curOp is the operation whose response is pending.
	curOp    types.Opcode
	curFinal bool
	// owed means the peer waits for a response to the indicated packet.
	// It is false for streamed Put packets and for Get responses the
	// server produces on its own while streaming.
	owed bool
	// rsp is the status of the response being dispatched. Responses that
	// never reach the wire are dispatched without a packet.
	rsp types.Status
	// srmOffered means the response being dispatched carries SRM Enable.
	srmOffered bool

	putBody  bool
	backlog  []*packet.Packet
	getMerge []byte

	srm *srm.Controller
	// srmKick means the next streamed Get response is held until the peer
	// lifts its wait.
	srmKick bool

	target    []byte
	connID    uint32
	hasConnID bool
	peerMTU   uint16

	sess       session.Info
	sessOp     types.SessionOp
	sessPrev   State
	sessParams session.Params
	// suspending is set between a Suspend indication and its response.
	suspending  bool
	closeStored bool
	created     *session.Info
	resumeEntry session.Entry
	resumeAt    session.Progress

	challenge     *auth.Challenge
	peerChallenge *auth.Challenge
	// pendingAuth is a response waiting for the application's password.
	pendingAuth *auth.Response
	heldConnect *packet.Packet
	answer      *password
	answerPass  []byte
	answerUser  []byte

	waitTimer *sched.Single

	closeErr error
	closed   bool

	later []func()
	depth int
}

// New creates a server session on an accepted transport. Events go to
// sink.
func New(tr transport.Transport, sink event.Sink, opts Options) *Session {
	opts.normalize()
	if sink == nil {
		sink = func(e event.Event) { e.Release() }
	}
	lc := logger.NewLogContext(role, tr.PeerAddr().String())
	s := &Session{
		opts:      opts,
		ctx:       logger.WithContext(context.Background(), lc),
		link:      link.New(tr, int(opts.MTU)),
		sink:      sink,
		srm:       srm.New(opts.SRM),
		waitTimer: sched.NewSingle(opts.Scheduler),
	}
	s.sess.LocalAddr = tr.LocalAddr()
	s.sess.PeerAddr = tr.PeerAddr()
	if opts.Password != nil {
		s.answerPass = opts.Password
		s.answerUser = opts.UserID
	}
	return s
}

// Handler adapts the session to transport notifications.
func (s *Session) Handler() transport.Handler {
	return transport.HandlerFuncs{
		Data:    s.Receive,
		TxEmpty: s.TxEmpty,
		Flow: func(on bool) {
			if on {
				s.FlowOn()
			}
		},
		Closed: s.TransportClosed,
	}
}

func (s *Session) State() State { return s.state }

// Session returns a copy of the reliable session block.
func (s *Session) Session() session.Info { return s.sess }

func (s *Session) SRMFlags() srm.Flags { return s.srm.Flags() }

// ConnectionID returns the Connection-ID handed to the client.
func (s *Session) ConnectionID() (uint32, bool) { return s.connID, s.hasConnID }

// Target returns the Target the client connected to, nil for the inbox.
func (s *Session) Target() []byte { return s.target }

// PeerMTU returns the largest packet the client accepts.
func (s *Session) PeerMTU() uint16 { return s.peerMTU }

// NewPacket allocates a response packet sized for the connection.
func (s *Session) NewPacket() *packet.Packet {
	return packet.New(int(s.sendMTU()))
}

func (s *Session) sendMTU() uint16 {
	if s.peerMTU >= types.MinMTU {
		return s.peerMTU
	}
	return types.MinMTU
}

// =============================================================================
// Transport inputs
// =============================================================================

// Receive feeds bytes read from the transport.
func (s *Session) Receive(b []byte) {
	if s.closed {
		return
	}
	pkts, err := s.link.Feed(b)
	for _, p := range pkts {
		s.handleRequest(p)
	}
	if err != nil {
		logger.WarnCtx(s.ctx, "Invalid request framing", logger.KeyError, err)
		s.dispatch(evProtoErr, nil)
	}
}

func (s *Session) TxEmpty() { s.dispatch(evTxEmpty, nil) }

func (s *Session) FlowOn() { s.dispatch(evFlowOn, nil) }

// TransportClosed reports that the peer or the link closed the transport.
func (s *Session) TransportClosed(err error) {
	if s.closed {
		return
	}
	if err == nil {
		err = transport.ErrClosed
	}
	s.closeErr = err
	s.dispatch(evPortClose, nil)
}

// Timeout fires the wait-close timer immediately.
func (s *Session) Timeout() { s.dispatch(evTimeout, nil) }

// Close tears the connection down locally. An active reliable session is
// suspended as if the link dropped. The Close event is delivered.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	err := s.link.Close()
	s.closeErr = transport.ErrClosed
	s.dispatch(evPortClose, nil)
	return err
}

var requestEvents = map[types.Opcode]evt{
	types.OpConnect:    evConnectReq,
	types.OpSession:    evSessionReq,
	types.OpDisconnect: evDisconnectReq,
	types.OpPut:        evPutReq,
	types.OpGet:        evGetReq,
	types.OpSetPath:    evSetPathReq,
	types.OpAction:     evActionReq,
	types.OpAbort:      evAbortReq,
}

// handleRequest screens one request and dispatches it. Rejected requests
// never reach the application.
func (s *Session) handleRequest(p *packet.Packet) {
	if s.state == PartialSent {
		s.deferred = append(s.deferred, p)
		return
	}

	op := types.Opcode(p.Code())
	e, known := requestEvents[op.Base()]
	if !known {
		logger.DebugCtx(s.ctx, "Unknown opcode", logger.Opcode(op))
		s.rejectNow(e, p, types.StatusNotImplemented)
		return
	}
	metrics.RecordRequest(s.opts.Metrics, role, op.Base().String())

	if err := validate(p); err != nil {
		logger.WarnCtx(s.ctx, "Malformed request", logger.Opcode(op), logger.KeyError, err)
		s.rejectNow(e, p, types.StatusBadRequest)
		return
	}
	// The sequence number is consumed before the addressing checks below,
	// so a request refused for its Connection-ID or Target still advances
	// the SSN in step with the client.
	if op.Base() != types.OpSession && s.sess.Active() {
		if st, ok := s.checkSequence(p); !ok {
			s.rejectNow(e, p, st)
			return
		}
	}
	if header.Has(p, types.HdrConnectionID) && header.Has(p, types.HdrTarget) {
		logger.WarnCtx(s.ctx, "Request carries both Connection-ID and Target", logger.Opcode(op))
		s.rejectNow(e, p, types.StatusBadRequest)
		return
	}
	if op != types.OpConnect && op.Base() != types.OpSession && !s.verifyTarget(p) {
		s.rejectNow(e, p, types.StatusServiceUnavailable)
		return
	}
	s.dispatch(e, p)
}

func (s *Session) checkSequence(p *packet.Packet) (types.Status, bool) {
	got, ok := header.FindUint8(p, types.HdrSessionSeqNum)
	if !ok {
		logger.WarnCtx(s.ctx, "Request without session sequence number", logger.KeySSN, s.sess.SSN)
		return types.StatusBadRequest, false
	}
	switch session.ValidateSequence(s.sess.SSN, got, s.sess.DropSuspended) {
	case session.SeqNew:
		s.sess.SSN++
		s.sess.DropSuspended = false
	case session.SeqRetry:
		logger.DebugCtx(s.ctx, "Retransmitted request after link drop", logger.KeySSN, got)
	default:
		logger.WarnCtx(s.ctx, "Session sequence mismatch", logger.KeySSN, got, "expected", s.sess.SSN)
		return types.StatusBadRequest, false
	}
	return 0, true
}

// verifyTarget checks that a request is addressed to this connection: a
// Connection-ID must be the one handed out and a Target must be
// registered. A server with registered Targets refuses the first packet of
// an operation that names neither.
func (s *Session) verifyTarget(p *packet.Packet) bool {
	if id, ok := header.FindUint32(p, types.HdrConnectionID); ok {
		if !s.hasConnID || id != s.connID {
			logger.DebugCtx(s.ctx, "Connection-ID mismatch", logger.ConnectionID(id))
			return false
		}
		return true
	}
	if h, ok := header.Find(p, types.HdrTarget); ok {
		_, known := s.matchTarget(h.Value)
		return known
	}
	if len(s.opts.Targets) == 0 || s.state != Connected {
		return true
	}
	logger.DebugCtx(s.ctx, "Request without Connection-ID to a directed server")
	return false
}

// matchTarget looks a Target value up. A targetless server answers
// requests without a Target.
func (s *Session) matchTarget(t []byte) ([]byte, bool) {
	if t == nil {
		return nil, len(s.opts.Targets) == 0
	}
	for _, known := range s.opts.Targets {
		if bytes.Equal(known, t) {
			return known, true
		}
	}
	return nil, false
}

// =============================================================================
// Dispatch
// =============================================================================

// dispatch runs one transition. Peer requests the state has no entry for
// are answered ServiceUnavailable; other unlisted events are ignored.
func (s *Session) dispatch(e evt, p *packet.Packet) {
	ent, ok := lookup(s.state, e)
	if !ok {
		if e.request() {
			logger.DebugCtx(s.ctx, "Request not allowed in state", logger.State(s.state), logger.Event(e))
			s.rejectNow(e, p, types.StatusServiceUnavailable)
			return
		}
		logger.DebugCtx(s.ctx, "Event ignored", logger.State(s.state), logger.Event(e))
		p.Release()
		return
	}
	s.run(e, func() State {
		next := ent.act(s, p, ent.next)
		if next == candidate {
			next = ent.next
		}
		return next
	})
}

// run executes a transition and flushes deferred work once the outermost
// transition completes, so a Sink may call back into the session.
func (s *Session) run(e evt, f func() State) {
	s.depth++
	from := s.state
	next := f()
	if next == stay {
		next = from
	}
	if next != from {
		if next == PartialSent {
			s.prev = from
		}
		logger.DebugCtx(s.ctx, "Server transition",
			logger.State(from), logger.KeyNextState, next.String(), logger.Event(e))
	}
	s.state = next
	s.depth--

	if s.depth == 0 {
		s.flush()
	}
}

// rejectNow answers a request outside of any table entry.
func (s *Session) rejectNow(e evt, p *packet.Packet, st types.Status) {
	s.run(e, func() State { return s.reject(p, st) })
}

func (s *Session) runLater(f func()) { s.later = append(s.later, f) }

func (s *Session) emit(ev event.Event) {
	s.runLater(func() { s.sink(ev) })
}

func (s *Session) flush() {
	for len(s.later) > 0 {
		f := s.later[0]
		s.later = s.later[1:]
		f()
	}
}

func (s *Session) armWaitClose() {
	s.waitTimer.Arm(s.opts.WaitCloseTimeout, s.Timeout)
}
