package server

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/auth"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/pkg/metrics"
)

func validate(p *packet.Packet) error {
	if p.Kind().HeadersStart() > p.Len() {
		return fmt.Errorf("%w: %d byte %s", packet.ErrMalformed, p.Len(), p.Kind())
	}
	return header.Validate(p)
}

func final(p *packet.Packet) bool { return types.Opcode(p.Code()).Final() }

// =============================================================================
// Sending
// =============================================================================

// build prepends the given headers in order and frames p as a response to
// op. The size is checked against the client's MTU first, so a failure
// leaves the packet untouched.
func (s *Session) build(p *packet.Packet, op types.Opcode, code types.Status, fixed []byte, hs ...header.Header) error {
	size := p.Len() + types.PacketPrefixSize + len(fixed)
	for _, h := range hs {
		size += h.Size()
	}
	if size > int(s.sendMTU()) {
		return fmt.Errorf("%w: %s response of %d bytes exceeds MTU %d", packet.ErrTooLarge, op, size, s.sendMTU())
	}
	for i := len(hs) - 1; i >= 0; i-- {
		if err := header.Prepend(p, hs[i]); err != nil {
			return err
		}
	}
	p.SetKind(types.ResponseKind(op))
	return p.Frame(uint8(code), fixed...)
}

// newResponse builds an engine generated response.
func (s *Session) newResponse(op types.Opcode, code types.Status, hs ...header.Header) *packet.Packet {
	p := packet.New(int(types.MinMTU))
	var fixed []byte
	if op == types.OpConnect {
		fixed = s.connectFixed()
	}
	if err := s.build(p, op, code, fixed, hs...); err != nil {
		logger.WarnCtx(s.ctx, "Cannot build response", logger.Opcode(op), logger.KeyError, err)
		p.Release()
		return nil
	}
	return p
}

func (s *Session) connectFixed() []byte {
	fixed := make([]byte, 4)
	fixed[0] = types.Version
	binary.BigEndian.PutUint16(fixed[2:], s.opts.MTU)
	return fixed
}

// respond hands a framed response to the link. When the transport takes
// only part of it the session parks in PartialSent until the rest drains.
// A nil packet sends nothing.
func (s *Session) respond(p *packet.Packet, next State) State {
	if next == stay {
		next = s.state
	}
	if p == nil {
		return next
	}
	st := types.Status(p.Code())
	metrics.RecordResponse(s.opts.Metrics, role, p.Kind().Op.Base().String(), st.String())
	logger.DebugCtx(s.ctx, "Sending response", logger.Status(st), logger.KeyLength, p.Len())

	complete, err := s.link.Send(p)
	if err != nil {
		logger.WarnCtx(s.ctx, "Transport send failed", logger.Status(st), logger.KeyError, err)
		s.closeErr = err
		s.runLater(func() { s.dispatch(evPortClose, nil) })
		return next
	}
	if !complete {
		s.partialNext = next
		metrics.RecordPartialSend(s.opts.Metrics, role)
		return PartialSent
	}
	return next
}

// reject answers a request the application never sees and leaves the
// state as it is.
func (s *Session) reject(p *packet.Packet, st types.Status) State {
	op := types.Opcode(p.Code())
	p.Release()
	return s.respond(s.newResponse(op, st), stay)
}

func (s *Session) actResume(_ *packet.Packet, _ State) State {
	complete, err := s.link.Resume()
	if err != nil {
		s.closeErr = err
		s.runLater(func() { s.dispatch(evPortClose, nil) })
		return stay
	}
	if !complete {
		return stay
	}
	next := s.partialNext
	if s.abortPending {
		s.abortPending = false
		s.emit(event.Event{Kind: event.Abort, Indication: true, Final: true})
	}
	if next == GetSrm {
		s.runLater(s.kick)
	}
	s.runLater(s.drain)
	return next
}

// drain feeds held requests back in arrival order: streamed Put packets
// first, then requests that arrived during a partial send.
func (s *Session) drain() {
	for !s.closed && s.state != PartialSent {
		switch {
		case len(s.backlog) > 0 && (s.state == PutSrm || s.state == PutTransaction):
			p := s.backlog[0]
			s.backlog = s.backlog[1:]
			s.dispatch(evPutReq, p)
		case len(s.deferred) > 0:
			p := s.deferred[0]
			s.deferred = s.deferred[1:]
			s.handleRequest(p)
		default:
			return
		}
	}
}

func (s *Session) kick() { s.dispatch(evSrmNext, nil) }

func (s *Session) countBody(p *packet.Packet, dir string) {
	body, _, ok := header.ReadBody(p)
	if !ok {
		return
	}
	s.sess.Offset += uint32(len(body))
	metrics.RecordBodyBytes(s.opts.Metrics, role, dir, len(body))
	if s.opts.Progress && len(body) > 0 {
		s.emit(event.Event{Kind: event.Progress, Bytes: int(s.sess.Offset)})
	}
}

// =============================================================================
// Connect and authentication
// =============================================================================

func (s *Session) actConnectInd(p *packet.Packet, cand State) State {
	fixed := p.Fixed()
	mtu := binary.BigEndian.Uint16(fixed[2:4])
	if mtu < types.MinMTU {
		logger.WarnCtx(s.ctx, "Client announced MTU below minimum", logger.KeyMTU, mtu)
		return s.reject(p, types.StatusNotAcceptable)
	}
	var t []byte
	if h, ok := header.Find(p, types.HdrTarget); ok {
		t = h.Value
	}
	target, ok := s.matchTarget(t)
	if !ok {
		logger.InfoCtx(s.ctx, "Connect to unknown target", logger.Target(t))
		return s.reject(p, types.StatusServiceUnavailable)
	}
	s.waitTimer.Stop()
	s.peerMTU = mtu
	s.target = target
	s.curOp = types.OpConnect

	if ch, found, err := auth.FindChallenge(p); found && err == nil {
		s.peerChallenge = &ch
	}

	if s.opts.authRequired() {
		rsp, found, err := auth.FindResponse(p)
		if !found || err != nil || s.challenge == nil {
			p.Release()
			return s.sendChallenge()
		}
		if s.opts.Password == nil {
			s.pendingAuth = &rsp
			s.heldConnect = p
			s.emit(event.Event{Kind: event.PasswordRequired, Indication: true, UserID: rsp.UserID})
			return AuthIndicated
		}
		if !s.verify(s.opts.Password, rsp) {
			p.Release()
			return s.refuse()
		}
	}

	if s.peerChallenge != nil && s.answerPass == nil {
		s.heldConnect = p
		s.emit(event.Event{
			Kind:           event.PasswordRequired,
			Indication:     true,
			Realm:          s.peerChallenge.Realm,
			UserIDRequired: s.peerChallenge.UserIDRequired,
		})
		return AuthIndicated
	}

	s.emit(event.Event{Kind: event.Connect, Indication: true, Final: true, MTU: mtu, Packet: p})
	return cand
}

// sendChallenge answers Unauthorized with a fresh challenge.
func (s *Session) sendChallenge() State {
	s.challenge = &auth.Challenge{
		Nonce:          s.opts.Nonces.Nonce(),
		UserIDRequired: s.opts.UserIDRequired,
		ReadOnly:       s.opts.ReadOnly,
		Realm:          s.opts.Realm,
	}
	h, err := s.challenge.Header()
	if err != nil {
		logger.WarnCtx(s.ctx, "Cannot encode challenge", logger.KeyError, err)
		s.challenge = nil
		return s.respond(s.newResponse(types.OpConnect, types.StatusInternalServerError), NotConnected)
	}
	logger.DebugCtx(s.ctx, "Challenging client")
	return s.respond(s.newResponse(types.OpConnect, types.StatusUnauthorized, h), WaitAuth)
}

func (s *Session) verify(secret []byte, rsp auth.Response) bool {
	err := auth.Verify(*s.challenge, secret, rsp)
	s.challenge = nil
	metrics.RecordAuth(s.opts.Metrics, role, err == nil)
	if err != nil {
		logger.InfoCtx(s.ctx, "Client failed authentication", logger.KeyError, err)
		return false
	}
	return true
}

// refuse ends the connect attempt with Unauthorized.
func (s *Session) refuse() State {
	s.resetConnection()
	return s.respond(s.newResponse(types.OpConnect, types.StatusUnauthorized), NotConnected)
}

func (s *Session) actPassword(_ *packet.Packet, cand State) State {
	a := s.answer
	s.answer = nil
	p := s.heldConnect
	s.heldConnect = nil

	if a == nil || a.secret == nil {
		p.Release()
		return s.refuse()
	}
	if s.pendingAuth != nil {
		rsp := *s.pendingAuth
		s.pendingAuth = nil
		if !s.verify(a.secret, rsp) {
			p.Release()
			return s.refuse()
		}
	}
	if s.peerChallenge != nil && s.answerPass == nil {
		s.answerPass, s.answerUser = a.secret, a.userID
	}
	s.emit(event.Event{Kind: event.Connect, Indication: true, Final: true, MTU: s.peerMTU, Packet: p})
	return cand
}

func (s *Session) actConnectRsp(p *packet.Packet, _ State) State {
	if !s.rsp.IsSuccess() {
		logger.InfoCtx(s.ctx, "Connect refused", logger.Status(s.rsp))
		s.resetConnection()
		return s.respond(p, NotConnected)
	}
	s.connID, s.hasConnID = s.opts.ConnectionID, true
	s.ctx = logger.WithContext(s.ctx, logger.FromContext(s.ctx).WithConnectionID(s.connID))
	s.challenge, s.peerChallenge = nil, nil
	logger.InfoCtx(s.ctx, "Connected", logger.KeyMTU, s.peerMTU, logger.Target(s.target))
	return s.respond(p, Connected)
}

// =============================================================================
// Put
// =============================================================================

func (s *Session) actPutInd(p *packet.Packet, cand State) State {
	if s.state == Connected {
		s.curOp = types.OpPut
		s.putBody = false
		s.sess.Offset = 0
		if v, ok := header.FindUint8(p, types.HdrSRM); ok {
			s.srm.PeerRequested(v)
		}
	}
	isFinal := final(p)
	noData := s.sess.Offset == 0 && !s.putBody
	body, end, hasBody := header.ReadBody(p)
	s.putBody = s.putBody || hasBody
	s.countBody(p, "rx")

	s.curFinal = isFinal
	s.owed = isFinal || !s.srm.Engaged()
	s.emit(event.Event{
		Kind:        event.Put,
		Indication:  true,
		Final:       isFinal,
		Packet:      p,
		Delete:      isFinal && !s.putBody,
		CreateEmpty: isFinal && noData && hasBody && end && len(body) == 0,
	})
	return cand
}

// actPutBacklog keeps Put packets streamed while the application still
// holds the previous one.
func (s *Session) actPutBacklog(p *packet.Packet, _ State) State {
	if !s.srm.Engaged() {
		return s.reject(p, types.StatusServiceUnavailable)
	}
	s.backlog = append(s.backlog, p)
	return stay
}

func (s *Session) actPutRsp(p *packet.Packet, _ State) State {
	st := s.rsp
	if st.Class() == types.ClassContinue {
		wasEngaged := s.srm.Engaged()
		engaged := s.srm.Confirm(st, types.SRMEnable, s.srmOffered)
		s.srmOffered = false
		if engaged && !wasEngaged {
			metrics.RecordSRMEngaged(s.opts.Metrics, role)
			logger.DebugCtx(s.ctx, "SRM engaged", logger.Opcode(types.OpPut))
		}
		s.owed = false
		next := PutTransaction
		if engaged {
			next = PutSrm
		}
		s.runLater(s.drain)
		return s.respond(p, next)
	}

	s.srm.Observe(st)
	s.srmOffered = false
	s.owed = false
	s.dropBacklog()
	return s.respond(p, Connected)
}

func (s *Session) dropBacklog() {
	for _, p := range s.backlog {
		p.Release()
	}
	s.backlog = nil
}

// =============================================================================
// Get
// =============================================================================

func (s *Session) actGetInd(p *packet.Packet, cand State) State {
	if s.state == Connected {
		s.curOp = types.OpGet
		s.sess.Offset = 0
		s.getMerge = nil
		if v, ok := header.FindUint8(p, types.HdrSRM); ok {
			s.srm.PeerRequested(v)
		}
	}
	s.srm.Param(header.FindUint8(p, types.HdrSRMParam))

	if !final(p) {
		s.getMerge = append(s.getMerge, p.Headers()...)
		p.Release()
		logger.DebugCtx(s.ctx, "Merged non-final Get", logger.KeyLength, len(s.getMerge))
		return s.respond(s.newResponse(types.OpGet, types.StatusContinue), GetTransaction)
	}

	if s.getMerge != nil {
		merged, err := s.mergeGet(p)
		if err != nil {
			logger.WarnCtx(s.ctx, "Merged Get too large", logger.KeyError, err)
			s.getMerge = nil
			p.Release()
			return s.respond(s.newResponse(types.OpGet, types.StatusRequestEntityTooLarge), Connected)
		}
		p.Release()
		p = merged
	}

	s.curFinal = true
	s.owed = true
	s.emit(event.Event{Kind: event.Get, Indication: true, Final: true, Packet: p})
	return cand
}

// mergeGet joins the headers of earlier non-final Get packets with the
// final one into a single request.
func (s *Session) mergeGet(p *packet.Packet) (*packet.Packet, error) {
	hs := p.Headers()
	n := len(s.getMerge) + len(hs)
	if n+types.PacketPrefixSize > int(types.MaxMTU) {
		return nil, fmt.Errorf("%w: %d bytes", packet.ErrTooLarge, n+types.PacketPrefixSize)
	}
	m := packet.New(n + packet.Headroom)
	if err := m.Append(s.getMerge); err != nil {
		m.Release()
		return nil, err
	}
	if err := m.Append(hs); err != nil {
		m.Release()
		return nil, err
	}
	s.getMerge = nil
	m.SetKind(types.RequestKind(types.OpGetFinal))
	if err := m.Frame(uint8(types.OpGetFinal)); err != nil {
		m.Release()
		return nil, err
	}
	return m, nil
}

func (s *Session) actGetRsp(p *packet.Packet, _ State) State {
	st := s.rsp
	s.countBody(p, "tx")
	s.owed = false
	if st.Class() == types.ClassContinue {
		wasEngaged := s.srm.Engaged()
		engaged := s.srm.Confirm(st, types.SRMEnable, s.srmOffered)
		s.srmOffered = false
		if !engaged {
			return s.respond(p, GetTransaction)
		}
		if !wasEngaged {
			metrics.RecordSRMEngaged(s.opts.Metrics, role)
			logger.DebugCtx(s.ctx, "SRM engaged", logger.Opcode(types.OpGet))
		}
		s.runLater(s.kick)
		return s.respond(p, GetSrm)
	}
	s.srm.Observe(st)
	s.srmOffered = false
	return s.respond(p, Connected)
}

// actSrmGetNext asks the application for the next streamed response once
// the peer allows it and the transport has room.
func (s *Session) actSrmGetNext(_ *packet.Packet, cand State) State {
	if s.srm.WaitingPeer() {
		s.srmKick = true
		return stay
	}
	if s.link.Congested() || s.link.Pending() > 0 {
		s.srm.SetDeferred(true)
		return stay
	}
	s.srm.SetDeferred(false)
	s.srmKick = false
	s.curFinal = true
	s.owed = false
	s.emit(event.Event{Kind: event.Get, Indication: true, Final: true})
	return cand
}

// actSrmGetCtl handles a Get received while streaming. It only carries
// SRM-Parameters: a wait pauses the stream, its absence resumes it.
func (s *Session) actSrmGetCtl(p *packet.Packet, _ State) State {
	if !s.srm.Engaged() {
		return s.reject(p, types.StatusServiceUnavailable)
	}
	s.srm.Param(header.FindUint8(p, types.HdrSRMParam))
	p.Release()
	if s.srmKick && !s.srm.WaitingPeer() && s.state == GetSrm {
		s.srmKick = false
		s.runLater(s.kick)
	}
	return stay
}

// =============================================================================
// Abort, SetPath, Action and Disconnect
// =============================================================================

// actAbortInd answers a request the application has not responded to yet
// before indicating the Abort, so the client never sees an orphaned
// exchange.
func (s *Session) actAbortInd(p *packet.Packet, cand State) State {
	p.Release()
	next := cand
	if (s.state == PutIndicated || s.state == GetIndicated) && s.owed {
		code := types.StatusInternalServerError
		if s.curFinal {
			code = types.StatusOK
		}
		logger.DebugCtx(s.ctx, "Answering aborted request", logger.Opcode(s.curOp), logger.Status(code))
		next = s.respond(s.newResponse(s.curOp, code), cand)
	}
	s.owed = false
	s.srm.BeginAbort()
	s.dropBacklog()
	s.getMerge = nil
	s.curOp = types.OpAbort
	if next == PartialSent {
		s.abortPending = true
		return next
	}
	s.emit(event.Event{Kind: event.Abort, Indication: true, Final: true})
	return next
}

func (s *Session) actAbortRsp(p *packet.Packet, cand State) State {
	s.srm.Reset()
	s.srmKick = false
	s.curOp = 0
	return s.respond(p, cand)
}

func (s *Session) actSetPathInd(p *packet.Packet, cand State) State {
	s.curOp = types.OpSetPath
	s.emit(event.Event{
		Kind:         event.SetPath,
		Indication:   true,
		Final:        true,
		SetPathFlags: p.Fixed()[0],
		Packet:       p,
	})
	return cand
}

func (s *Session) actActionInd(p *packet.Packet, cand State) State {
	if !final(p) {
		logger.WarnCtx(s.ctx, "Non-final Action request")
		return s.reject(p, types.StatusBadRequest)
	}
	id, ok := header.FindUint8(p, types.HdrActionID)
	if !ok || !validAction(types.ActionID(id), p) {
		return s.reject(p, types.StatusBadRequest)
	}
	s.curOp = types.OpAction
	s.emit(event.Event{
		Kind:       event.Action,
		Indication: true,
		Final:      true,
		ActionID:   types.ActionID(id),
		Packet:     p,
	})
	return cand
}

func validAction(id types.ActionID, p *packet.Packet) bool {
	if !header.Has(p, types.HdrName) {
		return false
	}
	switch id {
	case types.ActionCopy, types.ActionMove:
		return header.Has(p, types.HdrDestName)
	case types.ActionSetPermissions:
		return header.Has(p, types.HdrPermissions)
	}
	return false
}

// actSimpleRsp answers SetPath and Action.
func (s *Session) actSimpleRsp(p *packet.Packet, cand State) State {
	return s.respond(p, cand)
}

func (s *Session) actDisconnectInd(p *packet.Packet, cand State) State {
	s.curOp = types.OpDisconnect
	s.dropBacklog()
	s.emit(event.Event{Kind: event.Disconnect, Indication: true, Final: true, Packet: p})
	return cand
}

// actDisconnectRsp ends the connection. An active reliable session keeps
// the transport open for a while so the client can still suspend or close
// it.
func (s *Session) actDisconnectRsp(p *packet.Packet, _ State) State {
	s.resetConnection()
	logger.InfoCtx(s.ctx, "Disconnected", logger.Status(s.rsp))
	if s.sess.Active() {
		s.armWaitClose()
		return s.respond(p, WaitClose)
	}
	return s.respond(p, NotConnected)
}

func (s *Session) actWaitCloseExpired(_ *packet.Packet, cand State) State {
	logger.InfoCtx(s.ctx, "No session request after disconnect, closing")
	_ = s.link.Close()
	s.closeErr = ErrWaitClose
	s.closeDown(true)
	return cand
}

// =============================================================================
// Failures
// =============================================================================

func (s *Session) actProtoErr(p *packet.Packet, cand State) State {
	p.Release()
	if s.closed {
		return cand
	}
	_ = s.link.Close()
	s.closeErr = ErrProtocol
	s.closeDown(false)
	return cand
}

func (s *Session) actPortClose(_ *packet.Packet, cand State) State {
	s.closeDown(true)
	return cand
}

// closeDown releases everything tied to the transport and delivers the
// single Close event. A link lost while a reliable session is active
// suspends the session into the table so the client can resume it on a
// new transport.
func (s *Session) closeDown(linkLost bool) {
	if s.closed {
		return
	}
	s.closed = true
	s.waitTimer.Stop()

	if linkLost && s.sess.Active() {
		s.sess.DropSuspended = true
		s.suspend(s.state)
		logger.InfoCtx(s.ctx, "Session suspended by link loss")
	}

	s.link.Reset()
	for _, p := range s.deferred {
		p.Release()
	}
	s.deferred = nil
	s.heldConnect.Release()
	s.heldConnect = nil
	s.resetConnection()

	logger.InfoCtx(s.ctx, "Connection closed", logger.KeyError, s.closeErr)
	s.emit(event.Event{Kind: event.Close, Err: s.closeErr})
}

// resetConnection clears the per-connection block. The reliable session
// survives.
func (s *Session) resetConnection() {
	s.connID, s.hasConnID = 0, false
	s.target = nil
	s.peerMTU = 0
	s.srm.Reset()
	s.srmKick, s.srmOffered = false, false
	s.dropBacklog()
	s.getMerge = nil
	s.owed, s.abortPending = false, false
	s.challenge, s.peerChallenge, s.pendingAuth = nil, nil, nil
	if s.opts.Password == nil {
		s.answerPass, s.answerUser = nil, nil
	}
}
