package client

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/auth"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/srm"
	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/pkg/metrics"
)

func validate(p *packet.Packet) error {
	if p.Kind().HeadersStart() > p.Len() {
		return fmt.Errorf("%w: %d byte %s", packet.ErrMalformed, p.Len(), p.Kind())
	}
	return header.Validate(p)
}

func status(p *packet.Packet) types.Status { return types.Status(p.Code()) }

// =============================================================================
// Sending
// =============================================================================

// send hands a framed request to the link. When the transport takes only
// part of it the client parks in PartialSent until the rest drains.
func (c *Client) send(p *packet.Packet, next State) State {
	op := types.Opcode(p.Code())
	c.pendingOp = op.Base()
	metrics.RecordRequest(c.opts.Metrics, role, c.pendingOp.String())
	logger.DebugCtx(c.ctx, "Sending request", logger.Opcode(op), logger.KeyLength, p.Len())

	complete, err := c.link.Send(p)
	if err != nil {
		logger.WarnCtx(c.ctx, "Transport send failed", logger.Opcode(op), logger.KeyError, err)
		c.closeErr = err
		c.runLater(func() { c.dispatch(evPortClose, nil) })
		return next
	}
	if !complete {
		c.partialNext = next
		metrics.RecordPartialSend(c.opts.Metrics, role)
		return PartialSent
	}
	c.sent()
	return next
}

// sent runs once a request left completely.
func (c *Client) sent() {
	if !c.srmAuto {
		return
	}
	c.srmAuto = false
	if c.srm.WaitingPeer() {
		c.srmHeld = true
		return
	}
	c.grantPut()
}

// grantPut hands the application the credit for the next streamed Put.
func (c *Client) grantPut() {
	if c.srm.Grant() {
		c.emit(event.Event{Kind: event.Put, Status: types.StatusContinue})
	}
}

func (c *Client) actSend(p *packet.Packet, cand State) State {
	if types.Opcode(p.Code()) == types.OpConnect {
		c.last.Release()
		c.last = p.Clone()
	}
	return c.send(p, cand)
}

func (c *Client) actSessionReq(p *packet.Packet, cand State) State {
	c.sessPrev = c.state
	return c.send(p, cand)
}

func (c *Client) actResume(_ *packet.Packet, _ State) State {
	complete, err := c.link.Resume()
	if err != nil {
		c.closeErr = err
		c.runLater(func() { c.dispatch(evPortClose, nil) })
		return stay
	}
	if !complete {
		return stay
	}
	next := c.partialNext
	c.sent()
	c.runLater(c.drain)
	return next
}

// actQueue keeps one Abort or Disconnect until the partial send ends.
func (c *Client) actQueue(p *packet.Packet, _ State) State {
	if c.queued != nil {
		logger.DebugCtx(c.ctx, "Request already queued, dropping", logger.Opcode(types.Opcode(p.Code())))
		p.Release()
		return stay
	}
	e := evDisconnectReq
	if types.Opcode(p.Code()) == types.OpAbort {
		e = evAbortReq
	}
	c.queued = &queuedRequest{e: e, p: p}
	return stay
}

func (c *Client) actDefer(p *packet.Packet, _ State) State {
	c.deferred = append(c.deferred, p)
	return stay
}

// drain replays responses and the request that arrived during a partial
// send.
func (c *Client) drain() {
	for len(c.deferred) > 0 && c.state != PartialSent && !c.closed {
		p := c.deferred[0]
		c.deferred = c.deferred[1:]
		c.handleResponse(p)
	}
	q := c.queued
	if q == nil || c.state == PartialSent || c.closed {
		return
	}
	c.queued = nil
	if !c.accepts(q.e) {
		q.p.Release()
		if q.e == evAbortReq {
			c.emit(event.Event{Kind: event.Abort, Status: types.StatusOK})
		}
		return
	}
	c.dispatch(q.e, q.p)
}

// =============================================================================
// Connect and authentication
// =============================================================================

func (c *Client) actConnectCfm(p *packet.Packet, cand State) State {
	fixed := p.Fixed()
	if len(fixed) < 4 {
		return c.actProtoErr(p, NotConnected)
	}
	mtu := binary.BigEndian.Uint16(fixed[2:4])
	st := status(p)

	if st.IsSuccess() {
		if mtu < types.MinMTU {
			logger.WarnCtx(c.ctx, "Server announced MTU below minimum", logger.KeyMTU, mtu)
			return c.actProtoErr(p, NotConnected)
		}
		if c.mutual != nil {
			r, found, err := auth.FindResponse(p)
			if err == nil && found {
				err = auth.Verify(*c.mutual, c.mutualPass, r)
			} else if err == nil {
				err = auth.ErrMissingDigest
			}
			metrics.RecordAuth(c.opts.Metrics, role, err == nil)
			if err != nil {
				logger.WarnCtx(c.ctx, "Server failed mutual authentication", logger.KeyError, err)
				c.emit(event.Event{Kind: event.Connect, Status: types.StatusUnauthorized, Packet: p})
				c.teardown(ErrMutualAuth)
				return NotConnected
			}
		}
		c.peerMTU = mtu
		if id, ok := header.FindUint32(p, types.HdrConnectionID); ok {
			c.connID, c.hasConnID = id, true
			c.ctx = logger.WithContext(c.ctx, logger.FromContext(c.ctx).WithConnectionID(id))
		}
		c.finishAuth()
		logger.InfoCtx(c.ctx, "Connected", logger.KeyMTU, mtu)
		c.emit(event.Event{Kind: event.Connect, Status: st, MTU: mtu, Packet: p})
		return cand
	}

	if st == types.StatusUnauthorized && c.answer == nil {
		ch, found, err := auth.FindChallenge(p)
		if found && err == nil && c.last != nil {
			c.challenge = &ch
			c.emit(event.Event{
				Kind:           event.PasswordRequired,
				Realm:          ch.Realm,
				UserIDRequired: ch.UserIDRequired,
				Packet:         p,
			})
			return Unauthorized
		}
	}
	if c.answer != nil {
		metrics.RecordAuth(c.opts.Metrics, role, false)
	}

	logger.InfoCtx(c.ctx, "Connect refused", logger.Status(st))
	c.resetConnection()
	c.emit(event.Event{Kind: event.Connect, Status: st, MTU: mtu, Packet: p})
	return cand
}

func (c *Client) actAuthRsp(p *packet.Packet, cand State) State {
	if c.answer == nil || c.answer.cancel {
		p.Release()
		c.resetConnection()
		c.emit(event.Event{Kind: event.Connect, Status: types.StatusUnauthorized})
		return NotConnected
	}
	return c.send(p, cand)
}

func (c *Client) finishAuth() {
	c.last.Release()
	c.last = nil
	c.challenge = nil
	c.mutual = nil
	c.mutualPass = nil
	c.answer = nil
}

// =============================================================================
// Confirmations
// =============================================================================

func (c *Client) actDisconnectCfm(p *packet.Packet, cand State) State {
	c.resetConnection()
	logger.InfoCtx(c.ctx, "Disconnected", logger.Status(status(p)))
	c.emit(event.Event{Kind: event.Disconnect, Status: status(p), Packet: p})
	return cand
}

func (c *Client) actSimpleCfm(p *packet.Packet, cand State) State {
	kind := event.Action
	if c.pendingOp == types.OpSetPath {
		kind = event.SetPath
	}
	c.emit(event.Event{Kind: kind, Status: status(p), Packet: p})
	return cand
}

func (c *Client) actAbortCfm(p *packet.Packet, cand State) State {
	if c.abortDummy {
		c.abortDummy = false
		logger.DebugCtx(c.ctx, "Discarded response to aborted request", logger.Status(status(p)))
		p.Release()
		return stay
	}
	if status(p).Class() == types.ClassContinue {
		p.Release()
		return stay
	}
	c.srm.Reset()
	c.dropSrmQueue()
	c.emit(event.Event{Kind: event.Abort, Status: status(p), Packet: p})
	return cand
}

func (c *Client) actPutCfm(p *packet.Packet, cand State) State {
	st := status(p)
	if st.Class() == types.ClassContinue {
		wasEngaged := c.srm.Engaged()
		v, present := header.FindUint8(p, types.HdrSRM)
		engaged := c.srm.Confirm(st, v, present)
		c.srm.Param(header.FindUint8(p, types.HdrSRMParam))
		if engaged {
			if !wasEngaged {
				metrics.RecordSRMEngaged(c.opts.Metrics, role)
				logger.DebugCtx(c.ctx, "SRM engaged", logger.Opcode(types.OpPut))
			}
			if c.srm.WaitingPeer() {
				c.srmHeld = true
				p.Release()
			} else {
				c.srm.Grant()
				c.emit(event.Event{Kind: event.Put, Status: st, Packet: p})
			}
			return PutSrm
		}
		c.emit(event.Event{Kind: event.Put, Status: st, Packet: p})
		return cand
	}

	c.srm.Observe(st)
	c.srmAuto, c.srmHeld = false, false
	c.progress(int(c.sess.Offset))
	c.emit(event.Event{Kind: event.Put, Status: st, Packet: p})
	return cand
}

func (c *Client) actSrmPut(p *packet.Packet, cand State) State {
	c.srm.Consume()
	if types.Opcode(p.Code()).Final() {
		return c.send(p, PutReqSent)
	}
	c.srmAuto = true
	return c.send(p, cand)
}

// actSrmPutRsp handles a Continue received while streaming a Put. It only
// carries SRM-Parameters: a wait pauses the stream, its absence resumes it.
func (c *Client) actSrmPutRsp(p *packet.Packet, _ State) State {
	c.srm.Param(header.FindUint8(p, types.HdrSRMParam))
	p.Release()
	if c.srmHeld && !c.srm.WaitingPeer() {
		c.srmHeld = false
		c.grantPut()
	}
	return stay
}

func (c *Client) actGetCfm(p *packet.Packet, cand State) State {
	st := status(p)
	c.countBody(p)
	if st.Class() == types.ClassContinue {
		v, present := header.FindUint8(p, types.HdrSRM)
		if c.srm.Confirm(st, v, present) {
			metrics.RecordSRMEngaged(c.opts.Metrics, role)
			logger.DebugCtx(c.ctx, "SRM engaged", logger.Opcode(types.OpGet))
			c.srm.Grant()
			c.emit(event.Event{Kind: event.Get, Status: st, Packet: p})
			return GetSrm
		}
		c.emit(event.Event{Kind: event.Get, Status: st, Packet: p})
		return cand
	}
	c.srm.Observe(st)
	c.emit(event.Event{Kind: event.Get, Status: st, Packet: p})
	return cand
}

// actSrmGet returns the application's credit while a Get streams. A held
// response is delivered at once; a paused server is told to resume.
func (c *Client) actSrmGet(_ *packet.Packet, _ State) State {
	c.srm.Consume()
	if len(c.srmQueue) > 0 {
		q := c.srmQueue[0]
		c.srmQueue = c.srmQueue[1:]
		if next := c.deliverGet(q); next != stay {
			return next
		}
	}
	if c.srmWaitSent && len(c.srmQueue) < c.opts.SRMQueue {
		rp, err := c.srmGetPacket(false)
		if err != nil {
			logger.WarnCtx(c.ctx, "Failed to build SRM resume", logger.KeyError, err)
			return stay
		}
		c.srmWaitSent = false
		return c.send(rp, GetSrm)
	}
	return stay
}

func (c *Client) actSrmGetRsp(p *packet.Packet, _ State) State {
	if !c.srm.WaitingUpper() {
		return c.deliverGet(p)
	}
	c.srmQueue = append(c.srmQueue, p)
	if len(c.srmQueue) >= c.opts.SRMQueue && !c.srmWaitSent &&
		c.srm.Has(srm.ParamAllowed) && status(p).Class() == types.ClassContinue {
		wp, err := c.srmGetPacket(true)
		if err != nil {
			logger.WarnCtx(c.ctx, "Failed to build SRM wait", logger.KeyError, err)
			return stay
		}
		c.srmWaitSent = true
		logger.DebugCtx(c.ctx, "Asking server to wait", logger.KeyLength, len(c.srmQueue))
		return c.send(wp, GetSrm)
	}
	return stay
}

func (c *Client) deliverGet(p *packet.Packet) State {
	st := status(p)
	c.countBody(p)
	if st.Class() == types.ClassContinue {
		c.srm.Grant()
		c.emit(event.Event{Kind: event.Get, Status: st, Packet: p})
		return stay
	}
	c.srm.Observe(st)
	c.dropSrmQueue()
	c.emit(event.Event{Kind: event.Get, Status: st, Packet: p})
	return Connected
}

func (c *Client) countBody(p *packet.Packet) {
	body, _, ok := header.ReadBody(p)
	if !ok {
		return
	}
	c.sess.Offset += uint32(len(body))
	metrics.RecordBodyBytes(c.opts.Metrics, role, "rx", len(body))
	c.progress(int(c.sess.Offset))
}

func (c *Client) progress(n int) {
	if c.opts.Progress && n > 0 {
		c.emit(event.Event{Kind: event.Progress, Bytes: n})
	}
}

// =============================================================================
// Abort and disconnect
// =============================================================================

func (c *Client) actAbort(p *packet.Packet, cand State) State {
	c.abortDummy = c.state == PutReqSent || c.state == GetReqSent
	c.srm.BeginAbort()
	c.srmAuto, c.srmHeld = false, false
	c.dropSrmQueue()
	return c.send(p, cand)
}

func (c *Client) actDisconnect(p *packet.Packet, cand State) State {
	c.dropSrmQueue()
	c.srm.Reset()
	return c.send(p, cand)
}

// =============================================================================
// Sessions
// =============================================================================

func (c *Client) actSessionCfm(p *packet.Packet, _ State) State {
	st := status(p)
	op := c.sessOp
	params, _, perr := session.FindParams(p)
	ok := st.IsSuccess() && perr == nil
	if perr != nil {
		logger.WarnCtx(c.ctx, "Invalid session parameters", logger.KeyError, perr)
	}
	metrics.RecordSessionOp(c.opts.Metrics, role, op.String(), st.String())

	ev := event.Event{Kind: event.Session, SessionOp: op, Status: st, Packet: p}
	if st.IsSuccess() && !ok {
		ev.Status = types.StatusBadRequest
	}

	switch op {
	case types.SessOpCreate:
		if ok {
			ok = c.sessionCreated(params)
			if !ok {
				ev.Status = types.StatusBadRequest
			}
		}
		if !ok {
			c.sess.Reset()
			c.emit(ev)
			if cp := c.connectAfterSession; cp != nil {
				c.connectAfterSession = nil
				cp.Release()
				c.emit(event.Event{Kind: event.Connect, Status: ev.Status})
			}
			return c.sessPrev
		}
		logger.InfoCtx(c.ctx, "Session created", logger.SessionID(c.sess.ID[:]))
		c.emit(ev)
		if cp := c.connectAfterSession; cp != nil {
			c.connectAfterSession = nil
			if err := c.stampSSN(cp); err != nil {
				cp.Release()
				c.emit(event.Event{Kind: event.Connect, Status: types.StatusInternalServerError})
			} else {
				c.runLater(func() { c.dispatch(evConnectReq, cp) })
			}
		}
		return c.sessPrev

	case types.SessOpResume:
		if !ok {
			c.sess.State = session.StateSuspended
			c.emit(ev)
			return c.sessPrev
		}
		if params.HasNextSeq {
			c.sess.SSN = params.NextSeq
		}
		if params.HasOffset {
			c.sess.Offset = params.Offset
		}
		c.sess.State = session.StateActive
		c.sess.DropSuspended = false
		c.sessTimer.Stop()
		c.connID = c.sess.Saved.ConnectionID
		c.hasConnID = c.connID != 0
		c.peerMTU = c.sess.Saved.MTU
		c.srm.Restore(c.sess.Saved.SRM)
		ev.SSN, ev.Offset = c.sess.SSN, c.sess.Offset
		logger.InfoCtx(c.ctx, "Session resumed",
			logger.SessionID(c.sess.ID[:]), logger.KeySSN, c.sess.SSN, logger.KeyOffset, c.sess.Offset)
		c.emit(ev)
		next := restored(State(c.sess.Saved.State))
		if next == PutSrm {
			c.runLater(c.grantPut)
		}
		return next

	case types.SessOpSuspend:
		if !ok {
			c.sess.State = session.StateActive
			c.emit(ev)
			return c.sessPrev
		}
		c.sess.Saved = session.Saved{
			State:        uint8(stable(c.sessPrev, c.partialNext)),
			SRM:          c.srm.Flags(),
			ConnectionID: c.connID,
			MTU:          c.peerMTU,
		}
		c.sess.State = session.StateSuspended
		if params.HasTimeout {
			c.sess.Timeout = params.Timeout
		}
		c.armSessionTimer()
		logger.InfoCtx(c.ctx, "Session suspended", logger.SessionID(c.sess.ID[:]))
		c.emit(ev)
		c.runLater(func() { c.dispatch(evState, nil) })
		return c.sessPrev

	case types.SessOpClose:
		if ok {
			c.sess.Reset()
		} else {
			c.sess.State = session.StateActive
		}
		c.emit(ev)
		return c.sessPrev

	default:
		c.sess.State = session.StateActive
		if ok && params.HasTimeout {
			c.sess.Timeout = params.Timeout
		}
		c.emit(ev)
		return c.sessPrev
	}
}

// sessionCreated derives the session ID from both nonces and checks it
// against the one the server returned.
func (c *Client) sessionCreated(params session.Params) bool {
	peer := c.sess.PeerAddr
	if len(params.Addr) > 0 {
		a, err := session.AddrFromBytes(params.Addr)
		if err != nil {
			return false
		}
		peer = a
	}
	if len(params.Nonce) == 0 {
		return false
	}
	id := session.DeriveID(c.sess.LocalAddr, c.sess.LocalNonce, peer, params.Nonce)
	if len(params.ID) > 0 && !bytes.Equal(params.ID, id[:]) {
		logger.WarnCtx(c.ctx, "Server session ID does not match derived ID")
		return false
	}
	c.sess.ID = id
	c.sess.PeerNonce = append([]byte(nil), params.Nonce...)
	c.sess.State = session.StateActive
	c.sess.SSN = 0
	if params.HasNextSeq {
		c.sess.SSN = params.NextSeq
	}
	if params.HasTimeout {
		c.sess.Timeout = params.Timeout
	}
	return true
}

// stampSSN appends the sequence number to a request framed before the
// session existed.
func (c *Client) stampSSN(p *packet.Packet) error {
	h := header.Uint8(types.HdrSessionSeqNum, c.sess.SSN)
	p.Grow(h.Size())
	if err := header.Encode(p, h); err != nil {
		return err
	}
	p.FixLength()
	c.commitSSN()
	return nil
}

func (c *Client) actSessionGone(_ *packet.Packet, cand State) State {
	c.resetConnection()
	return cand
}

// stable maps a state to the one a resumed connection returns to.
func stable(s, partialNext State) State {
	if s == PartialSent {
		s = partialNext
	}
	switch s {
	case PutReqSent, PutTransaction:
		return PutTransaction
	case GetReqSent, GetTransaction:
		return GetTransaction
	case PutSrm, GetSrm:
		return s
	case NotConnected, SessionReqSent, ConnectReqSent, Unauthorized, DisconnectReqSent:
		return NotConnected
	default:
		return Connected
	}
}

func restored(s State) State {
	switch s {
	case Connected, PutTransaction, GetTransaction, PutSrm, GetSrm:
		return s
	default:
		return NotConnected
	}
}

// =============================================================================
// Failures
// =============================================================================

func (c *Client) actProtoErr(p *packet.Packet, _ State) State {
	if p != nil {
		logger.WarnCtx(c.ctx, "Protocol error", logger.State(c.state), logger.Status(status(p)))
		p.Release()
	}
	c.teardown(ErrProtocol)
	return NotConnected
}

func (c *Client) actPortClose(_ *packet.Packet, cand State) State {
	c.closeDown(true)
	return cand
}

// teardown closes the transport locally and reports the close.
func (c *Client) teardown(err error) {
	if c.closed {
		return
	}
	_ = c.link.Close()
	c.closeErr = err
	c.closeDown(false)
}

// closeDown releases everything tied to the transport and delivers the
// single Close event. A link lost while a reliable session is active
// suspends the session so it can be resumed on a new transport.
func (c *Client) closeDown(linkLost bool) {
	if c.closed {
		return
	}
	c.closed = true
	c.rspTimer.Stop()

	if linkLost && c.sess.Active() {
		c.sess.Saved = session.Saved{
			State:        uint8(stable(c.state, c.partialNext)),
			SRM:          c.srm.Flags(),
			ConnectionID: c.connID,
			MTU:          c.peerMTU,
		}
		c.sess.State = session.StateSuspended
		c.sess.DropSuspended = true
		logger.InfoCtx(c.ctx, "Session suspended by link loss", logger.SessionID(c.sess.ID[:]))
	}
	c.sessTimer.Stop()

	c.link.Reset()
	if c.queued != nil {
		c.queued.p.Release()
		c.queued = nil
	}
	for _, p := range c.deferred {
		p.Release()
	}
	c.deferred = nil
	c.connectAfterSession.Release()
	c.connectAfterSession = nil
	c.resetConnection()

	logger.InfoCtx(c.ctx, "Connection closed", logger.KeyError, c.closeErr)
	c.emit(event.Event{Kind: event.Close, Err: c.closeErr})
}

func (c *Client) actTimeout(_ *packet.Packet, _ State) State {
	if c.sessExpired {
		c.sessExpired = false
		logger.InfoCtx(c.ctx, "Suspended session expired", logger.SessionID(c.sess.ID[:]))
		c.sess.Reset()
		c.emit(event.Event{Kind: event.Timeout, Err: ErrSessionExpired})
		return stay
	}
	if c.state == NotConnected {
		return stay
	}
	logger.WarnCtx(c.ctx, "Response timeout", logger.State(c.state), logger.Opcode(c.pendingOp))
	c.emit(event.Event{Kind: event.Timeout, Err: ErrResponseTimeout})
	return stay
}

func (c *Client) resetConnection() {
	c.connID, c.hasConnID = 0, false
	c.peerMTU = 0
	c.srm.Reset()
	c.srmAuto, c.srmHeld, c.srmWaitSent = false, false, false
	c.dropSrmQueue()
	c.abortDummy = false
	c.finishAuth()
}

func (c *Client) dropSrmQueue() {
	for _, p := range c.srmQueue {
		p.Release()
	}
	c.srmQueue = nil
}
