package server

import (
	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/pkg/metrics"
)

func (s *Session) actSessionInd(p *packet.Packet, cand State) State {
	params, found, err := session.FindParams(p)
	if err == nil && found {
		err = params.ValidateRequest()
	}
	if !found || err != nil {
		logger.WarnCtx(s.ctx, "Invalid session request", logger.KeyError, err)
		return s.reject(p, types.StatusBadRequest)
	}
	s.sessParams = copyParams(params)
	s.sessOp = params.Op
	s.closeStored = false

	ev := event.Event{Kind: event.Session, Indication: true, Final: true, SessionOp: params.Op, Packet: p}

	switch params.Op {
	case types.SessOpCreate:
		if s.sess.State != session.StateNone {
			return s.reject(p, types.StatusServiceUnavailable)
		}
		if _, err := session.AddrFromBytes(params.Addr); err != nil {
			return s.reject(p, types.StatusBadRequest)
		}

	case types.SessOpResume:
		if s.state != NotConnected || s.sess.State != session.StateNone {
			return s.reject(p, types.StatusServiceUnavailable)
		}
		st, ok := s.findResume(params)
		if !ok {
			return s.reject(p, st)
		}
		stored := session.Progress{SSN: s.resumeEntry.SSN, Offset: s.resumeEntry.Offset}
		requested := stored
		if params.HasNextSeq {
			requested.SSN = params.NextSeq
		}
		if params.HasOffset {
			requested.Offset = params.Offset
		}
		s.resumeAt = session.Reconcile(stored, requested, s.resumeEntry.Saved.SRM)
		ev.SSN, ev.Offset = s.resumeAt.SSN, s.resumeAt.Offset

	case types.SessOpSuspend, types.SessOpSetTimeout:
		if !s.sess.Active() {
			return s.reject(p, types.StatusServiceUnavailable)
		}
		s.suspending = params.Op == types.SessOpSuspend
		ev.SSN, ev.Offset = s.sess.SSN, s.sess.Offset

	case types.SessOpClose:
		if !s.sess.Active() {
			if _, ok := s.storedForClose(params); !ok {
				return s.reject(p, types.StatusServiceUnavailable)
			}
			s.closeStored = true
		}
	}

	s.sessPrev = s.state
	if !s.closeStored {
		s.sess.State = session.Pending(params.Op)
	}
	logger.DebugCtx(s.ctx, "Session request", logger.KeySessionOp, params.Op.String())
	s.emit(ev)
	return cand
}

// findResume locates the suspended entry a Resume names and proves the
// client owns it.
func (s *Session) findResume(params session.Params) (types.Status, bool) {
	addr, err := session.AddrFromBytes(params.Addr)
	if err != nil || len(params.ID) != types.SessionIDSize {
		return types.StatusBadRequest, false
	}
	var id [types.SessionIDSize]byte
	copy(id[:], params.ID)
	e, ok := s.opts.Sessions.Lookup(addr, id)
	if !ok {
		logger.InfoCtx(s.ctx, "Resume of unknown session", logger.SessionID(id[:]))
		return types.StatusNotFound, false
	}
	if err := session.VerifyResume(e, s.sess.LocalAddr, params); err != nil {
		logger.WarnCtx(s.ctx, "Resume verification failed", logger.SessionID(id[:]), logger.KeyError, err)
		return types.StatusForbidden, false
	}
	s.resumeEntry = e
	return 0, true
}

// storedForClose finds the suspended entry a Close from an unconnected
// client names.
func (s *Session) storedForClose(params session.Params) (session.Entry, bool) {
	if len(params.ID) != types.SessionIDSize {
		return session.Entry{}, false
	}
	var id [types.SessionIDSize]byte
	copy(id[:], params.ID)
	return s.opts.Sessions.Lookup(s.sess.PeerAddr, id)
}

func copyParams(p session.Params) session.Params {
	p.Addr = append([]byte(nil), p.Addr...)
	p.Nonce = append([]byte(nil), p.Nonce...)
	p.ID = append([]byte(nil), p.ID...)
	return p
}

// sessionTimeout is the suspend timeout granted for a request.
func (s *Session) sessionTimeout(params session.Params) uint32 {
	if params.HasTimeout {
		return params.Timeout
	}
	if s.sess.Timeout != 0 {
		return s.sess.Timeout
	}
	return s.opts.SessionTimeout
}

// sessionReply builds the parameters of a successful session response.
func (s *Session) sessionReply(ssn uint8, offset uint32) (session.Params, bool) {
	req := s.sessParams
	switch s.sessOp {
	case types.SessOpCreate:
		client, _ := session.AddrFromBytes(req.Addr)
		n := s.opts.Nonces.Nonce()
		created := &session.Info{
			LocalAddr:  s.sess.LocalAddr,
			PeerAddr:   client,
			LocalNonce: append([]byte(nil), n[:]...),
			PeerNonce:  req.Nonce,
			ID:         session.DeriveID(client, req.Nonce, s.sess.LocalAddr, n[:]),
			Timeout:    s.sessionTimeout(req),
		}
		s.created = created
		return session.Params{
			Addr:       s.sess.LocalAddr[:],
			Nonce:      created.LocalNonce,
			ID:         created.ID[:],
			Timeout:    created.Timeout,
			HasTimeout: true,
		}, true

	case types.SessOpResume:
		e := s.resumeEntry
		s.resumeAt = session.Progress{SSN: ssn, Offset: offset}
		return session.Params{
			Addr:       s.sess.LocalAddr[:],
			Nonce:      e.LocalNonce,
			ID:         e.ID[:],
			NextSeq:    ssn,
			HasNextSeq: true,
			Offset:     offset,
			HasOffset:  true,
			Timeout:    e.Timeout,
			HasTimeout: true,
		}, true

	case types.SessOpSuspend, types.SessOpSetTimeout:
		return session.Params{Timeout: s.sessionTimeout(req), HasTimeout: true}, true
	}
	return session.Params{}, false
}

func (s *Session) actSessionRsp(p *packet.Packet, _ State) State {
	st := s.rsp
	op := s.sessOp
	metrics.RecordSessionOp(s.opts.Metrics, role, op.String(), st.String())
	created := s.created
	s.created = nil
	s.suspending = false

	if !st.IsSuccess() {
		switch op {
		case types.SessOpCreate, types.SessOpResume:
			s.sess.Reset()
		default:
			if !s.closeStored {
				s.sess.State = session.StateActive
			}
		}
		logger.InfoCtx(s.ctx, "Session request refused", logger.KeySessionOp, op.String(), logger.Status(st))
		return s.respond(p, s.sessPrev)
	}

	switch op {
	case types.SessOpCreate:
		s.sess.ID = created.ID
		s.sess.PeerAddr = created.PeerAddr
		s.sess.LocalNonce = created.LocalNonce
		s.sess.PeerNonce = created.PeerNonce
		s.sess.Timeout = created.Timeout
		s.sess.SSN, s.sess.Offset = 0, 0
		s.sess.DropSuspended = false
		s.sess.State = session.StateActive
		logger.InfoCtx(s.ctx, "Session created", logger.SessionID(s.sess.ID[:]))
		return s.respond(p, s.sessPrev)

	case types.SessOpResume:
		e, err := s.opts.Sessions.Take(s.ctx, s.resumeEntry.Addr, s.resumeEntry.ID)
		if err != nil {
			logger.WarnCtx(s.ctx, "Suspended session vanished before resume", logger.KeyError, err)
			s.sess.Reset()
			p.SetCode(uint8(types.StatusNotFound))
			return s.respond(p, NotConnected)
		}
		metrics.SetSuspendedSessions(s.opts.Metrics, s.opts.Sessions.Len())
		s.sess.FromEntry(e)
		s.sess.SSN, s.sess.Offset = s.resumeAt.SSN, s.resumeAt.Offset
		s.sess.State = session.StateActive
		s.connID = e.Saved.ConnectionID
		s.hasConnID = s.connID != 0
		s.peerMTU = e.Saved.MTU
		s.srm.Restore(e.Saved.SRM)
		next := restored(State(e.Saved.State))
		s.curOp = opFor(next)
		logger.InfoCtx(s.ctx, "Session resumed", logger.SessionID(e.ID[:]),
			logger.KeySSN, s.sess.SSN, logger.KeyOffset, s.sess.Offset, logger.KeyNextState, next.String())
		if next == GetSrm {
			s.runLater(s.kick)
		}
		return s.respond(p, next)

	case types.SessOpSuspend:
		s.sess.Timeout = s.sessionTimeout(s.sessParams)
		s.sess.DropSuspended = false
		s.suspend(s.sessPrev)
		s.resetConnection()
		return s.respond(p, NotConnected)

	case types.SessOpClose:
		if s.closeStored {
			s.closeStored = false
			var id [types.SessionIDSize]byte
			copy(id[:], s.sessParams.ID)
			s.opts.Sessions.Remove(s.ctx, s.sess.PeerAddr, id)
			metrics.SetSuspendedSessions(s.opts.Metrics, s.opts.Sessions.Len())
		}
		logger.InfoCtx(s.ctx, "Session closed", logger.SessionID(s.sess.ID[:]))
		s.sess.Reset()
		next := s.sessPrev
		if next == WaitClose {
			s.waitTimer.Stop()
			next = NotConnected
		}
		return s.respond(p, next)

	default:
		s.sess.Timeout = s.sessionTimeout(s.sessParams)
		s.sess.State = session.StateActive
		return s.respond(p, s.sessPrev)
	}
}

// suspend stores the active session in the table and clears the block.
// from is the state the connection resumes in.
func (s *Session) suspend(from State) {
	s.sess.Saved = session.Saved{
		State:        uint8(s.stable(from)),
		SRM:          s.srm.Flags(),
		ConnectionID: s.connID,
		MTU:          s.peerMTU,
	}
	s.sess.State = session.StateSuspended
	if evicted := s.opts.Sessions.Put(s.ctx, s.sess.Entry()); evicted != nil {
		logger.InfoCtx(s.ctx, "Suspended session evicted", logger.SessionID(evicted.ID[:]), logger.Peer(evicted.Addr))
	}
	metrics.SetSuspendedSessions(s.opts.Metrics, s.opts.Sessions.Len())
	logger.InfoCtx(s.ctx, "Session suspended", logger.SessionID(s.sess.ID[:]),
		logger.KeySSN, s.sess.SSN, logger.KeyOffset, s.sess.Offset)
	s.sess.Reset()
	s.waitTimer.Stop()
}

// stable maps a state to the one a resumed connection returns to.
func (s *Session) stable(st State) State {
	if st == PartialSent {
		st = s.partialNext
	}
	switch st {
	case PutIndicated, PutTransaction:
		if s.srm.Engaged() {
			return PutSrm
		}
		return PutTransaction
	case GetIndicated, GetTransaction:
		if s.srm.Engaged() {
			return GetSrm
		}
		return GetTransaction
	case PutSrm, GetSrm:
		return st
	case Connected, SetPathIndicated, ActionIndicated, AbortIndicated:
		return Connected
	default:
		return NotConnected
	}
}

func restored(st State) State {
	switch st {
	case Connected, PutTransaction, GetTransaction, PutSrm, GetSrm:
		return st
	default:
		return NotConnected
	}
}

func opFor(st State) types.Opcode {
	switch st {
	case PutTransaction, PutSrm:
		return types.OpPut
	case GetTransaction, GetSrm:
		return types.OpGet
	}
	return 0
}
