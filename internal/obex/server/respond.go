package server

import (
	"fmt"

	"github.com/marmos91/obexd/internal/obex/auth"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/types"
)

// Every response method takes ownership of the packet it is given, also
// when it returns an error. A nil packet sends no application headers.

// check rejects a response the current state does not allow.
func (s *Session) check(e evt) error {
	switch {
	case s.closed:
		return types.ErrClosed
	case s.accepts(e):
		return nil
	case s.state == PartialSent:
		return fmt.Errorf("%w: %s while a packet is partially sent", types.ErrBusy, e)
	default:
		return fmt.Errorf("%w: %s in %s", types.ErrWrongState, e, s.state)
	}
}

// final responses end an exchange: success or failure, never Continue.
func checkFinal(code types.Status) error {
	switch code.Class() {
	case types.ClassOK, types.ClassFail:
		return nil
	}
	return fmt.Errorf("%w: %s cannot end the exchange", types.ErrBadParameters, code)
}

func ensure(p *packet.Packet, mtu uint16) *packet.Packet {
	if p == nil {
		return packet.New(int(mtu))
	}
	return p
}

// respondWith frames p and dispatches it.
func (s *Session) respondWith(e evt, op types.Opcode, code types.Status, p *packet.Packet, fixed []byte, hs ...header.Header) error {
	p = ensure(p, s.sendMTU())
	if err := s.build(p, op, code, fixed, hs...); err != nil {
		p.Release()
		return err
	}
	s.rsp = code
	s.dispatch(e, p)
	return nil
}

// ConnectResponse answers a Connect indication. Success assigns the
// Connection-ID, names the matched Target in a Who header and answers a
// challenge the client sent.
func (s *Session) ConnectResponse(code types.Status, p *packet.Packet) error {
	if err := s.check(evConnectRsp); err != nil {
		p.Release()
		return err
	}
	if err := checkFinal(code); err != nil {
		p.Release()
		return err
	}
	var hs []header.Header
	if code.IsSuccess() {
		hs = append(hs, header.Uint32(types.HdrConnectionID, s.opts.ConnectionID))
		if s.target != nil {
			hs = append(hs, header.Bytes(types.HdrWho, s.target))
		}
		if s.peerChallenge != nil {
			r, err := auth.NewResponse(*s.peerChallenge, s.answerPass, s.answerUser)
			if err != nil {
				p.Release()
				return err
			}
			h, err := r.Header()
			if err != nil {
				p.Release()
				return err
			}
			hs = append(hs, h)
		}
	}
	return s.respondWith(evConnectRsp, types.OpConnect, code, p, s.connectFixed(), hs...)
}

// Password answers a PasswordRequired event. It is checked against the
// client's digest, and used to answer the client's own challenge. A nil
// password refuses the connection.
func (s *Session) Password(secret, userID []byte) error {
	if err := s.check(evPassword); err != nil {
		return err
	}
	if len(userID) > types.MaxUserIDSize {
		return fmt.Errorf("%w: user ID longer than %d bytes", types.ErrBadParameters, types.MaxUserIDSize)
	}
	a := &password{userID: append([]byte(nil), userID...)}
	if secret != nil {
		a.secret = append([]byte{}, secret...)
	}
	s.answer = a
	s.dispatch(evPassword, nil)
	return nil
}

// PutResponse answers a Put indication. Continue is only valid for a
// packet without the final bit. While single response mode streams, a
// Continue without SRM-Parameters is not sent: it only lets the next
// packet through.
func (s *Session) PutResponse(code types.Status, p *packet.Packet) error {
	if err := s.check(evPutRsp); err != nil {
		p.Release()
		return err
	}
	switch {
	case code.Class() == types.ClassInvalid:
		p.Release()
		return fmt.Errorf("%w: response code %s", types.ErrBadParameters, code)
	case code == types.StatusContinue && s.curFinal:
		p.Release()
		return fmt.Errorf("%w: Continue to a final Put", types.ErrBadParameters)
	}

	if code == types.StatusContinue && !s.owed && (p == nil || !header.Has(p, types.HdrSRMParam)) {
		p.Release()
		s.rsp = code
		s.dispatch(evPutRsp, nil)
		return nil
	}
	var hs []header.Header
	offer := code == types.StatusContinue && s.srm.Requesting()
	if offer {
		hs = append(hs, header.Uint8(types.HdrSRM, types.SRMEnable))
	}
	s.srmOffered = offer
	return s.respondWith(evPutRsp, types.OpPut, code, p, nil, hs...)
}

// GetResponse answers a Get indication with the next part of the object.
// Continue asks the client for another Get; once single response mode is
// engaged the server streams and a new Get indication follows on its own.
func (s *Session) GetResponse(code types.Status, p *packet.Packet) error {
	if err := s.check(evGetRsp); err != nil {
		p.Release()
		return err
	}
	if code.Class() == types.ClassInvalid {
		p.Release()
		return fmt.Errorf("%w: response code %s", types.ErrBadParameters, code)
	}
	var hs []header.Header
	offer := code == types.StatusContinue && s.srm.Requesting()
	if offer {
		hs = append(hs, header.Uint8(types.HdrSRM, types.SRMEnable))
	}
	s.srmOffered = offer
	return s.respondWith(evGetRsp, types.OpGet, code, p, nil, hs...)
}

func (s *Session) SetPathResponse(code types.Status, p *packet.Packet) error {
	if err := s.check(evSetPathRsp); err != nil {
		p.Release()
		return err
	}
	if err := checkFinal(code); err != nil {
		p.Release()
		return err
	}
	return s.respondWith(evSetPathRsp, types.OpSetPath, code, p, nil)
}

func (s *Session) ActionResponse(code types.Status, p *packet.Packet) error {
	if err := s.check(evActionRsp); err != nil {
		p.Release()
		return err
	}
	if err := checkFinal(code); err != nil {
		p.Release()
		return err
	}
	return s.respondWith(evActionRsp, types.OpAction, code, p, nil)
}

// DisconnectResponse answers a Disconnect indication.
func (s *Session) DisconnectResponse(code types.Status, p *packet.Packet) error {
	if err := s.check(evDisconnectRsp); err != nil {
		p.Release()
		return err
	}
	if err := checkFinal(code); err != nil {
		p.Release()
		return err
	}
	return s.respondWith(evDisconnectRsp, types.OpDisconnect, code, p, nil)
}

// AbortResponse answers an Abort indication. Single response mode ends
// whatever the code.
func (s *Session) AbortResponse(code types.Status) error {
	if err := s.check(evAbortRsp); err != nil {
		return err
	}
	if err := checkFinal(code); err != nil {
		return err
	}
	return s.respondWith(evAbortRsp, types.OpAbort, code, nil, nil)
}

// SessionResponse answers a Session indication. For a Resume, ssn and
// offset are where the transfer continues; the indication carries the
// reconciled values the application normally passes back. They are
// ignored for the other session operations.
func (s *Session) SessionResponse(code types.Status, ssn uint8, offset uint32, p *packet.Packet) error {
	if err := s.check(evSessionRsp); err != nil {
		p.Release()
		return err
	}
	if err := checkFinal(code); err != nil {
		p.Release()
		return err
	}
	var hs []header.Header
	if code.IsSuccess() {
		if params, ok := s.sessionReply(ssn, offset); ok {
			h, err := params.Header()
			if err != nil {
				s.created = nil
				p.Release()
				return err
			}
			hs = append(hs, h)
		}
	}
	return s.respondWith(evSessionRsp, types.OpSession, code, p, nil, hs...)
}

// SRM reports whether single response mode is engaged.
func (s *Session) SRM() bool { return s.srm.Engaged() }
