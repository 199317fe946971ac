package client

import (
	"encoding/binary"
	"fmt"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/auth"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/pkg/metrics"
)

// Every request method takes ownership of the packet it is given, also when
// it returns an error. A nil packet sends no application headers.

// check rejects a request the current state does not allow.
func (c *Client) check(e evt) error {
	switch {
	case c.closed:
		return types.ErrClosed
	case c.accepts(e):
		return nil
	case c.state == PartialSent:
		return fmt.Errorf("%w: %s while a packet is partially sent", types.ErrBusy, e)
	default:
		return fmt.Errorf("%w: %s in %s", types.ErrWrongState, e, c.state)
	}
}

// build prepends the given headers in order, then frames the packet. It
// checks the final size against the peer's MTU first, so a failure leaves
// the packet untouched.
func (c *Client) build(p *packet.Packet, op types.Opcode, fixed []byte, hs ...header.Header) error {
	size := p.Len() + types.PacketPrefixSize + len(fixed)
	for _, h := range hs {
		size += h.Size()
	}
	if size > int(c.sendMTU()) {
		return fmt.Errorf("%w: %s of %d bytes exceeds MTU %d", packet.ErrTooLarge, op, size, c.sendMTU())
	}
	for i := len(hs) - 1; i >= 0; i-- {
		if err := header.Prepend(p, hs[i]); err != nil {
			return err
		}
	}
	p.SetKind(types.RequestKind(op))
	return p.Frame(uint8(op), fixed...)
}

// prefix returns the engine headers leading a request: Connection-ID on
// the first packet of an operation and the session sequence number while
// a reliable session is active.
func (c *Client) prefix(first bool) []header.Header {
	var hs []header.Header
	if first && c.hasConnID {
		hs = append(hs, header.Uint32(types.HdrConnectionID, c.connID))
	}
	if c.sess.Active() {
		hs = append(hs, header.Uint8(types.HdrSessionSeqNum, c.sess.SSN))
	}
	return hs
}

// commitSSN advances the sequence number after a request was built with
// prefix.
func (c *Client) commitSSN() {
	if c.sess.Active() {
		c.sess.SSN++
	}
}

func ensure(p *packet.Packet, mtu uint16) *packet.Packet {
	if p == nil {
		return packet.New(int(mtu))
	}
	return p
}

// Connect starts a connection. With Reliable set a session is created
// first and the Connect request follows once it is active.
func (c *Client) Connect(cp ConnectParams) error {
	if err := c.check(evConnectReq); err != nil {
		cp.Packet.Release()
		return err
	}
	p := ensure(cp.Packet, types.MinMTU)

	fixed := make([]byte, 4)
	fixed[0] = types.Version
	binary.BigEndian.PutUint16(fixed[2:], c.opts.MTU)

	if cp.Reliable && c.sess.State == session.StateNone {
		sp, err := c.sessionPacket(types.SessOpCreate, cp.SessionTimeout, cp.Nonce)
		if err != nil {
			p.Release()
			return err
		}
		if err := c.build(p, types.OpConnect, fixed); err != nil {
			sp.Release()
			p.Release()
			return err
		}
		c.connectAfterSession = p
		c.sessOp = types.SessOpCreate
		c.sess.State = session.StateCreate
		c.dispatch(evSessionReq, sp)
		return nil
	}

	hs := c.prefix(false)
	if err := c.build(p, types.OpConnect, fixed, hs...); err != nil {
		p.Release()
		return err
	}
	c.commitSSN()
	c.dispatch(evConnectReq, p)
	return nil
}

// AuthResponse answers a PasswordRequired event by resending the Connect
// request with a digest of the server's nonce. With mutual set the request
// also challenges the server, which must prove the same password. A nil
// password gives up and reports Unauthorized.
func (c *Client) AuthResponse(password, userID []byte, mutual bool) error {
	if err := c.check(evAuthRsp); err != nil {
		return err
	}
	if password == nil || c.challenge == nil || c.last == nil {
		c.answer = &authAnswer{cancel: true}
		c.dispatch(evAuthRsp, nil)
		return nil
	}

	rsp, err := auth.NewResponse(*c.challenge, password, userID)
	if err != nil {
		return err
	}
	hs := []header.Header{}
	h, err := rsp.Header()
	if err != nil {
		return err
	}
	hs = append(hs, h)

	var mc *auth.Challenge
	if mutual {
		mc = &auth.Challenge{Nonce: c.opts.Nonces.Nonce()}
		ch, err := mc.Header()
		if err != nil {
			return err
		}
		hs = append(hs, ch)
	}

	retry := c.last.Clone()
	if header.Remove(retry, types.HdrSessionSeqNum) > 0 || c.sess.Active() {
		hs = append(hs, header.Uint8(types.HdrSessionSeqNum, c.sess.SSN))
	}
	need := 0
	for _, h := range hs {
		need += h.Size()
	}
	retry.Grow(need)
	if err := header.EncodeAll(retry, hs...); err != nil {
		retry.Release()
		return err
	}
	retry.FixLength()
	c.commitSSN()

	c.mutual = mc
	if mutual {
		c.mutualPass = append([]byte(nil), password...)
	}
	c.answer = &authAnswer{}
	c.dispatch(evAuthRsp, retry)
	return nil
}

// Put sends one packet of a Put operation. The last packet has final set.
// While single response mode is engaged Put may only be called after a
// Continue confirmation, which hands the application the send credit.
func (c *Client) Put(final bool, p *packet.Packet) error {
	if err := c.check(evPutReq); err != nil {
		p.Release()
		return err
	}
	if c.state == PutSrm && !c.srm.WaitingUpper() {
		p.Release()
		return fmt.Errorf("%w: no Continue outstanding", types.ErrBusy)
	}
	p = ensure(p, c.sendMTU())

	first := c.state == Connected
	hs := c.prefix(first)
	wantSRM := first && c.srm.Enabled() && !c.srm.Engaged() && !c.srm.Requesting()
	if wantSRM {
		hs = append(hs, header.Uint8(types.HdrSRM, types.SRMEnable))
	}
	body, _, _ := header.ReadBody(p)
	if err := c.build(p, types.OpPut.WithFinal(final), nil, hs...); err != nil {
		p.Release()
		return err
	}
	if wantSRM {
		c.srm.Request()
	}
	if first {
		c.sess.Offset = 0
	}
	c.sess.Offset += uint32(len(body))
	c.commitSSN()
	metrics.RecordBodyBytes(c.opts.Metrics, role, "tx", len(body))
	c.dispatch(evPutReq, p)
	return nil
}

// Get sends one packet of a Get operation. Request headers may span
// several packets with final clear; the last one has final set. While
// single response mode is engaged the server streams the object and Get
// only returns the credit for the next response; the packet is discarded.
func (c *Client) Get(final bool, p *packet.Packet) error {
	if err := c.check(evGetReq); err != nil {
		p.Release()
		return err
	}
	if c.state == GetSrm {
		if !c.srm.WaitingUpper() {
			p.Release()
			return fmt.Errorf("%w: no Continue outstanding", types.ErrBusy)
		}
		p.Release()
		c.dispatch(evGetReq, nil)
		return nil
	}
	p = ensure(p, c.sendMTU())

	first := c.state == Connected
	hs := c.prefix(first)
	wantSRM := first && c.srm.Enabled() && !c.srm.Engaged() && !c.srm.Requesting()
	if wantSRM {
		hs = append(hs, header.Uint8(types.HdrSRM, types.SRMEnable))
	}
	if err := c.build(p, types.OpGet.WithFinal(final), nil, hs...); err != nil {
		p.Release()
		return err
	}
	if wantSRM {
		c.srm.Request()
	}
	if first {
		c.sess.Offset = 0
	}
	c.commitSSN()
	c.dispatch(evGetReq, p)
	return nil
}

// srmGetPacket builds the Get sent while streaming to pause or resume the
// server.
func (c *Client) srmGetPacket(wait bool) (*packet.Packet, error) {
	p := packet.New(int(types.MinMTU))
	hs := c.prefix(false)
	if wait {
		hs = append(hs, header.Uint8(types.HdrSRMParam, types.SRMParamWait))
	}
	if err := c.build(p, types.OpGetFinal, nil, hs...); err != nil {
		p.Release()
		return nil, err
	}
	c.commitSSN()
	return p, nil
}

// SetPath changes the current folder on the server.
func (c *Client) SetPath(flags uint8, p *packet.Packet) error {
	if err := c.check(evSetPathReq); err != nil {
		p.Release()
		return err
	}
	p = ensure(p, c.sendMTU())
	if err := c.build(p, types.OpSetPath, []byte{flags, 0}, c.prefix(true)...); err != nil {
		p.Release()
		return err
	}
	c.commitSSN()
	c.dispatch(evSetPathReq, p)
	return nil
}

// Action runs a copy, move or set-permissions action. The packet carries
// Name and, depending on the action, Dest-Name or Permissions.
func (c *Client) Action(id types.ActionID, p *packet.Packet) error {
	if err := c.check(evActionReq); err != nil {
		p.Release()
		return err
	}
	p = ensure(p, c.sendMTU())
	if err := validateAction(id, p); err != nil {
		p.Release()
		return err
	}
	hs := append(c.prefix(true), header.Uint8(types.HdrActionID, uint8(id)))
	if err := c.build(p, types.OpActionFinal, nil, hs...); err != nil {
		p.Release()
		return err
	}
	c.commitSSN()
	c.dispatch(evActionReq, p)
	return nil
}

func validateAction(id types.ActionID, p *packet.Packet) error {
	if !header.Has(p, types.HdrName) {
		return fmt.Errorf("%w: %s needs a Name header", types.ErrBadParameters, id)
	}
	switch id {
	case types.ActionCopy, types.ActionMove:
		if !header.Has(p, types.HdrDestName) {
			return fmt.Errorf("%w: %s needs a DestName header", types.ErrBadParameters, id)
		}
	case types.ActionSetPermissions:
		if !header.Has(p, types.HdrPermissions) {
			return fmt.Errorf("%w: %s needs a Permissions header", types.ErrBadParameters, id)
		}
	default:
		return fmt.Errorf("%w: unknown action %s", types.ErrBadParameters, id)
	}
	return nil
}

// Abort cancels the current Put or Get.
func (c *Client) Abort() error {
	if err := c.check(evAbortReq); err != nil {
		return err
	}
	p := packet.New(int(types.MinMTU))
	if err := c.build(p, types.OpAbort, nil, c.prefix(true)...); err != nil {
		p.Release()
		return err
	}
	c.commitSSN()
	c.dispatch(evAbortReq, p)
	return nil
}

// Disconnect ends the connection. A reliable session stays as it is.
func (c *Client) Disconnect() error {
	if err := c.check(evDisconnectReq); err != nil {
		return err
	}
	p := packet.New(int(types.MinMTU))
	if err := c.build(p, types.OpDisconnect, nil, c.prefix(true)...); err != nil {
		p.Release()
		return err
	}
	c.commitSSN()
	c.dispatch(evDisconnectReq, p)
	return nil
}

// SessionRequest sends a reliable session command. Create needs no
// connection; Suspend, Close and SetTimeout need an active session.
// Resume is started with Resume.
func (c *Client) SessionRequest(op types.SessionOp, timeout uint32) error {
	if err := c.check(evSessionReq); err != nil {
		return err
	}
	switch op {
	case types.SessOpCreate:
		if c.sess.State != session.StateNone {
			return fmt.Errorf("%w: session already %s", types.ErrWrongState, c.sess.State)
		}
	case types.SessOpSuspend, types.SessOpClose, types.SessOpSetTimeout:
		if !c.sess.Active() {
			return fmt.Errorf("%w: session %s", types.ErrWrongState, c.sess.State)
		}
	case types.SessOpResume:
		return fmt.Errorf("%w: use Resume", types.ErrBadParameters)
	default:
		return fmt.Errorf("%w: session op %s", types.ErrBadParameters, op)
	}
	p, err := c.sessionPacket(op, timeout, nil)
	if err != nil {
		return err
	}
	c.sessOp = op
	c.sess.State = session.Pending(op)
	c.dispatch(evSessionReq, p)
	return nil
}

// Resume resumes a session suspended earlier, typically after the
// transport was lost and reopened. The entry is what Session returned
// before the loss.
func (c *Client) Resume(info session.Info) error {
	if err := c.check(evSessionReq); err != nil {
		return err
	}
	if c.state != NotConnected || !info.Established() {
		return fmt.Errorf("%w: nothing to resume", types.ErrWrongState)
	}
	local, peer := c.sess.LocalAddr, c.sess.PeerAddr
	c.sess = info
	c.sess.LocalAddr, c.sess.PeerAddr = local, peer

	p, err := c.sessionPacket(types.SessOpResume, 0, nil)
	if err != nil {
		return err
	}
	c.sessOp = types.SessOpResume
	c.sess.State = session.StateResume
	c.dispatch(evSessionReq, p)
	return nil
}

// sessionPacket builds a Session request for op.
func (c *Client) sessionPacket(op types.SessionOp, timeout uint32, nonce []byte) (*packet.Packet, error) {
	params := session.Params{Op: op, HasOp: true}
	switch op {
	case types.SessOpCreate:
		if len(nonce) == 0 {
			n := c.opts.Nonces.Nonce()
			nonce = n[:]
		}
		if len(nonce) < session.MinNonceSize || len(nonce) > session.MaxNonceSize {
			return nil, fmt.Errorf("%w: nonce of %d bytes", types.ErrBadParameters, len(nonce))
		}
		c.sess.LocalNonce = append([]byte(nil), nonce...)
		params.Addr = c.sess.LocalAddr[:]
		params.Nonce = c.sess.LocalNonce
	case types.SessOpResume:
		params.Addr = c.sess.LocalAddr[:]
		params.Nonce = c.sess.LocalNonce
		params.ID = c.sess.ID[:]
		params.NextSeq, params.HasNextSeq = c.sess.SSN, true
		params.Offset, params.HasOffset = c.sess.Offset, true
	case types.SessOpSuspend:
		params.NextSeq, params.HasNextSeq = c.sess.SSN, true
		params.Offset, params.HasOffset = c.sess.Offset, true
	}
	if timeout != 0 {
		params.Timeout, params.HasTimeout = timeout, true
	}

	h, err := params.Header()
	if err != nil {
		return nil, err
	}
	p := packet.New(int(types.MinMTU))
	if err := c.build(p, types.OpSession, nil, h); err != nil {
		p.Release()
		return nil, err
	}
	logger.DebugCtx(c.ctx, "Session request", logger.KeySessionOp, op.String())
	return p, nil
}

// SRM reports whether single response mode is engaged.
func (c *Client) SRM() bool { return c.srm.Engaged() }
