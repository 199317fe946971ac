package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/auth"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/link"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/sched"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/transport/loopback"
	"github.com/marmos91/obexd/internal/obex/types"
)

var (
	addrA = types.BDAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	addrB = types.BDAddr{0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB}
)

// scriptedServer records requests and sends whatever responses the test
// dictates.
type scriptedServer struct {
	t    *testing.T
	link *link.Link
	reqs []*packet.Packet
}

func (s *scriptedServer) next() *packet.Packet {
	s.t.Helper()
	require.NotEmpty(s.t, s.reqs, "no request received")
	p := s.reqs[0]
	s.reqs = s.reqs[1:]
	return p
}

func (s *scriptedServer) reply(op types.Opcode, st types.Status, fixed []byte, hs ...header.Header) {
	s.t.Helper()
	p := packet.New(int(types.MaxMTU))
	require.NoError(s.t, header.EncodeAll(p, hs...))
	p.SetKind(types.ResponseKind(op))
	require.NoError(s.t, p.Frame(uint8(st), fixed...))
	_, err := s.link.Send(p)
	require.NoError(s.t, err)
}

type harness struct {
	t     *testing.T
	pair  *loopback.Pair
	c     *Client
	rec   *event.Recorder
	srv   *scriptedServer
	clock *sched.Manual
}

func newHarness(t *testing.T, window int, opts Options) *harness {
	t.Helper()
	pair := loopback.NewPair(loopback.Options{Window: window, AddrA: addrA, AddrB: addrB})
	h := &harness{t: t, pair: pair, rec: &event.Recorder{}, clock: &sched.Manual{}}
	opts.Scheduler = h.clock
	h.c = New(pair.A, h.rec.Sink(), opts)
	pair.A.Start(h.c.Handler())

	srvLink := link.New(pair.B, int(types.MaxMTU))
	h.srv = &scriptedServer{t: t, link: srvLink}
	pair.B.Start(transport.HandlerFuncs{
		Data: func(b []byte) {
			pkts, err := srvLink.Feed(b)
			require.NoError(t, err)
			h.srv.reqs = append(h.srv.reqs, pkts...)
		},
		TxEmpty: func() { _, _ = srvLink.Resume() },
	})
	return h
}

func (h *harness) pump() { h.pair.Pump() }

func (h *harness) last() event.Event {
	h.t.Helper()
	require.NotEmpty(h.t, h.rec.Events)
	return h.rec.Events[len(h.rec.Events)-1]
}

func (h *harness) eventsOf(k event.Kind) []event.Event {
	var out []event.Event
	for _, e := range h.rec.Events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func connectFixed(mtu uint16) []byte {
	return []byte{types.Version, 0, byte(mtu >> 8), byte(mtu)}
}

func (h *harness) connect() {
	h.t.Helper()
	require.NoError(h.t, h.c.Connect(ConnectParams{}))
	h.pump()
	req := h.srv.next()
	require.Equal(h.t, uint8(types.OpConnect), req.Code())
	h.srv.reply(types.OpConnect, types.StatusOK, connectFixed(1024),
		header.Uint32(types.HdrConnectionID, 7))
	h.pump()
	require.Equal(h.t, Connected, h.c.State())
}

// reliableConnect creates a session and connects inside it.
func (h *harness) reliableConnect() {
	h.t.Helper()
	require.NoError(h.t, h.c.Connect(ConnectParams{Reliable: true, Nonce: []byte("client-nonce")}))
	assert.Equal(h.t, SessionReqSent, h.c.State())
	h.pump()

	req := h.srv.next()
	require.Equal(h.t, uint8(types.OpSession), req.Code())
	params, found, err := session.FindParams(req)
	require.NoError(h.t, err)
	require.True(h.t, found)
	assert.Equal(h.t, types.SessOpCreate, params.Op)
	assert.Equal(h.t, addrA[:], params.Addr)

	srvNonce := []byte("server-n")
	id := session.DeriveID(addrA, params.Nonce, addrB, srvNonce)
	sh, err := session.Params{Nonce: srvNonce, ID: id[:], Timeout: 10, HasTimeout: true}.Header()
	require.NoError(h.t, err)
	h.srv.reply(types.OpSession, types.StatusOK, nil, sh)
	h.pump()

	req = h.srv.next()
	require.Equal(h.t, uint8(types.OpConnect), req.Code())
	ssn, ok := header.FindUint8(req, types.HdrSessionSeqNum)
	require.True(h.t, ok, "connect inside a session carries a sequence number")
	assert.Equal(h.t, uint8(0), ssn)
	h.srv.reply(types.OpConnect, types.StatusOK, connectFixed(1024),
		header.Uint32(types.HdrConnectionID, 9))
	h.pump()
	require.Equal(h.t, Connected, h.c.State())
	require.True(h.t, h.c.Session().Active())
}

func withBody(t *testing.T, id types.HeaderID, b string) *packet.Packet {
	t.Helper()
	p := packet.New(1024)
	require.NoError(t, header.Encode(p, header.Bytes(id, []byte(b))))
	return p
}

func withName(t *testing.T, name string) *packet.Packet {
	t.Helper()
	h, err := header.Unicode(types.HdrName, name)
	require.NoError(t, err)
	p := packet.New(1024)
	require.NoError(t, header.Encode(p, h))
	return p
}

func bodyOf(t *testing.T, e event.Event) string {
	t.Helper()
	require.NotNil(t, e.Packet)
	b, _, ok := header.ReadBody(e.Packet)
	require.True(t, ok)
	return string(b)
}

// =============================================================================
// Connect and simple operations
// =============================================================================

func TestConnect(t *testing.T) {
	h := newHarness(t, 0, Options{MTU: 2048})
	require.NoError(t, h.c.Connect(ConnectParams{}))
	assert.Equal(t, ConnectReqSent, h.c.State())
	h.pump()

	req := h.srv.next()
	req.SetKind(types.RequestKind(types.OpConnect))
	assert.Equal(t, []byte{types.Version, 0, 0x08, 0x00}, req.Fixed())

	h.srv.reply(types.OpConnect, types.StatusOK, connectFixed(1024),
		header.Uint32(types.HdrConnectionID, 7))
	h.pump()

	assert.Equal(t, Connected, h.c.State())
	ev := h.last()
	assert.Equal(t, event.Connect, ev.Kind)
	assert.Equal(t, types.StatusOK, ev.Status)
	assert.Equal(t, uint16(1024), ev.MTU)
	id, ok := h.c.ConnectionID()
	assert.True(t, ok)
	assert.Equal(t, uint32(7), id)
	assert.Equal(t, uint16(1024), h.c.PeerMTU())
}

func TestConnectRejectsSmallMTU(t *testing.T) {
	h := newHarness(t, 0, Options{})
	require.NoError(t, h.c.Connect(ConnectParams{}))
	h.pump()
	h.srv.next()
	h.srv.reply(types.OpConnect, types.StatusOK, connectFixed(100))
	h.pump()

	assert.Equal(t, NotConnected, h.c.State())
	assert.Equal(t, event.Close, h.last().Kind)
	assert.ErrorIs(t, h.last().Err, ErrProtocol)
}

func TestRequestInWrongState(t *testing.T) {
	h := newHarness(t, 0, Options{})
	assert.ErrorIs(t, h.c.Put(true, nil), types.ErrWrongState)
	assert.ErrorIs(t, h.c.Abort(), types.ErrWrongState)

	h.connect()
	assert.ErrorIs(t, h.c.Abort(), types.ErrWrongState, "abort needs an operation in progress")
	assert.ErrorIs(t, h.c.Connect(ConnectParams{}), types.ErrWrongState)
}

func TestPutSequence(t *testing.T) {
	h := newHarness(t, 0, Options{})
	h.connect()

	require.NoError(t, h.c.Put(false, withBody(t, types.HdrBody, "AB")))
	assert.Equal(t, PutReqSent, h.c.State())
	h.pump()
	req := h.srv.next()
	assert.Equal(t, uint8(types.OpPut), req.Code())
	id, ok := header.FindUint32(req, types.HdrConnectionID)
	assert.True(t, ok)
	assert.Equal(t, uint32(7), id)

	h.srv.reply(types.OpPut, types.StatusContinue, nil)
	h.pump()
	assert.Equal(t, PutTransaction, h.c.State())

	require.NoError(t, h.c.Put(true, withBody(t, types.HdrEndOfBody, "CD")))
	h.pump()
	req = h.srv.next()
	assert.Equal(t, uint8(types.OpPutFinal), req.Code())
	assert.False(t, header.Has(req, types.HdrConnectionID), "only the first packet carries the connection ID")

	h.srv.reply(types.OpPut, types.StatusOK, nil)
	h.pump()
	assert.Equal(t, Connected, h.c.State())

	puts := h.eventsOf(event.Put)
	require.Len(t, puts, 2)
	assert.Equal(t, types.StatusContinue, puts[0].Status)
	assert.Equal(t, types.StatusOK, puts[1].Status)
}

func TestSetPath(t *testing.T) {
	h := newHarness(t, 0, Options{})
	h.connect()

	require.NoError(t, h.c.SetPath(types.SetPathNoCreate, withName(t, "docs")))
	h.pump()
	req := h.srv.next()
	assert.Equal(t, uint8(types.OpSetPath), req.Code())
	assert.Equal(t, []byte{types.SetPathNoCreate, 0}, req.Fixed())

	h.srv.reply(types.OpSetPath, types.StatusNotFound, nil)
	h.pump()
	assert.Equal(t, Connected, h.c.State())
	assert.Equal(t, event.SetPath, h.last().Kind)
	assert.Equal(t, types.StatusNotFound, h.last().Status)
}

func TestActionValidation(t *testing.T) {
	h := newHarness(t, 0, Options{})
	h.connect()

	assert.ErrorIs(t, h.c.Action(types.ActionMove, withName(t, "a.txt")), types.ErrBadParameters)

	p := withName(t, "a.txt")
	dest, err := header.Unicode(types.HdrDestName, "b.txt")
	require.NoError(t, err)
	require.NoError(t, header.Encode(p, dest))
	require.NoError(t, h.c.Action(types.ActionMove, p))
	h.pump()

	req := h.srv.next()
	assert.Equal(t, uint8(types.OpActionFinal), req.Code())
	v, ok := header.FindUint8(req, types.HdrActionID)
	assert.True(t, ok)
	assert.Equal(t, uint8(types.ActionMove), v)

	h.srv.reply(types.OpAction, types.StatusOK, nil)
	h.pump()
	assert.Equal(t, event.Action, h.last().Kind)
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, 0, Options{})
	h.connect()

	require.NoError(t, h.c.Disconnect())
	assert.Equal(t, DisconnectReqSent, h.c.State())
	h.pump()
	assert.Equal(t, uint8(types.OpDisconnect), h.srv.next().Code())

	h.srv.reply(types.OpDisconnect, types.StatusOK, nil)
	h.pump()
	assert.Equal(t, NotConnected, h.c.State())
	assert.Equal(t, event.Disconnect, h.last().Kind)
	_, ok := h.c.ConnectionID()
	assert.False(t, ok)
}

// =============================================================================
// Authentication
// =============================================================================

func TestAuthentication(t *testing.T) {
	h := newHarness(t, 0, Options{})
	require.NoError(t, h.c.Connect(ConnectParams{}))
	h.pump()
	h.srv.next()

	ch := auth.Challenge{Nonce: [types.NonceSize]byte{1, 2, 3, 4}, Realm: []byte{0, 'o', 'b', 'e', 'x'}}
	chh, err := ch.Header()
	require.NoError(t, err)
	h.srv.reply(types.OpConnect, types.StatusUnauthorized, connectFixed(1024), chh)
	h.pump()

	assert.Equal(t, Unauthorized, h.c.State())
	ev := h.last()
	require.Equal(t, event.PasswordRequired, ev.Kind)
	assert.Equal(t, ch.Realm, ev.Realm)

	require.NoError(t, h.c.AuthResponse([]byte("secret"), nil, false))
	assert.Equal(t, ConnectReqSent, h.c.State())
	h.pump()

	req := h.srv.next()
	require.Equal(t, uint8(types.OpConnect), req.Code())
	req.SetKind(types.RequestKind(types.OpConnect))
	rsp, found, err := auth.FindResponse(req)
	require.NoError(t, err)
	require.True(t, found)
	assert.NoError(t, auth.Verify(ch, []byte("secret"), rsp))
	assert.Error(t, auth.Verify(ch, []byte("wrong"), rsp))

	h.srv.reply(types.OpConnect, types.StatusOK, connectFixed(1024))
	h.pump()
	assert.Equal(t, Connected, h.c.State())
	assert.Equal(t, []event.Kind{event.PasswordRequired, event.Connect}, h.rec.Kinds())
}

func TestAuthenticationCancelled(t *testing.T) {
	h := newHarness(t, 0, Options{})
	require.NoError(t, h.c.Connect(ConnectParams{}))
	h.pump()
	h.srv.next()

	chh, err := auth.Challenge{Nonce: [types.NonceSize]byte{9}}.Header()
	require.NoError(t, err)
	h.srv.reply(types.OpConnect, types.StatusUnauthorized, connectFixed(1024), chh)
	h.pump()

	require.NoError(t, h.c.AuthResponse(nil, nil, false))
	assert.Equal(t, NotConnected, h.c.State())
	assert.Equal(t, event.Connect, h.last().Kind)
	assert.Equal(t, types.StatusUnauthorized, h.last().Status)
}

func TestUnauthorizedWithoutChallenge(t *testing.T) {
	h := newHarness(t, 0, Options{})
	require.NoError(t, h.c.Connect(ConnectParams{}))
	h.pump()
	h.srv.next()
	h.srv.reply(types.OpConnect, types.StatusUnauthorized, connectFixed(1024))
	h.pump()

	assert.Equal(t, NotConnected, h.c.State())
	assert.Equal(t, []event.Kind{event.Connect}, h.rec.Kinds())
}

func TestMutualAuthenticationFailure(t *testing.T) {
	h := newHarness(t, 0, Options{})
	require.NoError(t, h.c.Connect(ConnectParams{}))
	h.pump()
	h.srv.next()

	chh, err := auth.Challenge{Nonce: [types.NonceSize]byte{5}}.Header()
	require.NoError(t, err)
	h.srv.reply(types.OpConnect, types.StatusUnauthorized, connectFixed(1024), chh)
	h.pump()

	require.NoError(t, h.c.AuthResponse([]byte("secret"), nil, true))
	h.pump()
	req := h.srv.next()
	req.SetKind(types.RequestKind(types.OpConnect))
	clientCh, found, err := auth.FindChallenge(req)
	require.NoError(t, err)
	require.True(t, found, "mutual authentication challenges the server")

	bad, err := auth.NewResponse(clientCh, []byte("not-the-secret"), nil)
	require.NoError(t, err)
	rh, err := bad.Header()
	require.NoError(t, err)
	h.srv.reply(types.OpConnect, types.StatusOK, connectFixed(1024), rh)
	h.pump()

	assert.Equal(t, NotConnected, h.c.State())
	assert.Equal(t, []event.Kind{event.PasswordRequired, event.Connect, event.Close}, h.rec.Kinds())
	assert.ErrorIs(t, h.last().Err, ErrMutualAuth)
	assert.True(t, h.pair.A.Closed())
}

// =============================================================================
// Failures
// =============================================================================

func TestInvalidResponseClosesConnection(t *testing.T) {
	h := newHarness(t, 0, Options{})
	require.NoError(t, h.c.Connect(ConnectParams{}))
	h.pump()
	h.srv.next()
	h.srv.reply(types.OpConnect, types.Status(0x20), connectFixed(1024))
	h.pump()

	assert.Equal(t, NotConnected, h.c.State())
	assert.Equal(t, event.Close, h.last().Kind)
	assert.ErrorIs(t, h.last().Err, ErrProtocol)
	assert.True(t, h.pair.A.Closed())
	assert.ErrorIs(t, h.c.Connect(ConnectParams{}), types.ErrClosed)
}

func TestResponseTimeout(t *testing.T) {
	h := newHarness(t, 0, Options{ResponseTimeout: 5 * time.Second})
	require.NoError(t, h.c.Connect(ConnectParams{}))
	h.pump()

	assert.Zero(t, h.clock.Advance(4*time.Second))
	assert.Empty(t, h.rec.Events)

	assert.Equal(t, 1, h.clock.Advance(time.Second))
	assert.Equal(t, event.Timeout, h.last().Kind)
	assert.ErrorIs(t, h.last().Err, ErrResponseTimeout)
	assert.Equal(t, ConnectReqSent, h.c.State(), "a timeout leaves the decision to the application")

	h.srv.reply(types.OpConnect, types.StatusOK, connectFixed(1024))
	h.pump()
	assert.Equal(t, Connected, h.c.State())
	assert.Zero(t, h.clock.Advance(time.Minute), "no timer while idle")
}

func TestPeerCloseDeliversSingleClose(t *testing.T) {
	h := newHarness(t, 0, Options{})
	h.connect()

	require.NoError(t, h.pair.B.Close())
	h.pump()
	require.NoError(t, h.c.Close())

	closes := h.eventsOf(event.Close)
	require.Len(t, closes, 1)
	assert.ErrorIs(t, closes[0].Err, transport.ErrClosed)
	assert.Equal(t, NotConnected, h.c.State())
}

// =============================================================================
// Partial sends
// =============================================================================

func TestPartialSendQueuesAbort(t *testing.T) {
	h := newHarness(t, 16, Options{})
	h.connect()

	big := make([]byte, 200)
	for i := range big {
		big[i] = 'x'
	}
	require.NoError(t, h.c.Put(false, withBody(t, types.HdrBody, string(big))))
	assert.Equal(t, PartialSent, h.c.State())

	assert.ErrorIs(t, h.c.Put(false, nil), types.ErrBusy)
	require.NoError(t, h.c.Abort(), "abort is queued behind the partial packet")
	assert.Equal(t, PartialSent, h.c.State())

	h.pump()
	assert.Equal(t, AbortReqSent, h.c.State())

	put := h.srv.next()
	assert.Equal(t, uint8(types.OpPut), put.Code())
	b, _, ok := header.ReadBody(put)
	require.True(t, ok)
	assert.Len(t, b, len(big))
	assert.Equal(t, uint8(types.OpAbort), h.srv.next().Code())

	// The response to the interrupted Put arrives first and is swallowed.
	h.srv.reply(types.OpPut, types.StatusContinue, nil)
	h.srv.reply(types.OpAbort, types.StatusOK, nil)
	h.pump()

	assert.Equal(t, Connected, h.c.State())
	assert.Empty(t, h.eventsOf(event.Put))
	aborts := h.eventsOf(event.Abort)
	require.Len(t, aborts, 1)
	assert.Equal(t, types.StatusOK, aborts[0].Status)
}

// =============================================================================
// Single response mode
// =============================================================================

func TestSRMPut(t *testing.T) {
	h := newHarness(t, 0, Options{SRM: true})
	h.connect()

	require.NoError(t, h.c.Put(false, withBody(t, types.HdrBody, "AB")))
	h.pump()
	req := h.srv.next()
	v, ok := header.FindUint8(req, types.HdrSRM)
	require.True(t, ok)
	assert.Equal(t, types.SRMEnable, v)

	h.srv.reply(types.OpPut, types.StatusContinue, nil, header.Uint8(types.HdrSRM, types.SRMEnable))
	h.pump()
	assert.Equal(t, PutSrm, h.c.State())
	assert.True(t, h.c.SRM())
	require.Len(t, h.eventsOf(event.Put), 1)

	// Streamed packets are confirmed locally once sent.
	require.NoError(t, h.c.Put(false, withBody(t, types.HdrBody, "CD")))
	assert.Len(t, h.eventsOf(event.Put), 2)

	h.rec.Events = h.rec.Events[:0]
	h.srv.reply(types.OpPut, types.StatusContinue, nil, header.Uint8(types.HdrSRMParam, types.SRMParamWait))
	h.pump()
	require.NoError(t, h.c.Put(false, withBody(t, types.HdrBody, "EF")))
	assert.Empty(t, h.eventsOf(event.Put), "the server asked to wait")
	assert.ErrorIs(t, h.c.Put(false, nil), types.ErrBusy, "the credit is withheld")

	h.srv.reply(types.OpPut, types.StatusContinue, nil)
	h.pump()
	require.Len(t, h.eventsOf(event.Put), 1)

	require.NoError(t, h.c.Put(true, withBody(t, types.HdrEndOfBody, "GH")))
	assert.Equal(t, PutReqSent, h.c.State())
	h.pump()
	h.srv.reply(types.OpPut, types.StatusOK, nil)
	h.pump()

	assert.Equal(t, Connected, h.c.State())
	assert.False(t, h.c.SRM())
	assert.Len(t, h.srv.reqs, 3)
}

func TestSRMGetQueuesAndPausesServer(t *testing.T) {
	h := newHarness(t, 0, Options{SRM: true, SRMQueue: 2})
	h.connect()

	require.NoError(t, h.c.Get(true, withName(t, "obj")))
	h.pump()
	req := h.srv.next()
	assert.Equal(t, uint8(types.OpGetFinal), req.Code())
	assert.True(t, header.Has(req, types.HdrSRM))

	h.srv.reply(types.OpGet, types.StatusContinue, nil,
		header.Uint8(types.HdrSRM, types.SRMEnable), header.Bytes(types.HdrBody, []byte("A")))
	h.srv.reply(types.OpGet, types.StatusContinue, nil, header.Bytes(types.HdrBody, []byte("B")))
	h.srv.reply(types.OpGet, types.StatusContinue, nil, header.Bytes(types.HdrBody, []byte("C")))
	h.pump()

	assert.Equal(t, GetSrm, h.c.State())
	gets := h.eventsOf(event.Get)
	require.Len(t, gets, 1, "later responses wait for the application")
	assert.Equal(t, "A", bodyOf(t, gets[0]))

	wait := h.srv.next()
	p, ok := header.FindUint8(wait, types.HdrSRMParam)
	require.True(t, ok, "a full queue asks the server to wait")
	assert.Equal(t, types.SRMParamWait, p)

	require.NoError(t, h.c.Get(true, nil))
	h.pump()
	resume := h.srv.next()
	assert.False(t, header.Has(resume, types.HdrSRMParam))

	require.NoError(t, h.c.Get(true, nil))
	h.srv.reply(types.OpGet, types.StatusOK, nil, header.Bytes(types.HdrEndOfBody, []byte("D")))
	h.pump()
	assert.Equal(t, GetSrm, h.c.State())

	require.NoError(t, h.c.Get(true, nil))
	assert.Equal(t, Connected, h.c.State())

	gets = h.eventsOf(event.Get)
	require.Len(t, gets, 4)
	var got string
	for _, e := range gets {
		got += bodyOf(t, e)
	}
	assert.Equal(t, "ABCD", got)
	assert.Equal(t, types.StatusOK, gets[3].Status)
	assert.Empty(t, h.srv.reqs)
}

// =============================================================================
// Reliable sessions
// =============================================================================

func TestReliableSessionSequenceNumbers(t *testing.T) {
	h := newHarness(t, 0, Options{})
	h.reliableConnect()

	require.NoError(t, h.c.Put(true, withBody(t, types.HdrEndOfBody, "AB")))
	h.pump()
	req := h.srv.next()
	ssn, ok := header.FindUint8(req, types.HdrSessionSeqNum)
	require.True(t, ok)
	assert.Equal(t, uint8(1), ssn)
	assert.Equal(t, uint8(2), h.c.Session().SSN)
}

func TestLinkLossSuspendsSession(t *testing.T) {
	h := newHarness(t, 0, Options{})
	h.reliableConnect()

	require.NoError(t, h.c.Put(true, withBody(t, types.HdrEndOfBody, "AB")))
	h.pair.Drop()
	h.pump()

	assert.Equal(t, NotConnected, h.c.State())
	assert.Equal(t, event.Close, h.last().Kind)

	sess := h.c.Session()
	assert.Equal(t, session.StateSuspended, sess.State)
	assert.True(t, sess.DropSuspended)
	assert.Equal(t, uint8(PutTransaction), sess.Saved.State)
	assert.Equal(t, uint32(9), sess.Saved.ConnectionID)
	assert.Equal(t, uint32(2), sess.Offset)
}

func TestSuspendedSessionExpires(t *testing.T) {
	h := newHarness(t, 0, Options{})
	h.reliableConnect()

	require.NoError(t, h.c.SessionRequest(types.SessOpSuspend, 0))
	h.pump()
	req := h.srv.next()
	params, _, err := session.FindParams(req)
	require.NoError(t, err)
	assert.Equal(t, types.SessOpSuspend, params.Op)

	h.srv.reply(types.OpSession, types.StatusOK, nil)
	h.pump()
	assert.Equal(t, NotConnected, h.c.State())
	assert.Equal(t, session.StateSuspended, h.c.Session().State)

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, event.Timeout, h.last().Kind)
	assert.ErrorIs(t, h.last().Err, ErrSessionExpired)
	assert.Equal(t, session.StateNone, h.c.Session().State)
}

func TestResumeRestoresConnection(t *testing.T) {
	h := newHarness(t, 0, Options{})
	h.reliableConnect()
	require.NoError(t, h.c.Put(false, withBody(t, types.HdrBody, "ABCD")))
	h.pair.Drop()
	h.pump()
	saved := h.c.Session()

	h2 := newHarness(t, 0, Options{})
	require.NoError(t, h2.c.Resume(saved))
	h2.pump()
	req := h2.srv.next()
	params, _, err := session.FindParams(req)
	require.NoError(t, err)
	assert.Equal(t, types.SessOpResume, params.Op)
	assert.Equal(t, saved.ID[:], params.ID)
	assert.Equal(t, uint32(4), params.Offset)

	sh, err := session.Params{NextSeq: 2, HasNextSeq: true, Offset: 2, HasOffset: true}.Header()
	require.NoError(t, err)
	h2.srv.reply(types.OpSession, types.StatusOK, nil, sh)
	h2.pump()

	assert.Equal(t, PutTransaction, h2.c.State())
	ev := h2.last()
	assert.Equal(t, event.Session, ev.Kind)
	assert.Equal(t, uint8(2), ev.SSN)
	assert.Equal(t, uint32(2), ev.Offset, "the server's offset wins")
	id, ok := h2.c.ConnectionID()
	assert.True(t, ok)
	assert.Equal(t, uint32(9), id)
}

// Every pair the table has no entry for is dropped without a transition, an
// event or a packet on the wire.
func TestUnlistedPairsLeaveStateAlone(t *testing.T) {
	for st := State(0); st < numStates; st++ {
		for e := evt(0); e < numEvents; e++ {
			if _, ok := lookup(st, e); ok {
				continue
			}
			t.Run(st.String()+"/"+e.String(), func(t *testing.T) {
				h := newHarness(t, 0, Options{})
				h.c.state = st

				assert.NotPanics(t, func() { h.c.dispatch(e, nil) })
				h.pump()

				assert.Equal(t, st, h.c.State())
				assert.Empty(t, h.rec.Events)
				assert.Empty(t, h.srv.reqs)
			})
		}
	}
}
