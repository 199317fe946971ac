package inbox

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/client"
	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/server"
	"github.com/marmos91/obexd/internal/obex/transport/stream"
	"github.com/marmos91/obexd/internal/obex/types"
)

const waitFor = 2 * time.Second

var (
	clientAddr = types.BDAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverAddr = types.BDAddr{0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB}
)

type result struct {
	kind   event.Kind
	status types.Status
	body   []byte
}

// peer is an OBEX client driven through the engine. Its sink keeps
// asking for the rest of a Get and reports each finished request.
type peer struct {
	t       *testing.T
	e       *engine.Engine
	h       engine.Handle
	results chan result
	body    []byte
}

func (p *peer) sink(c *engine.Conn, ev event.Event) {
	defer ev.Release()
	switch ev.Kind {
	case event.Get:
		if ev.Packet != nil {
			if b, _, ok := header.ReadBody(ev.Packet); ok {
				p.body = append(p.body, b...)
			}
		}
		if ev.Status == types.StatusContinue {
			_ = c.Client().Get(true, nil)
			return
		}
		p.results <- result{kind: ev.Kind, status: ev.Status, body: p.body}
		p.body = nil
	case event.Progress, event.Close:
	default:
		p.results <- result{kind: ev.Kind, status: ev.Status}
	}
}

func (p *peer) do(f func(c *client.Client) error) {
	p.t.Helper()
	require.NoError(p.t, p.e.WithClient(context.Background(), p.h, f))
}

func (p *peer) wait(k event.Kind) result {
	p.t.Helper()
	select {
	case r := <-p.results:
		require.Equal(p.t, k, r.kind)
		return r
	case <-time.After(waitFor):
		p.t.Fatalf("no %s confirmation", k)
		return result{}
	}
}

// request sends one request built by f and returns its confirmation.
func (p *peer) request(k event.Kind, f func(c *client.Client) error) types.Status {
	p.t.Helper()
	p.do(f)
	return p.wait(k).status
}

func setup(t *testing.T, in *Inbox, srvOpts server.Options, cliOpts client.Options) *peer {
	t.Helper()
	e := engine.New(engine.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})

	a, b := net.Pipe()
	ct := stream.New(a, stream.Options{Name: "pipe", LocalAddr: clientAddr, PeerAddr: serverAddr})
	st := stream.New(b, stream.Options{Name: "pipe", LocalAddr: serverAddr, PeerAddr: clientAddr})

	_, err := e.AddServer(ctx, st, in.Sink(), srvOpts)
	require.NoError(t, err)
	p := &peer{t: t, e: e, results: make(chan result, 16)}
	p.h, err = e.AddClient(ctx, ct, p.sink, cliOpts)
	require.NoError(t, err)

	status := p.request(event.Connect, func(c *client.Client) error {
		return c.Connect(client.ConnectParams{})
	})
	require.Equal(t, types.StatusOK, status)
	return p
}

func headers(t *testing.T, hs ...header.Header) *packet.Packet {
	t.Helper()
	p := packet.New(1024)
	require.NoError(t, header.EncodeAll(p, hs...))
	return p
}

func name(t *testing.T, id types.HeaderID, s string) header.Header {
	t.Helper()
	h, err := header.Unicode(id, s)
	require.NoError(t, err)
	return h
}

func (p *peer) put(objName string, data []byte) types.Status {
	p.t.Helper()
	return p.request(event.Put, func(c *client.Client) error {
		return c.Put(true, headers(p.t, name(p.t, types.HdrName, objName), header.Bytes(types.HdrEndOfBody, data)))
	})
}

func (p *peer) get(objName string) result {
	p.t.Helper()
	p.do(func(c *client.Client) error {
		return c.Get(true, headers(p.t, name(p.t, types.HdrName, objName)))
	})
	return p.wait(event.Get)
}

func (p *peer) setPath(flags uint8, folder string) types.Status {
	p.t.Helper()
	return p.request(event.SetPath, func(c *client.Client) error {
		var hs []header.Header
		if folder != "" || flags&types.SetPathBackup == 0 {
			hs = append(hs, name(p.t, types.HdrName, folder))
		}
		return c.SetPath(flags, headers(p.t, hs...))
	})
}

func TestPushAndPull(t *testing.T) {
	in := New(NewStore(Limits{}), Options{})
	// A small client MTU splits the Get into several responses.
	p := setup(t, in, server.Options{}, client.Options{MTU: types.MinMTU})

	data := bytes.Repeat([]byte("0123456789"), 100)
	status := p.request(event.Put, func(c *client.Client) error {
		return c.Put(false, headers(t,
			name(t, types.HdrName, "note.txt"),
			header.Bytes(types.HdrType, []byte("text/plain\x00")),
			header.Uint32(types.HdrLength, uint32(len(data))),
			header.Bytes(types.HdrBody, data[:600])))
	})
	assert.Equal(t, types.StatusContinue, status)
	status = p.request(event.Put, func(c *client.Client) error {
		return c.Put(true, headers(t, header.Bytes(types.HdrEndOfBody, data[600:])))
	})
	require.Equal(t, types.StatusOK, status)

	obj, err := in.Store().Get("", "note.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", obj.Type)
	assert.Equal(t, data, obj.Data)

	r := p.get("note.txt")
	assert.Equal(t, types.StatusOK, r.status)
	assert.Equal(t, data, r.body)

	assert.Equal(t, types.StatusNotFound, p.get("missing").status)
}

func TestPullWithSRM(t *testing.T) {
	store := NewStore(Limits{})
	data := bytes.Repeat([]byte("srm"), 500)
	require.NoError(t, store.Put("", Object{Name: "stream.bin", Data: data}))
	in := New(store, Options{})
	p := setup(t, in, server.Options{SRM: true}, client.Options{MTU: types.MinMTU, SRM: true})

	r := p.get("stream.bin")
	assert.Equal(t, types.StatusOK, r.status)
	assert.Equal(t, data, r.body)
}

func TestPutDeleteAndCreateEmpty(t *testing.T) {
	in := New(NewStore(Limits{}), Options{})
	p := setup(t, in, server.Options{}, client.Options{})

	deleteReq := func(c *client.Client) error {
		return c.Put(true, headers(t, name(t, types.HdrName, "empty")))
	}
	assert.Equal(t, types.StatusNotFound, p.request(event.Put, deleteReq))

	assert.Equal(t, types.StatusOK, p.put("empty", nil))
	obj, err := in.Store().Get("", "empty")
	require.NoError(t, err)
	assert.Zero(t, obj.Size)

	assert.Equal(t, types.StatusOK, p.request(event.Put, deleteReq))
	_, err = in.Store().Get("", "empty")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetPathNavigation(t *testing.T) {
	in := New(NewStore(Limits{}), Options{})
	p := setup(t, in, server.Options{}, client.Options{})

	assert.Equal(t, types.StatusNotFound, p.setPath(types.SetPathBackup, ""), "no parent of root")
	assert.Equal(t, types.StatusNotFound, p.setPath(types.SetPathNoCreate, "missing"))

	require.Equal(t, types.StatusOK, p.setPath(0, "photos"))
	require.Equal(t, types.StatusOK, p.put("cat.jpg", []byte("meow")))
	require.Equal(t, types.StatusOK, p.setPath(0, "2026"))
	require.Equal(t, types.StatusOK, p.put("dog.jpg", []byte("woof")))

	require.Equal(t, types.StatusOK, p.setPath(types.SetPathBackup, ""))
	assert.Equal(t, types.StatusOK, p.get("cat.jpg").status)
	require.Equal(t, types.StatusOK, p.setPath(types.SetPathNoCreate, "2026"))
	assert.Equal(t, []byte("woof"), p.get("dog.jpg").body)
	require.Equal(t, types.StatusOK, p.setPath(types.SetPathBackup|types.SetPathNoCreate, "2026"), "backup then descend")

	require.Equal(t, types.StatusOK, p.setPath(0, ""), "empty name returns to root")
	assert.Equal(t, types.StatusNotFound, p.get("cat.jpg").status)

	_, err := in.Store().Get("photos/2026", "dog.jpg")
	assert.NoError(t, err)
}

func TestActions(t *testing.T) {
	in := New(NewStore(Limits{}), Options{})
	p := setup(t, in, server.Options{}, client.Options{})
	require.Equal(t, types.StatusOK, p.put("a.vcf", []byte("BEGIN:VCARD")))

	action := func(id types.ActionID, hs ...header.Header) types.Status {
		return p.request(event.Action, func(c *client.Client) error {
			return c.Action(id, headers(t, hs...))
		})
	}

	assert.Equal(t, types.StatusOK, action(types.ActionCopy,
		name(t, types.HdrName, "a.vcf"), name(t, types.HdrDestName, "b.vcf")))
	assert.Equal(t, types.StatusConflict, action(types.ActionCopy,
		name(t, types.HdrName, "a.vcf"), name(t, types.HdrDestName, "b.vcf")))
	assert.Equal(t, types.StatusOK, action(types.ActionMove,
		name(t, types.HdrName, "b.vcf"), name(t, types.HdrDestName, "c.vcf")))
	assert.Equal(t, types.StatusNotFound, action(types.ActionMove,
		name(t, types.HdrName, "b.vcf"), name(t, types.HdrDestName, "d.vcf")))
	assert.Equal(t, types.StatusOK, action(types.ActionSetPermissions,
		name(t, types.HdrName, "c.vcf"), header.Uint32(types.HdrPermissions, 0x00010101)))

	obj, err := in.Store().Get("", "c.vcf")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00010101), obj.Permissions)
	assert.Equal(t, "BEGIN:VCARD", string(obj.Data))
}

func TestReadOnlyAndLimits(t *testing.T) {
	ro := New(NewStore(Limits{}), Options{ReadOnly: true})
	p := setup(t, ro, server.Options{}, client.Options{})
	assert.Equal(t, types.StatusForbidden, p.put("x", []byte("data")))
	assert.Equal(t, types.StatusForbidden, p.setPath(0, "new"))

	small := New(NewStore(Limits{MaxObjectSize: 4}), Options{})
	p = setup(t, small, server.Options{}, client.Options{})
	assert.Equal(t, types.StatusRequestEntityTooLarge, p.put("x", []byte("too large")))
	assert.Equal(t, types.StatusBadRequest, p.put("../escape", []byte("a")))
}

func TestParkedTransferResumes(t *testing.T) {
	in := New(NewStore(Limits{}), Options{})

	st := &connState{folder: "sub", reliable: true, xfer: &transfer{folder: "sub", name: "x", put: true, data: []byte("abcdef")}}
	in.closed(st, clientAddr, event.Event{Kind: event.Close, Err: io.ErrUnexpectedEOF})
	assert.Equal(t, 1, in.Parked())

	lost := &connState{reliable: true, xfer: &transfer{put: true}}
	in.closed(lost, serverAddr, event.Event{Kind: event.Close, Err: server.ErrProtocol})
	assert.Equal(t, 1, in.Parked(), "protocol errors do not park")

	plain := &connState{xfer: &transfer{put: true}}
	in.closed(plain, serverAddr, event.Event{Kind: event.Close, Err: io.EOF})
	assert.Equal(t, 1, in.Parked(), "no reliable session, nothing to resume")

	x := in.parked[clientAddr].resumeAt(4)
	assert.Equal(t, "abcd", string(x.data), "uploads restart after the confirmed bytes")

	dl := (&transfer{data: []byte("abcdef")}).resumeAt(10)
	assert.Equal(t, 6, dl.off, "offset is clamped to the object")
}
