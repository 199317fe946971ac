package engine

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/client"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/server"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/transport/stream"
	"github.com/marmos91/obexd/internal/obex/types"
)

var (
	addrA = types.BDAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	addrB = types.BDAddr{0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB}
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// recorder collects events delivered on the event loop so the test
// goroutine can inspect them.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
	body   []byte
}

func (r *recorder) add(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Packet != nil {
		if b, _, ok := header.ReadBody(ev.Packet); ok {
			r.body = append(r.body, b...)
		}
		ev.Release()
	}
	r.events = append(r.events, ev)
}

func (r *recorder) sink(_ *Conn, ev event.Event) { r.add(ev) }

func (r *recorder) count(k event.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

func (r *recorder) last(k event.Kind) event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == k {
			return r.events[i]
		}
	}
	return event.Event{}
}

func (r *recorder) received() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.body)
}

// acceptAll is a server sink accepting every request.
func acceptAll(r *recorder) Sink {
	return func(c *Conn, ev event.Event) {
		s := c.Server()
		switch ev.Kind {
		case event.Connect:
			_ = s.ConnectResponse(types.StatusOK, nil)
		case event.Put:
			st := types.StatusContinue
			if ev.Final {
				st = types.StatusOK
			}
			_ = s.PutResponse(st, nil)
		case event.Disconnect:
			_ = s.DisconnectResponse(types.StatusOK, nil)
		}
		r.add(ev)
	}
}

func startEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e
}

func pipe() (*stream.Conn, *stream.Conn) {
	a, b := net.Pipe()
	return stream.New(a, stream.Options{Name: "pipe", LocalAddr: addrA, PeerAddr: addrB}),
		stream.New(b, stream.Options{Name: "pipe", LocalAddr: addrB, PeerAddr: addrA})
}

func body(t *testing.T, id types.HeaderID, s string) *packet.Packet {
	t.Helper()
	p := packet.New(1024)
	require.NoError(t, header.Encode(p, header.Bytes(id, []byte(s))))
	return p
}

// pair starts a server and a client connected to each other.
func pair(t *testing.T, e *Engine) (cli, srv *recorder, h Handle) {
	t.Helper()
	ctx := context.Background()
	ct, st := pipe()
	srv, cli = &recorder{}, &recorder{}

	_, err := e.AddServer(ctx, st, acceptAll(srv), server.Options{})
	require.NoError(t, err)
	h, err = e.AddClient(ctx, ct, cli.sink, client.Options{})
	require.NoError(t, err)
	return cli, srv, h
}

func TestPutThroughEngine(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, Options{})
	cli, srv, h := pair(t, e)

	require.NoError(t, e.WithClient(ctx, h, func(c *client.Client) error {
		return c.Connect(client.ConnectParams{})
	}))
	require.Eventually(t, func() bool { return cli.count(event.Connect) == 1 }, waitFor, tick)
	assert.Equal(t, types.StatusOK, cli.last(event.Connect).Status)

	require.NoError(t, e.WithClient(ctx, h, func(c *client.Client) error {
		return c.Put(false, body(t, types.HdrBody, "AB"))
	}))
	require.Eventually(t, func() bool { return cli.count(event.Put) == 1 }, waitFor, tick)
	assert.Equal(t, types.StatusContinue, cli.last(event.Put).Status)

	require.NoError(t, e.WithClient(ctx, h, func(c *client.Client) error {
		return c.Put(true, body(t, types.HdrEndOfBody, "CD"))
	}))
	require.Eventually(t, func() bool { return cli.count(event.Put) == 2 }, waitFor, tick)
	assert.Equal(t, types.StatusOK, cli.last(event.Put).Status)
	assert.Equal(t, "ABCD", srv.received())

	require.NoError(t, e.WithClient(ctx, h, func(c *client.Client) error { return c.Disconnect() }))
	require.Eventually(t, func() bool { return cli.count(event.Disconnect) == 1 }, waitFor, tick)

	conns, err := e.Connections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 2)
	for _, ci := range conns {
		assert.Equal(t, "not_connected", ci.State, "%s side", ci.Role)
		assert.Equal(t, "pipe", ci.Transport)
	}
}

func TestRemoveInvalidatesHandle(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, Options{})
	cli, srv, h := pair(t, e)

	require.NoError(t, e.Remove(ctx, h))
	assert.Equal(t, 1, cli.count(event.Close))

	err := e.WithClient(ctx, h, func(*client.Client) error { return nil })
	assert.ErrorIs(t, err, types.ErrBadHandle)
	assert.ErrorIs(t, e.Remove(ctx, h), types.ErrBadHandle)

	// The server sees the stream end and releases its slot.
	require.Eventually(t, func() bool { return srv.count(event.Close) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool {
		conns, err := e.Connections(ctx)
		return err == nil && len(conns) == 0
	}, waitFor, tick)
	assert.Equal(t, 1, cli.count(event.Close), "close is delivered once")
}

func TestConnectionLimit(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, Options{MaxConnections: 1})
	ct, st := pipe()
	t.Cleanup(func() { _ = ct.Close() })

	_, err := e.AddServer(ctx, st, nil, server.Options{})
	require.NoError(t, err)
	_, err = e.AddClient(ctx, ct, nil, client.Options{})
	assert.ErrorIs(t, err, types.ErrNoResources)
}

type bareTransport struct{}

func (bareTransport) Send(b []byte) (int, error) { return len(b), nil }
func (bareTransport) Congested() bool            { return false }
func (bareTransport) Close() error               { return nil }
func (bareTransport) LocalAddr() types.BDAddr    { return addrA }
func (bareTransport) PeerAddr() types.BDAddr     { return addrB }
func (bareTransport) Name() string               { return "bare" }

func TestTransportMustBeStartable(t *testing.T) {
	e := startEngine(t, Options{})
	_, err := e.AddServer(context.Background(), bareTransport{}, nil, server.Options{})
	assert.ErrorIs(t, err, types.ErrBadParameters)
}

func TestHandleRoleMismatch(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, Options{})
	_, _, h := pair(t, e)

	err := e.WithServer(ctx, h, func(*server.Session) error { return nil })
	assert.ErrorIs(t, err, types.ErrBadHandle)

	called := false
	require.NoError(t, e.WithClient(ctx, h, func(c *client.Client) error {
		called = true
		assert.Equal(t, client.NotConnected, c.State())
		return nil
	}))
	assert.True(t, called)
}

func TestRunTwice(t *testing.T) {
	e := startEngine(t, Options{})
	// Do returns once the loop is running.
	require.NoError(t, e.Do(context.Background(), func() error { return nil }))
	assert.ErrorIs(t, e.Run(context.Background()), types.ErrWrongState)
}

func TestShutdownClosesConnections(t *testing.T) {
	e := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()

	cli, srv, _ := pair(t, e)
	cancel()
	<-e.Done()

	assert.Equal(t, 1, cli.count(event.Close))
	assert.Equal(t, 1, srv.count(event.Close))
	assert.ErrorIs(t, e.Do(context.Background(), func() error { return nil }), types.ErrClosed)
}

func TestPanicIsRecovered(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, Options{})

	err := e.Do(ctx, func() error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	sentinel := errors.New("still serving")
	assert.ErrorIs(t, e.Do(ctx, func() error { return sentinel }), sentinel)
}

func TestSchedulerRunsOnLoop(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, Options{})

	fired := make(chan int, 1)
	counter := 0
	require.NoError(t, e.Do(ctx, func() error {
		e.Scheduler().AfterFunc(time.Millisecond, func() {
			counter++
			fired <- counter
		})
		return nil
	}))

	select {
	case n := <-fired:
		assert.Equal(t, 1, n)
	case <-time.After(waitFor):
		t.Fatal("timer did not fire")
	}
}

func TestSuspendedSnapshot(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, Options{MaxSuspended: 2})

	entry := session.Entry{Addr: addrB, ID: [types.SessionIDSize]byte{1, 2, 3}, SSN: 4, Timeout: 60}
	require.NoError(t, e.Do(ctx, func() error {
		e.Sessions().Put(ctx, entry)
		return nil
	}))

	got, err := e.Suspended(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, addrB, got[0].Addr)
	assert.Equal(t, uint8(4), got[0].SSN)
}

func TestCallHonoursContext(t *testing.T) {
	// An engine that never runs cannot answer.
	e := New(Options{QueueSize: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := e.Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
