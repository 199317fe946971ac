package adapter

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/client"
	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/server"
	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/transport/stream"
	"github.com/marmos91/obexd/internal/obex/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	clientAddr = types.BDAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverAddr = types.BDAddr{0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB}
)

// chanListener accepts transports pushed by the test.
type chanListener struct {
	conns chan transport.Transport
	done  chan struct{}
	once  sync.Once
}

func newChanListener() *chanListener {
	return &chanListener{conns: make(chan transport.Transport, 4), done: make(chan struct{})}
}

func (l *chanListener) Accept(ctx context.Context) (transport.Transport, error) {
	select {
	case tr := <-l.conns:
		return tr, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *chanListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *chanListener) Addr() string { return "chan" }

// counter counts events by kind across goroutines.
type counter struct {
	mu sync.Mutex
	n  map[event.Kind]int
}

func (c *counter) add(k event.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = map[event.Kind]int{}
	}
	c.n[k]++
}

func (c *counter) get(k event.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[k]
}

func (c *counter) sink(_ *engine.Conn, ev event.Event) {
	ev.Release()
	c.add(ev.Kind)
}

// answering accepts Connect and Disconnect.
func answering(cnt *counter) engine.Sink {
	return func(c *engine.Conn, ev event.Event) {
		switch ev.Kind {
		case event.Connect:
			_ = c.Server().ConnectResponse(types.StatusOK, nil)
		case event.Disconnect:
			_ = c.Server().DisconnectResponse(types.StatusOK, nil)
		}
		ev.Release()
		cnt.add(ev.Kind)
	}
}

func startEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(engine.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e
}

func pipe() (cli, srv *stream.Conn) {
	a, b := net.Pipe()
	return stream.New(a, stream.Options{Name: "pipe", LocalAddr: clientAddr, PeerAddr: serverAddr}),
		stream.New(b, stream.Options{Name: "pipe", LocalAddr: serverAddr, PeerAddr: clientAddr})
}

// serve runs the adapter's accept loop and returns a channel with its
// result.
func serve(ctx context.Context, b *BaseAdapter, ln Listener) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- b.ServeListener(ctx, ln) }()
	return errc
}

func connectClient(t *testing.T, e *engine.Engine, tr transport.Transport) (engine.Handle, *counter) {
	t.Helper()
	ctx := context.Background()
	cnt := &counter{}
	h, err := e.AddClient(ctx, tr, cnt.sink, client.Options{})
	require.NoError(t, err)
	require.NoError(t, e.WithClient(ctx, h, func(c *client.Client) error {
		return c.Connect(client.ConnectParams{})
	}))
	require.Eventually(t, func() bool { return cnt.get(event.Connect) == 1 }, waitFor, tick)
	return h, cnt
}

func TestAcceptedSessionsAreServed(t *testing.T) {
	e := startEngine(t)
	srvEvents := &counter{}
	b := NewBaseAdapter(BaseConfig{ShutdownTimeout: time.Second}, "TEST", e, answering(srvEvents), server.Options{})
	ln := newChanListener()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := serve(ctx, b, ln)
	assert.Equal(t, "chan", b.Addr())

	ct, st := pipe()
	ln.conns <- st
	h, _ := connectClient(t, e, ct)
	assert.Equal(t, 1, srvEvents.get(event.Connect))
	assert.Equal(t, int32(1), b.ActiveConnections())

	cancel()
	require.NoError(t, e.Remove(context.Background(), h))

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("adapter did not shut down")
	}
	assert.Equal(t, int32(0), b.ActiveConnections())
	assert.Equal(t, 1, srvEvents.get(event.Close))
}

func TestStopTimeoutRemovesSessions(t *testing.T) {
	e := startEngine(t)
	srvEvents := &counter{}
	b := NewBaseAdapter(BaseConfig{ShutdownTimeout: 50 * time.Millisecond}, "TEST", e, answering(srvEvents), server.Options{})
	ln := newChanListener()

	ctx, cancel := context.WithCancel(context.Background())
	errc := serve(ctx, b, ln)

	ct, st := pipe()
	ln.conns <- st
	connectClient(t, e, ct)

	cancel()
	select {
	case err := <-errc:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sessions removed")
	case <-time.After(waitFor):
		t.Fatal("adapter did not shut down")
	}
	assert.Equal(t, 1, srvEvents.get(event.Close))
	assert.Equal(t, int32(0), b.ActiveConnections())
}

func TestConnectionLimitDefersAccept(t *testing.T) {
	e := startEngine(t)
	srvEvents := &counter{}
	b := NewBaseAdapter(BaseConfig{MaxConnections: 1, ShutdownTimeout: time.Second}, "TEST", e, answering(srvEvents), server.Options{})
	ln := newChanListener()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serve(ctx, b, ln)

	ct1, st1 := pipe()
	ct2, st2 := pipe()
	ln.conns <- st1
	h1, _ := connectClient(t, e, ct1)
	ln.conns <- st2

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), b.ActiveConnections(), "second connection waits for a slot")
	assert.Equal(t, 1, srvEvents.get(event.Connect))

	require.NoError(t, e.Remove(context.Background(), h1))
	_, _ = connectClient(t, e, ct2)
	assert.Equal(t, 2, srvEvents.get(event.Connect))
	assert.Equal(t, int32(1), b.ActiveConnections())
}

func TestStopIsIdempotent(t *testing.T) {
	e := startEngine(t)
	b := NewBaseAdapter(BaseConfig{ShutdownTimeout: time.Second}, "TEST", e, nil, server.Options{})
	errc := serve(context.Background(), b, newChanListener())
	<-b.ready

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Stop(ctx))
	require.NoError(t, b.Stop(ctx))
	assert.NoError(t, <-errc)
}

func TestTCPAdapter(t *testing.T) {
	e := startEngine(t)
	srvEvents := &counter{}
	a := NewTCP(TCPConfig{
		BaseConfig:  BaseConfig{ShutdownTimeout: time.Second},
		BindAddress: "127.0.0.1",
	}, e, answering(srvEvents), server.Options{})
	assert.Equal(t, "TCP", a.Protocol())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Serve(ctx) }()

	tr, err := stream.Dial(ctx, a.Addr(), stream.Options{})
	require.NoError(t, err)
	connectClient(t, e, tr)
	assert.Equal(t, 1, srvEvents.get(event.Connect))
}
