// Package stream runs OBEX over any connected byte stream: a TCP
// connection (OBEX over IP, port 650), a serial port, or an RFCOMM socket
// wrapped as a file.
//
// Sends are buffered up to a byte limit and written by a writer goroutine;
// a reader goroutine feeds received bytes to the handler.
package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"io"
	"net"
	"sync"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/types"
)

// DefaultPort is the IANA port for OBEX over TCP.
const DefaultPort = 650

// DefaultQueueLimit bounds the bytes buffered for the writer.
const DefaultQueueLimit = 256 << 10

// Options configures a Conn.
type Options struct {
	// QueueLimit bounds buffered outgoing bytes. Zero uses the default.
	QueueLimit int
	// ReadSize is the size of each read. Zero uses 16KB.
	ReadSize int
	// Name is reported by Conn.Name. Zero value is "stream".
	Name      string
	LocalAddr types.BDAddr
	PeerAddr  types.BDAddr
}

// Conn adapts an io.ReadWriteCloser to transport.Transport.
type Conn struct {
	rwc  io.ReadWriteCloser
	opts Options

	mu      sync.Mutex
	queue   [][]byte
	queued  int
	short   bool
	closed  bool
	handler transport.Handler

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New wraps rwc. Nothing is read or written until Start.
func New(rwc io.ReadWriteCloser, opts Options) *Conn {
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = DefaultQueueLimit
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = 16 << 10
	}
	if opts.Name == "" {
		opts.Name = "stream"
	}
	return &Conn{
		rwc:  rwc,
		opts: opts,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start attaches the handler and launches the reader and writer.
func (c *Conn) Start(h transport.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	go c.readLoop()
	go c.writeLoop()
}

// Send buffers as much of b as the queue limit allows.
func (c *Conn) Send(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, transport.ErrClosed
	}
	n := min(len(b), c.opts.QueueLimit-c.queued)
	if n <= 0 {
		c.short = true
		return 0, nil
	}
	c.queue = append(c.queue, append([]byte(nil), b[:n]...))
	c.queued += n
	if n < len(b) {
		c.short = true
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return n, nil
}

// Congested reports whether the write queue is full.
func (c *Conn) Congested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued >= c.opts.QueueLimit
}

// Close shuts the stream. The local handler is not notified.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		err = c.rwc.Close()
	})
	return err
}

func (c *Conn) LocalAddr() types.BDAddr { return c.opts.LocalAddr }
func (c *Conn) PeerAddr() types.BDAddr  { return c.opts.PeerAddr }
func (c *Conn) Name() string            { return c.opts.Name }

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				notify := c.short
				c.short = false
				h := c.handler
				c.mu.Unlock()
				if notify && h != nil {
					h.OnTxEmpty()
				}
				break
			}
			chunk := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if _, err := c.rwc.Write(chunk); err != nil {
				c.fail(err)
				return
			}

			c.mu.Lock()
			c.queued -= len(chunk)
			c.mu.Unlock()
		}
	}
}

func (c *Conn) readLoop() {
	buf := make([]byte, c.opts.ReadSize)
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			c.mu.Lock()
			h := c.handler
			c.mu.Unlock()
			if h != nil {
				h.OnData(append([]byte(nil), buf[:n]...))
			}
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

// fail reports a transport error once, unless the close was local.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	local := c.closed
	h := c.handler
	c.mu.Unlock()
	if local {
		return
	}
	_ = c.Close()
	if errors.Is(err, io.EOF) {
		err = transport.ErrClosed
	}
	logger.Debug("Stream transport closed", logger.KeyTransport, c.opts.Name, logger.KeyError, err)
	if h != nil {
		h.OnClose(err)
	}
}

// =============================================================================
// TCP
// =============================================================================

// AddrFromNet derives a 6-byte peer address from a network address: the
// low four bytes of the IP followed by the port, or a hash for other
// address kinds.
func AddrFromNet(a net.Addr) types.BDAddr {
	var out types.BDAddr
	if tcp, ok := a.(*net.TCPAddr); ok {
		ip := tcp.IP.To16()
		copy(out[:4], ip[len(ip)-4:])
		binary.BigEndian.PutUint16(out[4:], uint16(tcp.Port))
		return out
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(a.String()))
	sum := h.Sum(nil)
	copy(out[:], sum)
	return out
}

// Wrap builds a Conn for an established network connection.
func Wrap(nc net.Conn, opts Options) *Conn {
	if opts.Name == "" {
		opts.Name = "tcp"
	}
	if opts.LocalAddr.IsZero() {
		opts.LocalAddr = AddrFromNet(nc.LocalAddr())
	}
	if opts.PeerAddr.IsZero() {
		opts.PeerAddr = AddrFromNet(nc.RemoteAddr())
	}
	return New(nc, opts)
}

// Dial connects to an OBEX server over TCP.
func Dial(ctx context.Context, address string, opts Options) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return Wrap(nc, opts), nil
}

// Listener accepts OBEX connections over TCP.
type Listener struct {
	ln   net.Listener
	opts Options
}

// Listen opens a TCP listener.
func Listen(ctx context.Context, address string, opts Options) (*Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, opts: opts}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept() (*Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return Wrap(nc, l.opts), nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops listening.
func (l *Listener) Close() error { return l.ln.Close() }
