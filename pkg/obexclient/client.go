// Package obexclient is a blocking OBEX client for command line tools.
//
// Each Client owns a private engine and one connection. Requests are issued
// through the engine and the caller blocks until the confirmation arrives,
// so Push and Pull read and write ordinary io streams.
package obexclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/client"
	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/transport/rfcomm"
	"github.com/marmos91/obexd/internal/obex/transport/stream"
	"github.com/marmos91/obexd/internal/obex/types"
)

// Transports accepted by Config.Transport.
const (
	TransportTCP    = "tcp"
	TransportRFCOMM = "rfcomm"
)

// CredentialsFunc answers an authentication challenge. Returning a nil
// password gives up.
type CredentialsFunc func(realm string, userIDRequired bool) (userID, password []byte, err error)

// Config describes the peer and the connection.
type Config struct {
	Transport string
	// Address is host:port for TCP or a Bluetooth address for RFCOMM.
	Address string
	Channel uint8

	Options client.Options

	// Target selects a directed service. Nil reaches the default inbox.
	Target []byte

	// Reliable creates a reliable session before connecting.
	Reliable       bool
	SessionTimeout uint32

	Credentials CredentialsFunc

	// Progress is called with the object bytes moved by each packet.
	Progress func(n int)
}

// Client is a connected OBEX client.
type Client struct {
	cfg    Config
	e      *engine.Engine
	h      engine.Handle
	cancel context.CancelFunc
	q      *queue

	closeOnce sync.Once
}

// Dial opens the transport and connects.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	tr, err := dialTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return Open(ctx, tr, cfg)
}

func dialTransport(ctx context.Context, cfg Config) (transport.Transport, error) {
	opts := stream.Options{Name: cfg.Transport}
	switch cfg.Transport {
	case TransportTCP, "":
		c, err := stream.Dial(ctx, cfg.Address, opts)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
		}
		return c, nil
	case TransportRFCOMM:
		addr, err := types.ParseBDAddr(cfg.Address)
		if err != nil {
			return nil, err
		}
		c, err := rfcomm.Dial(ctx, addr, cfg.Channel, opts)
		if err != nil {
			return nil, fmt.Errorf("dial %s channel %d: %w", addr, cfg.Channel, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Open connects over an already open transport.
func Open(ctx context.Context, tr transport.Transport, cfg Config) (*Client, error) {
	if cfg.Progress != nil {
		cfg.Options.Progress = true
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		e:      engine.New(engine.Options{MaxConnections: 1, Metrics: cfg.Options.Metrics}),
		cancel: cancel,
		q:      newQueue(),
	}
	go func() { _ = c.e.Run(runCtx) }()

	h, err := c.e.AddClient(ctx, tr, c.sink, cfg.Options)
	if err != nil {
		_ = tr.Close()
		c.stop()
		return nil, err
	}
	c.h = h

	if err := c.connect(ctx); err != nil {
		c.stop()
		return nil, err
	}
	return c, nil
}

// sink runs on the event loop and must not block.
func (c *Client) sink(_ *engine.Conn, ev event.Event) {
	if ev.Kind == event.Progress {
		if c.cfg.Progress != nil {
			c.cfg.Progress(ev.Bytes)
		}
		return
	}
	c.q.push(ev)
}

func (c *Client) stop() {
	c.cancel()
	<-c.e.Done()
}

// do runs f against the client on the event loop.
func (c *Client) do(ctx context.Context, f func(*client.Client) error) error {
	return c.e.WithClient(ctx, c.h, f)
}

// wait returns the next confirmation of kind k. Credential requests are
// answered on the way. A Close or Timeout ends the wait with an error.
func (c *Client) wait(ctx context.Context, k event.Kind) (event.Event, error) {
	for {
		ev, err := c.q.pop(ctx)
		if err != nil {
			return event.Event{}, err
		}
		switch ev.Kind {
		case k:
			return ev, nil
		case event.PasswordRequired:
			if err := c.answerChallenge(ctx, ev); err != nil {
				return event.Event{}, err
			}
		case event.Close:
			if ev.Err != nil {
				return event.Event{}, fmt.Errorf("%w: %v", types.ErrClosed, ev.Err)
			}
			return event.Event{}, types.ErrClosed
		case event.Timeout:
			return event.Event{}, fmt.Errorf("%w: %v", ErrTimeout, ev.Err)
		default:
			logger.Debug("Ignoring event", logger.KeyEvent, ev.String())
			ev.Release()
		}
	}
}

func (c *Client) answerChallenge(ctx context.Context, ev event.Event) error {
	realm, needUserID := string(ev.Realm), ev.UserIDRequired
	ev.Release()

	var userID, password []byte
	if c.cfg.Credentials != nil {
		var err error
		userID, password, err = c.cfg.Credentials(realm, needUserID)
		if err != nil {
			return err
		}
	}
	return c.do(ctx, func(cl *client.Client) error {
		return cl.AuthResponse(password, userID, false)
	})
}

func (c *Client) connect(ctx context.Context) error {
	err := c.do(ctx, func(cl *client.Client) error {
		p := cl.NewPacket()
		if c.cfg.Target != nil {
			if err := header.Encode(p, header.Bytes(types.HdrTarget, c.cfg.Target)); err != nil {
				p.Release()
				return err
			}
		}
		return cl.Connect(client.ConnectParams{
			Packet:         p,
			Reliable:       c.cfg.Reliable,
			SessionTimeout: c.cfg.SessionTimeout,
		})
	})
	if err != nil {
		return err
	}
	ev, err := c.wait(ctx, event.Connect)
	if err != nil {
		return err
	}
	defer ev.Release()
	return check("connect", ev.Status)
}

// Close disconnects and stops the engine. It is safe to call twice.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.do(ctx, func(cl *client.Client) error { return cl.Disconnect() })
		if err == nil {
			var ev event.Event
			ev, err = c.wait(ctx, event.Disconnect)
			if err == nil {
				ev.Release()
				err = check("disconnect", ev.Status)
			}
		}
		_ = c.e.Remove(ctx, c.h)
		c.stop()
	})
	if errors.Is(err, types.ErrClosed) {
		return nil
	}
	return err
}

// queue buffers events between the loop and the blocked caller.
type queue struct {
	mu     sync.Mutex
	items  []event.Event
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(ev event.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) pop(ctx context.Context) (event.Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = event.Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return event.Event{}, ctx.Err()
		}
	}
}
