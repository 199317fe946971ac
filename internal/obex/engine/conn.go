package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/client"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/server"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/pkg/metrics"
)

// Role is the side a connection plays.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Sink receives the events of one connection on the event loop. It may
// call back into c, for example to answer a server indication, but must
// not block.
type Sink func(c *Conn, ev event.Event)

// Conn is a connection owned by the engine. Its methods must only be used
// on the event loop: inside a Sink or a WithClient/WithServer callback.
type Conn struct {
	e      *Engine
	handle Handle
	role   Role
	tr     transport.Transport
	sink   Sink
	opened time.Time

	client *client.Client
	server *server.Session
}

func (c *Conn) Handle() Handle                 { return c.handle }
func (c *Conn) Role() Role                     { return c.role }
func (c *Conn) Transport() transport.Transport { return c.tr }

// Client returns the client state machine, or nil on a server connection.
func (c *Conn) Client() *client.Client { return c.client }

// Server returns the server state machine, or nil on a client connection.
func (c *Conn) Server() *server.Session { return c.server }

// State returns the state machine state name.
func (c *Conn) State() string {
	if c.client != nil {
		return c.client.State().String()
	}
	return c.server.State().String()
}

func (c *Conn) live() bool {
	cur, ok := c.e.conns.get(c.handle)
	return ok && cur == c
}

// deliver hands an event to the application. The slot is released after
// the Close event, which is always the last one.
func (c *Conn) deliver(ev event.Event) {
	kind := ev.Kind
	if c.sink != nil {
		c.sink(c, ev)
	} else {
		ev.Release()
	}
	switch kind {
	case event.Close:
		c.e.release(c)
	case event.Session:
		metrics.SetSuspendedSessions(c.e.opts.Metrics, c.e.sessions.Len())
	}
}

// close tears the connection down. The state machine delivers Close.
func (c *Conn) close() {
	var err error
	if c.client != nil {
		err = c.client.Close()
	} else {
		err = c.server.Close()
	}
	if err != nil {
		logger.Debug("Error closing transport", logger.KeyHandle, c.handle.String(), logger.Err(err))
	}
	if c.live() {
		c.e.release(c)
	}
}

// transportHandler routes transport callbacks through the event loop.
// Callbacks for a connection that has since closed are dropped.
func (c *Conn) transportHandler(inner transport.Handler) transport.Handler {
	run := func(name string, f func()) {
		c.e.postAsync(task{name: name, handle: c.handle, f: func(context.Context) {
			if c.live() {
				f()
			}
		}})
	}
	return transport.HandlerFuncs{
		Data:    func(b []byte) { run("data", func() { inner.OnData(b) }) },
		TxEmpty: func() { run("tx_empty", inner.OnTxEmpty) },
		Flow:    func(on bool) { run("flow", func() { inner.OnFlow(on) }) },
		Closed:  func(err error) { run("transport_close", func() { inner.OnClose(err) }) },
	}
}

func (e *Engine) release(c *Conn) {
	if !e.conns.free(c.handle) {
		return
	}
	logger.Debug("Connection released",
		logger.KeyHandle, c.handle.String(),
		logger.KeyRole, string(c.role),
		logger.Peer(c.tr.PeerAddr()),
		logger.KeyDurationMs, float64(time.Since(c.opened).Milliseconds()))
	e.updateConnMetrics(c.role)
	metrics.SetSuspendedSessions(e.opts.Metrics, e.sessions.Len())
}

func (e *Engine) updateConnMetrics(role Role) {
	if e.opts.Metrics == nil {
		return
	}
	n := 0
	e.conns.each(func(c *Conn) {
		if c.role == role {
			n++
		}
	})
	metrics.SetConnections(e.opts.Metrics, string(role), n)
}

// add registers a connection and starts its transport. build creates the
// state machine and returns its transport handler.
func (e *Engine) add(role Role, tr transport.Transport, sink Sink, build func(c *Conn) transport.Handler) (Handle, error) {
	st, ok := tr.(transport.Starter)
	if !ok {
		return Handle{}, fmt.Errorf("%w: transport %s cannot be started", types.ErrBadParameters, tr.Name())
	}
	c := &Conn{e: e, role: role, tr: tr, sink: sink, opened: time.Now()}
	h, err := e.conns.alloc(c)
	if err != nil {
		return Handle{}, err
	}
	c.handle = h
	st.Start(c.transportHandler(build(c)))

	logger.Debug("Connection added",
		logger.KeyHandle, h.String(),
		logger.KeyRole, string(role),
		logger.KeyTransport, tr.Name(),
		logger.Peer(tr.PeerAddr()))
	e.updateConnMetrics(role)
	return h, nil
}

// AddClient starts a client on a connected transport. The transport must
// implement transport.Starter. Call Connect through WithClient.
func (e *Engine) AddClient(ctx context.Context, tr transport.Transport, sink Sink, opts client.Options) (Handle, error) {
	var h Handle
	err := e.call(ctx, "add_client", Handle{}, func(context.Context) error {
		opts.Scheduler = e.Scheduler()
		if opts.Metrics == nil {
			opts.Metrics = e.opts.Metrics
		}
		var err error
		h, err = e.add(RoleClient, tr, sink, func(c *Conn) transport.Handler {
			c.client = client.New(tr, c.deliver, opts)
			return c.client.Handler()
		})
		return err
	})
	return h, err
}

// AddServer starts a server session on an accepted transport. All servers
// of an engine share its suspended session table.
func (e *Engine) AddServer(ctx context.Context, tr transport.Transport, sink Sink, opts server.Options) (Handle, error) {
	var h Handle
	err := e.call(ctx, "add_server", Handle{}, func(context.Context) error {
		opts.Scheduler = e.Scheduler()
		opts.Sessions = e.sessions
		if opts.Metrics == nil {
			opts.Metrics = e.opts.Metrics
		}
		var err error
		h, err = e.add(RoleServer, tr, sink, func(c *Conn) transport.Handler {
			c.server = server.New(tr, c.deliver, opts)
			return c.server.Handler()
		})
		return err
	})
	return h, err
}

func (e *Engine) lookup(h Handle) (*Conn, error) {
	c, ok := e.conns.get(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrBadHandle, h)
	}
	return c, nil
}

// WithClient runs f on the event loop with the client behind h.
func (e *Engine) WithClient(ctx context.Context, h Handle, f func(*client.Client) error) error {
	return e.call(ctx, "client_call", h, func(context.Context) error {
		c, err := e.lookup(h)
		if err != nil {
			return err
		}
		if c.client == nil {
			return fmt.Errorf("%w: %s is a server connection", types.ErrBadHandle, h)
		}
		return f(c.client)
	})
}

// WithServer runs f on the event loop with the server session behind h.
func (e *Engine) WithServer(ctx context.Context, h Handle, f func(*server.Session) error) error {
	return e.call(ctx, "server_call", h, func(context.Context) error {
		c, err := e.lookup(h)
		if err != nil {
			return err
		}
		if c.server == nil {
			return fmt.Errorf("%w: %s is a client connection", types.ErrBadHandle, h)
		}
		return f(c.server)
	})
}

// Remove closes the connection behind h. Its Sink receives Close.
func (e *Engine) Remove(ctx context.Context, h Handle) error {
	return e.call(ctx, "remove", h, func(context.Context) error {
		c, err := e.lookup(h)
		if err != nil {
			return err
		}
		c.close()
		return nil
	})
}

// ConnInfo describes a live connection.
type ConnInfo struct {
	Handle    Handle       `json:"handle"`
	Role      Role         `json:"role"`
	Transport string       `json:"transport"`
	Peer      types.BDAddr `json:"peer"`
	State     string       `json:"state"`
	Since     time.Time    `json:"since"`
}

// Connections returns a snapshot of the live connections.
func (e *Engine) Connections(ctx context.Context) ([]ConnInfo, error) {
	var out []ConnInfo
	err := e.call(ctx, "list_connections", Handle{}, func(context.Context) error {
		e.conns.each(func(c *Conn) {
			out = append(out, ConnInfo{
				Handle:    c.handle,
				Role:      c.role,
				Transport: c.tr.Name(),
				Peer:      c.tr.PeerAddr(),
				State:     c.State(),
				Since:     c.opened,
			})
		})
		return nil
	})
	return out, err
}

// Suspended returns a snapshot of the suspended session table.
func (e *Engine) Suspended(ctx context.Context) ([]session.Entry, error) {
	var out []session.Entry
	err := e.call(ctx, "list_suspended", Handle{}, func(context.Context) error {
		out = e.sessions.Entries()
		return nil
	})
	return out, err
}
