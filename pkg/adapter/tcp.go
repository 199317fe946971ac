package adapter

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/server"
	"github.com/marmos91/obexd/internal/obex/transport"
	"github.com/marmos91/obexd/internal/obex/transport/stream"
)

// TCPConfig configures OBEX over TCP.
type TCPConfig struct {
	BaseConfig

	// BindAddress is the IP address to bind to. Empty binds all
	// interfaces.
	BindAddress string

	// Port is the TCP port. Zero picks a free port.
	Port int

	Stream stream.Options
}

// TCPAdapter serves OBEX over TCP.
type TCPAdapter struct {
	*BaseAdapter
	cfg TCPConfig
}

// NewTCP creates a TCP adapter running sessions on e.
func NewTCP(cfg TCPConfig, e *engine.Engine, sink engine.Sink, opts server.Options) *TCPAdapter {
	return &TCPAdapter{
		BaseAdapter: NewBaseAdapter(cfg.BaseConfig, "TCP", e, sink, opts),
		cfg:         cfg,
	}
}

// Serve listens and accepts until ctx is cancelled.
func (a *TCPAdapter) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(a.cfg.BindAddress, strconv.Itoa(a.cfg.Port))
	ln, err := stream.Listen(ctx, addr, a.cfg.Stream)
	if err != nil {
		return fmt.Errorf("failed to create TCP listener on %s: %w", addr, err)
	}
	return a.ServeListener(ctx, tcpListener{ln})
}

type tcpListener struct {
	ln *stream.Listener
}

func (l tcpListener) Accept(context.Context) (transport.Transport, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (l tcpListener) Close() error { return l.ln.Close() }
func (l tcpListener) Addr() string { return l.ln.Addr().String() }
