// Package adapter serves OBEX on listening transports.
//
// An adapter accepts incoming circuits (TCP connections, RFCOMM channels
// handed over by BlueZ) and registers each one as a server session on a
// shared engine. Requests are answered by the application Sink the adapter
// was created with.
package adapter

import (
	"context"

	"github.com/marmos91/obexd/internal/obex/transport"
)

// Adapter is a listening OBEX service managed by the obexd server.
//
// Lifecycle:
//  1. Creation: the adapter is built with its listener configuration, the
//     engine and the server options shared by its sessions
//  2. Startup: Serve() opens the listener and blocks until shutdown
//  3. Shutdown: Stop() or context cancellation stops accepting and waits
//     for the sessions to end, up to ShutdownTimeout
//
// Thread safety:
// Stop may be called concurrently with Serve.
type Adapter interface {
	// Serve opens the listener and accepts connections until ctx is
	// cancelled. It returns nil on graceful shutdown.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. It is idempotent.
	Stop(ctx context.Context) error

	// Protocol returns the transport name for logging, e.g. "TCP".
	Protocol() string

	// Addr returns the listening address once Serve has opened it.
	Addr() string
}

// Listener yields accepted transports. Close unblocks a pending Accept.
type Listener interface {
	Accept(ctx context.Context) (transport.Transport, error)
	Close() error
	Addr() string
}
