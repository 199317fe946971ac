package adapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/engine"
	"github.com/marmos91/obexd/internal/obex/event"
	"github.com/marmos91/obexd/internal/obex/server"
)

// acceptRetryDelay spaces out Accept retries after unexpected errors.
const acceptRetryDelay = 50 * time.Millisecond

// BaseConfig holds configuration common to all adapters.
type BaseConfig struct {
	// MaxConnections limits concurrent sessions of this adapter.
	// 0 means limited only by the engine.
	MaxConnections int

	// ShutdownTimeout bounds how long Stop waits for sessions to end.
	ShutdownTimeout time.Duration

	// MetricsLogInterval logs the session count periodically. 0 disables it.
	MetricsLogInterval time.Duration
}

// BaseAdapter is the accept loop shared by the TCP and RFCOMM adapters.
// Each accepted transport is handed to the engine as a server session and
// tracked until its Close event. Stop may be called more than once.
type BaseAdapter struct {
	Config BaseConfig

	name string

	// Engine runs the accepted sessions.
	Engine *engine.Engine

	// Server is applied to every accepted session.
	Server server.Options

	// sink answers requests. Close events are also used for tracking.
	sink engine.Sink

	listener Listener
	lnMu     sync.RWMutex

	// live counts sessions until their Close event.
	live sync.WaitGroup

	stopOnce sync.Once

	// stopping is closed once shutdown has begun.
	stopping chan struct{}

	sessions atomic.Int32

	// slots limits concurrent sessions if MaxConnections > 0.
	slots chan struct{}

	// active holds the *tracked sessions for forced closure.
	active sync.Map

	// ready is closed once the listener is set.
	ready chan struct{}
}

// NewBaseAdapter creates a stopped adapter. Call ServeListener to start.
func NewBaseAdapter(config BaseConfig, protocol string, e *engine.Engine, sink engine.Sink, opts server.Options) *BaseAdapter {
	var slots chan struct{}
	if config.MaxConnections > 0 {
		slots = make(chan struct{}, config.MaxConnections)
	}

	return &BaseAdapter{
		Config:   config,
		name:     protocol,
		Engine:   e,
		Server:   opts,
		sink:     sink,
		stopping: make(chan struct{}),
		slots:    slots,
		ready:    make(chan struct{}),
	}
}

// tracked is one accepted session until its Close event.
type tracked struct {
	peer   string
	handle atomic.Value // engine.Handle, set once AddServer returns
}

// trackingSink forwards events to the application and releases the
// session slot once the connection closed.
func (b *BaseAdapter) trackingSink(tc *tracked) engine.Sink {
	return func(c *engine.Conn, ev event.Event) {
		closing := ev.Kind == event.Close
		if b.sink != nil {
			b.sink(c, ev)
		} else {
			ev.Release()
		}
		if closing {
			b.connClosed(tc)
		}
	}
}

func (b *BaseAdapter) connClosed(tc *tracked) {
	if _, ok := b.active.LoadAndDelete(tc); !ok {
		return
	}
	b.sessions.Add(-1)
	if b.slots != nil {
		<-b.slots
	}
	b.live.Done()
	logger.Debug("Session ended", logger.KeyTransport, b.name, logger.KeyPeer, tc.peer, "active", b.sessions.Load())
}

// ServeListener accepts on ln until ctx is cancelled or Stop is called. It
// returns an error only when sessions had to be closed forcibly.
func (b *BaseAdapter) ServeListener(ctx context.Context, ln Listener) error {
	b.lnMu.Lock()
	b.listener = ln
	b.lnMu.Unlock()
	close(b.ready)

	logger.Info("Listening", logger.KeyTransport, b.name, logger.KeyAddress, ln.Addr(), "max_sessions", b.Config.MaxConnections)

	go func() {
		select {
		case <-ctx.Done():
			logger.Debug("Adapter context done", logger.KeyTransport, b.name)
			b.beginStop()
		case <-b.stopping:
		}
	}()

	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics(ctx)
	}

	for {
		if b.slots != nil {
			select {
			case b.slots <- struct{}{}:
			case <-b.stopping:
				return b.drain()
			}
		}

		tr, err := ln.Accept(ctx)
		if err != nil {
			if b.slots != nil {
				<-b.slots
			}
			select {
			case <-b.stopping:
				return b.drain()
			default:
				logger.Debug("Accept failed", logger.KeyTransport, b.name, logger.Err(err))
			}
			select {
			case <-time.After(acceptRetryDelay):
			case <-b.stopping:
			}
			continue
		}

		tc := &tracked{peer: tr.PeerAddr().String()}
		b.live.Add(1)
		b.sessions.Add(1)
		b.active.Store(tc, struct{}{})

		h, err := b.Engine.AddServer(ctx, tr, b.trackingSink(tc), b.Server)
		if err != nil {
			logger.Warn("Session rejected", logger.KeyTransport, b.name, logger.Peer(tr.PeerAddr()), logger.Err(err))
			_ = tr.Close()
			b.connClosed(tc)
			continue
		}
		tc.handle.Store(h)

		logger.Debug("Session accepted",
			logger.KeyTransport, b.name,
			logger.Peer(tr.PeerAddr()),
			logger.KeyHandle, h.String(),
			"active", b.sessions.Load())
	}
}

// beginStop ends the accept loop and closes the listener.
func (b *BaseAdapter) beginStop() {
	b.stopOnce.Do(func() {
		close(b.stopping)

		b.lnMu.Lock()
		defer b.lnMu.Unlock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("Closing listener failed", logger.KeyTransport, b.name, logger.Err(err))
			}
		}
	})
}

// drain waits ShutdownTimeout for sessions to end, then removes the rest.
func (b *BaseAdapter) drain() error {
	logger.Info("Draining sessions", logger.KeyTransport, b.name,
		"active", b.sessions.Load(), "timeout", b.Config.ShutdownTimeout)

	select {
	case <-b.drained():
		return nil
	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.sessions.Load()
		logger.Warn("Drain timed out", logger.KeyTransport, b.name, "active", remaining)
		b.removeAll()
		return fmt.Errorf("%s: %d sessions removed after %s", b.name, remaining, b.Config.ShutdownTimeout)
	}
}

func (b *BaseAdapter) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		b.live.Wait()
		close(done)
	}()
	return done
}

// removeAll removes every tracked session from the engine.
func (b *BaseAdapter) removeAll() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	removed := 0
	b.active.Range(func(key, _ any) bool {
		tc := key.(*tracked)
		h, ok := tc.handle.Load().(engine.Handle)
		if !ok {
			return true
		}
		if err := b.Engine.Remove(ctx, h); err != nil {
			logger.Debug("Remove failed", logger.KeyPeer, tc.peer, logger.Err(err))
			// The engine is gone; nothing will deliver Close any more.
			b.connClosed(tc)
		} else {
			removed++
		}
		return true
	})

	logger.Info("Sessions removed", logger.KeyTransport, b.name, "count", removed)
}

// Stop closes the listener and waits for sessions to end. A nil ctx waits
// ShutdownTimeout and then removes what is left.
func (b *BaseAdapter) Stop(ctx context.Context) error {
	b.beginStop()

	if ctx == nil {
		return b.drain()
	}

	select {
	case <-b.drained():
		return nil
	case <-ctx.Done():
		logger.Warn("Stop abandoned", logger.KeyTransport, b.name, "active", b.sessions.Load())
		return ctx.Err()
	}
}

func (b *BaseAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopping:
			return
		case <-ticker.C:
			logger.Info("Adapter sessions", logger.KeyTransport, b.name, "active", b.sessions.Load())
		}
	}
}

// ActiveConnections returns the current number of sessions.
func (b *BaseAdapter) ActiveConnections() int32 {
	return b.sessions.Load()
}

// Addr blocks until the listener is set and returns its address.
func (b *BaseAdapter) Addr() string {
	<-b.ready
	b.lnMu.RLock()
	defer b.lnMu.RUnlock()

	if b.listener == nil {
		return ""
	}
	return b.listener.Addr()
}

// Protocol returns the transport name.
func (b *BaseAdapter) Protocol() string {
	return b.name
}
