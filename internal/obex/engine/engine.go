// Package engine runs OBEX client and server connections on a single event
// loop.
//
// Every input to a connection (bytes from its transport, congestion
// changes, timer expiries and application calls) is queued as a task and
// executed by Run one at a time. The state machines therefore never need
// locks, and events for a connection reach its Sink in the order the
// inputs arrived.
//
// Connections are addressed by generational handles. A handle whose
// connection closed is rejected with types.ErrBadHandle even after its
// slot is reused.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/sched"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/internal/telemetry"
	"github.com/marmos91/obexd/pkg/metrics"
)

const (
	// DefaultMaxConnections is the number of connection slots.
	DefaultMaxConnections = 16

	// DefaultQueueSize is the capacity of the task queue.
	DefaultQueueSize = 256

	// DefaultMaxSuspended is the size of the suspended session table.
	DefaultMaxSuspended = 4
)

// Options configures an Engine.
type Options struct {
	// MaxConnections bounds the connections alive at once, clients and
	// servers together.
	MaxConnections int

	// QueueSize is the capacity of the task queue. Transports block once
	// it is full.
	QueueSize int

	// MaxSuspended bounds the suspended sessions shared by all servers.
	MaxSuspended int

	// Store persists suspended sessions. Nil keeps them in memory only.
	Store session.Store

	// Metrics records protocol and connection metrics. Nil disables them.
	Metrics metrics.OBEXMetrics
}

func (o *Options) normalize() {
	if o.MaxConnections <= 0 {
		o.MaxConnections = DefaultMaxConnections
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.MaxSuspended <= 0 {
		o.MaxSuspended = DefaultMaxSuspended
	}
}

// task is one unit of work for the event loop.
type task struct {
	name   string
	handle Handle
	f      func(ctx context.Context)
}

// Engine owns a set of connections and the loop that drives them.
type Engine struct {
	opts Options

	tasks chan task
	done  chan struct{}

	running atomic.Bool
	stopped atomic.Bool

	// Fields below are owned by the event loop.
	conns    *arena
	sessions *session.Table
	started  time.Time
}

// New creates an engine. Call Run to start it.
func New(opts Options) *Engine {
	opts.normalize()
	e := &Engine{
		opts:  opts,
		tasks: make(chan task, opts.QueueSize),
		done:  make(chan struct{}),
		conns: newArena(opts.MaxConnections),
	}

	tableOpts := []session.TableOption{
		session.WithScheduler(e.Scheduler()),
		session.WithExpireHook(func(ent session.Entry) {
			logger.Info("Suspended session expired", logger.Peer(ent.Addr), logger.SessionID(ent.ID[:]))
			metrics.SetSuspendedSessions(e.opts.Metrics, e.sessions.Len())
		}),
	}
	if opts.Store != nil {
		tableOpts = append(tableOpts, session.WithStore(opts.Store))
	}
	e.sessions = session.NewTable(opts.MaxSuspended, tableOpts...)
	return e
}

// Scheduler returns a scheduler whose callbacks run on the event loop.
func (e *Engine) Scheduler() sched.Scheduler {
	return sched.Func(func(d time.Duration, f func()) sched.Timer {
		return time.AfterFunc(d, func() {
			e.postAsync(task{name: "timer", f: func(context.Context) { f() }})
		})
	})
}

// Run executes tasks until ctx is cancelled. Suspended sessions are first
// restored from the store. On return every connection has been closed and
// received its Close event.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: engine already running", types.ErrWrongState)
	}
	defer close(e.done)

	e.started = time.Now()
	if n, err := e.sessions.Restore(ctx); err != nil {
		logger.Warn("Failed to restore suspended sessions", logger.Err(err))
	} else if n > 0 {
		logger.Info("Restored suspended sessions", "count", n)
	}
	metrics.SetSuspendedSessions(e.opts.Metrics, e.sessions.Len())

	logger.Info("OBEX engine started",
		"max_connections", e.opts.MaxConnections,
		"max_suspended", e.opts.MaxSuspended)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case t := <-e.tasks:
			e.exec(ctx, t)
		}
	}
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// exec runs one task. A panicking task is logged and dropped; the loop
// keeps serving the other connections.
func (e *Engine) exec(ctx context.Context, t task) {
	if telemetry.IsEnabled() {
		var span trace.Span
		ctx, span = telemetry.StartEngineSpan(ctx, t.name, telemetry.Handle(t.handle.String()))
		defer span.End()
		lc := logger.FromContext(ctx)
		if lc == nil {
			lc = &logger.LogContext{}
		}
		ctx = logger.WithContext(ctx, lc.WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx)))
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in engine task",
				"task", t.name,
				logger.KeyHandle, t.handle.String(),
				logger.KeyError, r,
				"stack", string(debug.Stack()))
		}
	}()

	t.f(ctx)
}

// shutdown closes every connection and stops the session timers.
func (e *Engine) shutdown() {
	e.stopped.Store(true)
	n := e.conns.len()
	e.conns.each(func(c *Conn) { c.close() })
	e.sessions.Close()
	logger.Info("OBEX engine stopped", "closed_connections", n, "uptime", time.Since(e.started).Round(time.Second))
}

// post queues a task, waiting for room in the queue.
func (e *Engine) post(ctx context.Context, t task) error {
	if e.stopped.Load() {
		return types.ErrClosed
	}
	select {
	case e.tasks <- t:
		return nil
	case <-e.done:
		return types.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postAsync queues a task from a transport or timer goroutine. The task is
// dropped once the engine stopped.
func (e *Engine) postAsync(t task) {
	select {
	case e.tasks <- t:
	case <-e.done:
	}
}

// Do runs f on the event loop and returns its error. It must not be called
// from the loop itself, including from a Sink.
func (e *Engine) Do(ctx context.Context, f func() error) error {
	return e.call(ctx, "call", Handle{}, func(context.Context) error { return f() })
}

func (e *Engine) call(ctx context.Context, name string, h Handle, f func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	t := task{name: name, handle: h, f: func(ctx context.Context) {
		var err error
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in engine call",
					"task", name,
					logger.KeyHandle, h.String(),
					logger.KeyError, r,
					"stack", string(debug.Stack()))
				err = fmt.Errorf("engine: panic in %s: %v", name, r)
			}
			reply <- err
		}()
		err = f(ctx)
	}}
	if err := e.post(ctx, t); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		// The task may have run just before the loop exited.
		select {
		case err := <-reply:
			return err
		default:
			return types.ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns the suspended session table. It must only be used on
// the event loop, for example inside Do.
func (e *Engine) Sessions() *session.Table { return e.sessions }
