// Package bufpool provides a tiered pool of packet buffers.
//
// OBEX packets are bounded by the negotiated MTU, which itself is bounded by
// the 16-bit length field. The pool therefore uses three tiers sized for the
// packet shapes the engine actually produces:
//   - Control (512B): Connect, Disconnect, Abort, SetPath and bare responses
//   - Default (16KB): Put/Get packets at the default 8KB MTU plus headroom
//   - Max (72KB): packets at the protocol maximum of 64KB plus headroom
//
// Requests larger than the Max tier are allocated directly and never pooled.
//
// All operations are safe for concurrent use.
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
	"sync/atomic"
)

const (
	DefaultControlSize = 512
	DefaultPacketSize  = 16 << 10
	DefaultMaxSize     = 72 << 10
)

// Pool manages byte slices organized by size class.
type Pool struct {
	tiers [3]tier

	gets   atomic.Uint64
	misses atomic.Uint64
}

type tier struct {
	size int
	pool sync.Pool
}

// Config holds the tier sizes of a custom pool. Zero values take defaults.
type Config struct {
	ControlSize int
	PacketSize  int
	MaxSize     int
}

// DefaultConfig returns the default tier sizes.
func DefaultConfig() Config {
	return Config{
		ControlSize: DefaultControlSize,
		PacketSize:  DefaultPacketSize,
		MaxSize:     DefaultMaxSize,
	}
}

// NewPool creates a pool. A nil config uses DefaultConfig.
func NewPool(cfg *Config) *Pool {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.ControlSize > 0 {
			c.ControlSize = cfg.ControlSize
		}
		if cfg.PacketSize > 0 {
			c.PacketSize = cfg.PacketSize
		}
		if cfg.MaxSize > 0 {
			c.MaxSize = cfg.MaxSize
		}
	}

	p := &Pool{}
	for i, size := range []int{c.ControlSize, c.PacketSize, c.MaxSize} {
		t := &p.tiers[i]
		t.size = size
		t.pool.New = func() any {
			p.misses.Add(1)
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// Get returns a slice of length size backed by a pooled buffer when one of
// the tiers is large enough. Callers must hand the slice back with Put.
func (p *Pool) Get(size int) []byte {
	p.gets.Add(1)
	for i := range p.tiers {
		t := &p.tiers[i]
		if size <= t.size {
			buf := *(t.pool.Get().(*[]byte))
			return buf[:size]
		}
	}
	p.misses.Add(1)
	return make([]byte, size)
}

// Put returns a buffer to its tier. Buffers whose capacity matches no tier
// are left to the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	for i := range p.tiers {
		t := &p.tiers[i]
		if cap(buf) == t.size {
			full := buf[:cap(buf)]
			t.pool.Put(&full)
			return
		}
	}
}

// Stats reports how many buffers were requested and how many of those
// required a fresh allocation.
func (p *Pool) Stats() (gets, allocations uint64) {
	return p.gets.Load(), p.misses.Load()
}

// =============================================================================
// Global Pool
// =============================================================================

var globalPool = NewPool(nil)

// Get returns a buffer from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// Default returns the global pool.
func Default() *Pool {
	return globalPool
}
