package session

import (
	"context"
	"errors"
	"time"

	"github.com/kelindar/bitmap"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/sched"
	"github.com/marmos91/obexd/internal/obex/types"
)

// ErrNotFound is returned when no suspended session matches.
var ErrNotFound = errors.New("session: no suspended session")

// ErrIDMismatch is returned when a resume request's session ID does not
// match the ID derived from the stored nonces.
var ErrIDMismatch = errors.New("session: session ID mismatch")

// Entry is a suspended session kept by a server until the peer resumes it
// or its timeout expires.
type Entry struct {
	Addr          types.BDAddr              `json:"addr"`
	ID            [types.SessionIDSize]byte `json:"id"`
	LocalNonce    []byte                    `json:"local_nonce"`
	PeerNonce     []byte                    `json:"peer_nonce"`
	SSN           uint8                     `json:"ssn"`
	Offset        uint32                    `json:"offset"`
	Timeout       uint32                    `json:"timeout"`
	DropSuspended bool                      `json:"drop_suspended"`
	Saved         Saved                     `json:"saved"`
	Expires       time.Time                 `json:"expires"`
}

// Infinite reports whether the entry never expires.
func (e *Entry) Infinite() bool { return e.Timeout == types.InfiniteTimeout }

// Store persists suspended sessions across restarts.
type Store interface {
	SaveSuspended(ctx context.Context, e Entry) error
	DeleteSuspended(ctx context.Context, addr types.BDAddr, id [types.SessionIDSize]byte) error
	ListSuspended(ctx context.Context) ([]Entry, error)
}

// Table is the bounded set of suspended sessions of one server. It is not
// safe for concurrent use; all calls, including timer callbacks, must run
// on the owning event loop.
type Table struct {
	slots  []*Entry
	timers []sched.Timer
	gens   []uint32
	used   bitmap.Bitmap

	scheduler sched.Scheduler
	store     Store
	now       func() time.Time
	onExpire  func(Entry)
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithScheduler sets the timer scheduler. The engine supplies one that runs
// callbacks on its event loop.
func WithScheduler(s sched.Scheduler) TableOption {
	return func(t *Table) { t.scheduler = s }
}

// WithStore persists entries.
func WithStore(s Store) TableOption {
	return func(t *Table) { t.store = s }
}

// WithClock overrides the clock used to compute expiry times.
func WithClock(now func() time.Time) TableOption {
	return func(t *Table) { t.now = now }
}

// WithExpireHook is called after an entry times out.
func WithExpireHook(f func(Entry)) TableOption {
	return func(t *Table) { t.onExpire = f }
}

// NewTable creates a table with room for size suspended sessions.
func NewTable(size int, opts ...TableOption) *Table {
	if size < 1 {
		size = 1
	}
	t := &Table{
		slots:     make([]*Entry, size),
		timers:    make([]sched.Timer, size),
		gens:      make([]uint32, size),
		scheduler: sched.Wall{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Cap returns the number of slots.
func (t *Table) Cap() int { return len(t.slots) }

// Len returns the number of suspended sessions.
func (t *Table) Len() int { return t.used.Count() }

// Put stores a suspended session and arms its expiry timer. When the table
// is full an existing entry is evicted and returned. The slot is chosen in
// this order: a slot holding the same peer address, an empty slot, a slot
// with an infinite timeout, the slot expiring soonest.
func (t *Table) Put(ctx context.Context, e Entry) (evicted *Entry) {
	if !e.Infinite() {
		e.Expires = t.now().Add(time.Duration(e.Timeout) * time.Second)
	} else {
		e.Expires = time.Time{}
	}

	idx := t.choose(e.Addr)
	if old := t.slots[idx]; old != nil {
		evicted = old
		t.clear(ctx, idx)
		logger.DebugCtx(ctx, "Evicted suspended session",
			logger.KeyPeer, old.Addr.String(), logger.KeySessionID, sessionIDString(old.ID))
	}

	stored := e
	t.slots[idx] = &stored
	t.used.Set(uint32(idx))
	t.gens[idx]++
	if !e.Infinite() {
		gen := t.gens[idx]
		t.timers[idx] = t.scheduler.AfterFunc(time.Duration(e.Timeout)*time.Second, func() {
			t.expire(idx, gen)
		})
	}
	if t.store != nil {
		if err := t.store.SaveSuspended(ctx, stored); err != nil {
			logger.WarnCtx(ctx, "Failed to persist suspended session", logger.KeyError, err)
		}
	}
	return evicted
}

func (t *Table) choose(addr types.BDAddr) int {
	for i, s := range t.slots {
		if s != nil && s.Addr == addr {
			return i
		}
	}
	for i := range t.slots {
		if !t.used.Contains(uint32(i)) {
			return i
		}
	}
	for i, s := range t.slots {
		if s.Infinite() {
			return i
		}
	}
	soonest := 0
	for i, s := range t.slots {
		if s.Expires.Before(t.slots[soonest].Expires) {
			soonest = i
		}
	}
	return soonest
}

func (t *Table) find(addr types.BDAddr, id [types.SessionIDSize]byte) int {
	var found = -1
	t.used.Range(func(x uint32) {
		s := t.slots[x]
		if found < 0 && s.Addr == addr && s.ID == id {
			found = int(x)
		}
	})
	return found
}

// Lookup returns a copy of the matching entry.
func (t *Table) Lookup(addr types.BDAddr, id [types.SessionIDSize]byte) (Entry, bool) {
	idx := t.find(addr, id)
	if idx < 0 {
		return Entry{}, false
	}
	return *t.slots[idx], true
}

// Take removes and returns the matching entry, typically on a successful
// resume.
func (t *Table) Take(ctx context.Context, addr types.BDAddr, id [types.SessionIDSize]byte) (Entry, error) {
	idx := t.find(addr, id)
	if idx < 0 {
		return Entry{}, ErrNotFound
	}
	e := *t.slots[idx]
	t.clear(ctx, idx)
	return e, nil
}

// Remove drops the matching entry.
func (t *Table) Remove(ctx context.Context, addr types.BDAddr, id [types.SessionIDSize]byte) bool {
	idx := t.find(addr, id)
	if idx < 0 {
		return false
	}
	t.clear(ctx, idx)
	return true
}

// Entries returns a copy of every suspended session.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, t.Len())
	t.used.Range(func(x uint32) {
		out = append(out, *t.slots[x])
	})
	return out
}

// Restore loads persisted entries, dropping any that expired while the
// server was down.
func (t *Table) Restore(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	entries, err := t.store.ListSuspended(ctx)
	if err != nil {
		return 0, err
	}
	now := t.now()
	n := 0
	for _, e := range entries {
		if !e.Infinite() && !e.Expires.IsZero() && !e.Expires.After(now) {
			_ = t.store.DeleteSuspended(ctx, e.Addr, e.ID)
			continue
		}
		if !e.Infinite() && !e.Expires.IsZero() {
			e.Timeout = uint32(e.Expires.Sub(now).Round(time.Second) / time.Second)
		}
		t.Put(ctx, e)
		n++
	}
	return n, nil
}

// Close stops every expiry timer. Entries stay in the store.
func (t *Table) Close() {
	for i, tm := range t.timers {
		if tm != nil {
			tm.Stop()
			t.timers[i] = nil
		}
	}
}

func (t *Table) clear(ctx context.Context, idx int) {
	s := t.slots[idx]
	if tm := t.timers[idx]; tm != nil {
		tm.Stop()
		t.timers[idx] = nil
	}
	t.slots[idx] = nil
	t.used.Remove(uint32(idx))
	t.gens[idx]++
	if t.store != nil && s != nil {
		if err := t.store.DeleteSuspended(ctx, s.Addr, s.ID); err != nil {
			logger.WarnCtx(ctx, "Failed to delete suspended session", logger.KeyError, err)
		}
	}
}

func (t *Table) expire(idx int, gen uint32) {
	if t.gens[idx] != gen || t.slots[idx] == nil {
		return
	}
	e := *t.slots[idx]
	t.timers[idx] = nil
	t.clear(context.Background(), idx)
	logger.Info("Suspended session expired",
		logger.KeyPeer, e.Addr.String(), logger.KeySessionID, sessionIDString(e.ID))
	if t.onExpire != nil {
		t.onExpire(e)
	}
}
