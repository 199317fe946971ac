package engine

import (
	"fmt"

	"github.com/kelindar/bitmap"

	"github.com/marmos91/obexd/internal/obex/types"
)

// Handle names a connection owned by an engine. A handle stays valid until
// its connection closes; the slot is then reused under a new generation so
// stale handles are detected.
type Handle struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether h was never assigned. Generation zero is never
// handed out.
func (h Handle) IsZero() bool { return h.Gen == 0 }

func (h Handle) String() string { return fmt.Sprintf("%d.%d", h.Index, h.Gen) }

// arena is a fixed-size slab of connections. Occupied slots are tracked in
// a bitmap; it is only touched from the event loop.
type arena struct {
	slots []*Conn
	gens  []uint32
	used  bitmap.Bitmap
}

func newArena(size int) *arena {
	return &arena{
		slots: make([]*Conn, size),
		gens:  make([]uint32, size),
	}
}

func (a *arena) alloc(c *Conn) (Handle, error) {
	for i := range a.slots {
		if a.used.Contains(uint32(i)) {
			continue
		}
		a.gens[i]++
		if a.gens[i] == 0 {
			a.gens[i] = 1
		}
		a.used.Set(uint32(i))
		a.slots[i] = c
		return Handle{Index: uint32(i), Gen: a.gens[i]}, nil
	}
	return Handle{}, fmt.Errorf("%w: all %d connection slots in use", types.ErrNoResources, len(a.slots))
}

func (a *arena) get(h Handle) (*Conn, bool) {
	if int(h.Index) >= len(a.slots) || h.Gen == 0 {
		return nil, false
	}
	if !a.used.Contains(h.Index) || a.gens[h.Index] != h.Gen {
		return nil, false
	}
	return a.slots[h.Index], true
}

func (a *arena) free(h Handle) bool {
	if _, ok := a.get(h); !ok {
		return false
	}
	a.used.Remove(h.Index)
	a.slots[h.Index] = nil
	return true
}

func (a *arena) len() int { return a.used.Count() }

func (a *arena) each(f func(*Conn)) {
	// Collect first: f may free slots.
	var conns []*Conn
	a.used.Range(func(i uint32) {
		conns = append(conns, a.slots[i])
	})
	for _, c := range conns {
		f(c)
	}
}
