package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/header"
	"github.com/marmos91/obexd/internal/obex/packet"
	"github.com/marmos91/obexd/internal/obex/sched"
	"github.com/marmos91/obexd/internal/obex/srm"
	"github.com/marmos91/obexd/internal/obex/types"
)

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) sched.Timer {
	t := &fakeTimer{at: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// fire runs every live timer armed for d.
func (s *fakeScheduler) fire(d time.Duration) {
	for _, t := range s.timers {
		if !t.stopped && t.at == d {
			t.stopped = true
			t.f()
		}
	}
}

func addr(last byte) types.BDAddr { return types.BDAddr{0, 0, 0, 0, 0, last} }

func entry(last byte, id byte, timeout uint32) Entry {
	return Entry{Addr: addr(last), ID: [16]byte{id}, Timeout: timeout}
}

func TestTableEvictionOrder(t *testing.T) {
	ctx := context.Background()
	base := time.Unix(1000, 0)
	sched := &fakeScheduler{}
	tbl := NewTable(3, WithScheduler(sched), WithClock(func() time.Time { return base }))

	t.Run("EmptySlotsFirst", func(t *testing.T) {
		assert.Nil(t, tbl.Put(ctx, entry(1, 1, 60)))
		assert.Nil(t, tbl.Put(ctx, entry(2, 2, 30)))
		assert.Nil(t, tbl.Put(ctx, entry(3, 3, types.InfiniteTimeout)))
		assert.Equal(t, 3, tbl.Len())
	})

	t.Run("SameAddressReplaced", func(t *testing.T) {
		ev := tbl.Put(ctx, entry(2, 9, 90))
		require.NotNil(t, ev)
		assert.Equal(t, [16]byte{2}, ev.ID)
		_, ok := tbl.Lookup(addr(2), [16]byte{9})
		assert.True(t, ok)
	})

	t.Run("InfiniteBeforeSoonest", func(t *testing.T) {
		ev := tbl.Put(ctx, entry(4, 4, 120))
		require.NotNil(t, ev)
		assert.Equal(t, addr(3), ev.Addr)
	})

	t.Run("SoonestExpiring", func(t *testing.T) {
		ev := tbl.Put(ctx, entry(5, 5, 120))
		require.NotNil(t, ev)
		assert.Equal(t, addr(1), ev.Addr, "entry 1 expires after 60s, the soonest")
	})
	assert.Equal(t, 3, tbl.Len())
}

func TestTableExpiry(t *testing.T) {
	ctx := context.Background()
	sched := &fakeScheduler{}
	var expired []Entry
	tbl := NewTable(2, WithScheduler(sched), WithExpireHook(func(e Entry) { expired = append(expired, e) }))

	tbl.Put(ctx, entry(1, 1, 10))
	tbl.Put(ctx, entry(2, 2, 20))

	sched.fire(10 * time.Second)
	require.Len(t, expired, 1)
	assert.Equal(t, addr(1), expired[0].Addr)
	assert.Equal(t, 1, tbl.Len())

	got, err := tbl.Take(ctx, addr(2), [16]byte{2})
	require.NoError(t, err)
	assert.Equal(t, uint32(20), got.Timeout)

	sched.fire(20 * time.Second)
	assert.Len(t, expired, 1, "a taken entry must not expire later")

	_, err = tbl.Take(ctx, addr(2), [16]byte{2})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaleTimerIgnored(t *testing.T) {
	ctx := context.Background()
	sched := &fakeScheduler{}
	tbl := NewTable(1, WithScheduler(sched))

	tbl.Put(ctx, entry(1, 1, 5))
	stale := sched.timers[0]
	tbl.Put(ctx, entry(1, 2, 50))

	stale.f()
	assert.Equal(t, 1, tbl.Len())
}

type memStore struct {
	entries map[[16]byte]Entry
}

func (m *memStore) SaveSuspended(_ context.Context, e Entry) error {
	m.entries[e.ID] = e
	return nil
}

func (m *memStore) DeleteSuspended(_ context.Context, _ types.BDAddr, id [16]byte) error {
	delete(m.entries, id)
	return nil
}

func (m *memStore) ListSuspended(context.Context) ([]Entry, error) {
	var out []Entry
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func TestTablePersistence(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(5000, 0)
	store := &memStore{entries: map[[16]byte]Entry{}}
	sched := &fakeScheduler{}

	tbl := NewTable(4, WithStore(store), WithScheduler(sched), WithClock(func() time.Time { return now }))
	tbl.Put(ctx, entry(1, 1, 30))
	tbl.Put(ctx, entry(2, 2, 300))
	tbl.Put(ctx, entry(3, 3, types.InfiniteTimeout))
	assert.Len(t, store.entries, 3)
	tbl.Close()

	now = now.Add(time.Minute)
	restored := NewTable(4, WithStore(store), WithScheduler(sched), WithClock(func() time.Time { return now }))
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "the 30s entry expired while down")
	assert.Len(t, store.entries, 2)

	e, ok := restored.Lookup(addr(2), [16]byte{2})
	require.True(t, ok)
	assert.Equal(t, uint32(240), e.Timeout)
}

func TestValidateSequence(t *testing.T) {
	tests := []struct {
		name     string
		expected uint8
		got      uint8
		drop     bool
		want     SequenceValidation
	}{
		{"Expected", 4, 4, false, SeqNew},
		{"Wraps", 0, 0, false, SeqNew},
		{"BehindWithoutDrop", 4, 3, false, SeqMisordered},
		{"BehindAfterDrop", 4, 3, true, SeqRetry},
		{"BehindAcrossWrap", 0, 255, true, SeqRetry},
		{"TwoBehind", 4, 2, true, SeqMisordered},
		{"Ahead", 4, 5, true, SeqMisordered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateSequence(tt.expected, tt.got, tt.drop); got != tt.want {
				t.Errorf("ValidateSequence(%d, %d, %v) = %s, want %s", tt.expected, tt.got, tt.drop, got, tt.want)
			}
		})
	}
}

func TestReconcile(t *testing.T) {
	stored := Progress{SSN: 5, Offset: 100}
	streaming := srm.Enable | srm.Engaged

	tests := []struct {
		name      string
		requested Progress
		saved     srm.Flags
		want      Progress
	}{
		{"srm requester behind", Progress{SSN: 5, Offset: 90}, streaming, Progress{SSN: 5, Offset: 90}},
		{"srm requester ahead", Progress{SSN: 5, Offset: 110}, streaming, stored},
		{"srm equal offsets keep the request", Progress{SSN: 6, Offset: 100}, streaming, Progress{SSN: 6, Offset: 100}},
		{"no srm requester behind", Progress{SSN: 5, Offset: 90}, 0, stored},
		{"no srm requester ahead", Progress{SSN: 5, Offset: 110}, 0, stored},
		{"srm enabled but not engaged", Progress{SSN: 4, Offset: 90}, srm.Enable, stored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reconcile(stored, tt.requested, tt.saved))
		})
	}
}

func TestParamsRoundTrip(t *testing.T) {
	in := Params{
		Op: types.SessOpResume, HasOp: true,
		Addr:    []byte{1, 2, 3, 4, 5, 6},
		Nonce:   []byte("nonce-of-16-byte"),
		ID:      make([]byte, 16),
		NextSeq: 7, HasNextSeq: true,
		Timeout: 600, HasTimeout: true,
		Offset: 4096, HasOffset: true,
	}
	h, err := in.Header()
	require.NoError(t, err)

	p := packet.New(255)
	defer p.Release()
	require.NoError(t, header.Encode(p, h))

	out, found, err := FindParams(p)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in, out)
	assert.NoError(t, out.ValidateRequest())
}

func TestParamsValidation(t *testing.T) {
	_, err := ParseParams(header.TripletSet{{Tag: uint8(types.SessTagNonce), Value: []byte{1, 2}}})
	assert.ErrorIs(t, err, ErrBadParams)

	_, err = ParseParams(header.TripletSet{{Tag: uint8(types.SessTagID), Value: []byte{1}}})
	assert.ErrorIs(t, err, ErrBadParams)

	assert.ErrorIs(t, Params{}.ValidateRequest(), ErrBadParams)
	assert.ErrorIs(t, Params{Op: types.SessOpCreate, HasOp: true}.ValidateRequest(), ErrBadParams)
	assert.ErrorIs(t, Params{Op: 9, HasOp: true}.ValidateRequest(), ErrBadParams)
	assert.NoError(t, Params{Op: types.SessOpSuspend, HasOp: true}.ValidateRequest())
}

func TestVerifyResume(t *testing.T) {
	client, server := addr(0xC1), addr(0x5E)
	cn, sn := []byte("client-nonce"), []byte("server-nonce")
	id := DeriveID(client, cn, server, sn)

	e := Entry{Addr: client, ID: id, LocalNonce: sn, PeerNonce: cn}
	ok := Params{ID: id[:], Nonce: cn}
	assert.NoError(t, VerifyResume(e, server, ok))

	bad := Params{ID: id[:], Nonce: []byte("forged-nonce")}
	assert.ErrorIs(t, VerifyResume(e, server, bad), ErrIDMismatch)

	other := id
	other[0] ^= 0xFF
	assert.ErrorIs(t, VerifyResume(e, server, Params{ID: other[:], Nonce: cn}), ErrIDMismatch)
}

func TestInfoEntryRoundTrip(t *testing.T) {
	var i Info
	i.State = StateActive
	i.PeerAddr = addr(9)
	i.ID = [16]byte{1, 2, 3}
	i.SSN = 12
	i.Offset = 300
	i.Saved = Saved{State: 4, ConnectionID: 77, MTU: 1024}

	e := i.Entry()
	var j Info
	j.FromEntry(e)
	assert.Equal(t, i.ID, j.ID)
	assert.Equal(t, i.Saved, j.Saved)
	assert.Equal(t, uint8(12), j.SSN)

	i.Reset()
	assert.Equal(t, StateNone, i.State)
	assert.Equal(t, addr(9), i.PeerAddr)
	assert.False(t, i.Established())
}
