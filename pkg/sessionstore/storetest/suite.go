// Package storetest provides a conformance suite for session.Store
// implementations.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    storetest.RunConformanceSuite(t, func(t *testing.T) session.Store {
//	        return memory.New(nil)
//	    })
//	}
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/sched"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/types"
)

// StoreFactory creates a fresh store for each test.
type StoreFactory func(t *testing.T) session.Store

// RunConformanceSuite runs every conformance test against factory.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()
	t.Run("SaveAndList", func(t *testing.T) { testSaveAndList(t, factory(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory(t)) })
	t.Run("CancelledContext", func(t *testing.T) { testCancelled(t, factory(t)) })
	t.Run("TableRestore", func(t *testing.T) { testTableRestore(t, factory(t)) })
}

// Entry returns a populated suspended session for peer n.
func Entry(n byte) session.Entry {
	return session.Entry{
		Addr:       types.BDAddr{0x00, 0x1A, 0x7D, 0xDA, 0x71, n},
		ID:         [types.SessionIDSize]byte{n, 0xAA, 0xBB, 0xCC},
		LocalNonce: []byte{1, 2, 3, 4, n},
		PeerNonce:  []byte{5, 6, 7, 8},
		SSN:        n + 1,
		Offset:     uint32(n) * 1000,
		Timeout:    60,
		Saved:      session.Saved{State: 2, ConnectionID: 1, MTU: 8192},
		Expires:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testSaveAndList(t *testing.T, s session.Store) {
	ctx := context.Background()
	want := []session.Entry{Entry(1), Entry(2)}
	for _, e := range want {
		require.NoError(t, s.SaveSuspended(ctx, e))
	}

	got, err := s.ListSuspended(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListSuspended() mismatch (-want +got):\n%s", diff)
	}
}

func testOverwrite(t *testing.T, s session.Store) {
	ctx := context.Background()
	e := Entry(3)
	require.NoError(t, s.SaveSuspended(ctx, e))
	e.SSN, e.Offset = 9, 12345
	require.NoError(t, s.SaveSuspended(ctx, e))

	got, err := s.ListSuspended(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint8(9), got[0].SSN)
	assert.Equal(t, uint32(12345), got[0].Offset)
}

func testDelete(t *testing.T, s session.Store) {
	ctx := context.Background()
	a, b := Entry(4), Entry(5)
	require.NoError(t, s.SaveSuspended(ctx, a))
	require.NoError(t, s.SaveSuspended(ctx, b))

	require.NoError(t, s.DeleteSuspended(ctx, a.Addr, a.ID))
	require.NoError(t, s.DeleteSuspended(ctx, a.Addr, a.ID), "deleting twice is not an error")

	got, err := s.ListSuspended(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.Addr, got[0].Addr)
}

func testCancelled(t *testing.T, s session.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SaveSuspended(ctx, Entry(6)), context.Canceled)

	got, err := s.ListSuspended(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

// testTableRestore checks that a table backed by the store brings back
// live entries and discards expired ones.
func testTableRestore(t *testing.T, s session.Store) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	live := Entry(7)
	live.Expires = now.Add(30 * time.Second)
	expired := Entry(8)
	expired.Expires = now.Add(-time.Second)
	require.NoError(t, s.SaveSuspended(ctx, live))
	require.NoError(t, s.SaveSuspended(ctx, expired))

	table := session.NewTable(4,
		session.WithStore(s),
		session.WithScheduler(&sched.Manual{}),
		session.WithClock(func() time.Time { return now }))
	n, err := table.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := table.Lookup(live.Addr, live.ID)
	require.True(t, ok)
	assert.Equal(t, uint32(30), got.Timeout, "timeout is what was left")

	stored, err := s.ListSuspended(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, live.Addr, stored[0].Addr)
}
