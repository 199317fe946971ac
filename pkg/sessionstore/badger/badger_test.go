package badger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/pkg/sessionstore/badger"
	"github.com/marmos91/obexd/pkg/sessionstore/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) session.Store {
		s, err := badger.Open(badger.Config{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestEntriesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "sessions")

	s, err := badger.Open(badger.Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.SaveSuspended(ctx, storetest.Entry(1)))
	require.NoError(t, s.Healthcheck(ctx))
	require.NoError(t, s.Close())

	s, err = badger.Open(badger.Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ListSuspended(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, storetest.Entry(1).ID, got[0].ID)
	assert.Equal(t, storetest.Entry(1).Addr, got[0].Addr)
}

func TestPathRequired(t *testing.T) {
	_, err := badger.Open(badger.Config{})
	assert.Error(t, err)
}
