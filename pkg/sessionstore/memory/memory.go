// Package memory keeps suspended sessions in a map. Entries survive a
// server that is stopped and restarted inside one process but not a
// process restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/pkg/metrics"
	"github.com/marmos91/obexd/pkg/sessionstore"
)

// Store is an in-memory session.Store, safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]session.Entry
	metrics metrics.StoreMetrics
}

var _ session.Store = (*Store)(nil)

// New creates an empty store. m may be nil.
func New(m metrics.StoreMetrics) *Store {
	return &Store{entries: map[string]session.Entry{}, metrics: m}
}

func (s *Store) SaveSuspended(ctx context.Context, e session.Entry) error {
	key := sessionstore.Key(e.Addr, e.ID)
	return sessionstore.Observe(ctx, s.metrics, sessionstore.TypeMemory, sessionstore.OpSave, key, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries[string(key)] = clone(e)
		metrics.SetStoreEntries(s.metrics, len(s.entries))
		return nil
	})
}

func (s *Store) DeleteSuspended(ctx context.Context, addr types.BDAddr, id [types.SessionIDSize]byte) error {
	key := sessionstore.Key(addr, id)
	return sessionstore.Observe(ctx, s.metrics, sessionstore.TypeMemory, sessionstore.OpDelete, key, func(context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.entries, string(key))
		metrics.SetStoreEntries(s.metrics, len(s.entries))
		return nil
	})
}

// ListSuspended returns the entries ordered by key.
func (s *Store) ListSuspended(ctx context.Context) ([]session.Entry, error) {
	var out []session.Entry
	err := sessionstore.Observe(ctx, s.metrics, sessionstore.TypeMemory, sessionstore.OpList, nil, func(context.Context) error {
		s.mu.RLock()
		defer s.mu.RUnlock()
		keys := make([]string, 0, len(s.entries))
		for k := range s.entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out = make([]session.Entry, 0, len(keys))
		for _, k := range keys {
			out = append(out, clone(s.entries[k]))
		}
		return nil
	})
	return out, err
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func clone(e session.Entry) session.Entry {
	e.LocalNonce = append([]byte(nil), e.LocalNonce...)
	e.PeerNonce = append([]byte(nil), e.PeerNonce...)
	return e
}
