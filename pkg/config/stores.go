package config

import (
	"fmt"

	"github.com/marmos91/obexd/internal/inbox"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/pkg/metrics"
	"github.com/marmos91/obexd/pkg/sessionstore"
	"github.com/marmos91/obexd/pkg/sessionstore/badger"
	"github.com/marmos91/obexd/pkg/sessionstore/memory"
)

// SessionStore is a suspended session store owned by the caller.
type SessionStore interface {
	session.Store
	Close() error
}

type memoryStore struct{ *memory.Store }

func (memoryStore) Close() error { return nil }

// OpenSessionStore opens the configured suspended session store.
func OpenSessionStore(cfg StoreConfig, m metrics.StoreMetrics) (SessionStore, error) {
	switch cfg.Type {
	case sessionstore.TypeMemory, "":
		return memoryStore{memory.New(m)}, nil
	case sessionstore.TypeBadger:
		s, err := badger.Open(badger.Config{Path: cfg.Path, Metrics: m})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger session store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown session store type: %q", cfg.Type)
	}
}

// NewInbox creates the default service object store and its handler.
func NewInbox(cfg InboxConfig, srv ServerConfig) *inbox.Inbox {
	store := inbox.NewStore(inbox.Limits{
		MaxObjectSize: cfg.MaxObjectSize.Int64(),
		MaxTotalSize:  cfg.MaxTotalSize.Int64(),
		MaxObjects:    cfg.MaxObjects,
	})
	return inbox.New(store, inbox.Options{
		Password: []byte(srv.Password),
		UserID:   []byte(srv.UserID),
		ReadOnly: cfg.ReadOnly,
	})
}
