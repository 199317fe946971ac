// Package badger persists suspended sessions in BadgerDB so a restarted
// server can still resume them.
//
// Storage model:
//
//	suspended:{peer address}:{session id hex} -> JSON(session.Entry)
//
// Entries carry their absolute expiry; session.Table.Restore drops the
// ones that ran out while the server was down.
package badger

import (
	"context"
	"encoding/json"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/obexd/internal/logger"
	"github.com/marmos91/obexd/internal/obex/session"
	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/pkg/metrics"
	"github.com/marmos91/obexd/pkg/sessionstore"
)

// Config configures the store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in memory, for tests.
	InMemory bool

	Metrics metrics.StoreMetrics
}

// Store is a BadgerDB backed session.Store. All operations run in
// BadgerDB transactions and are safe for concurrent use.
type Store struct {
	db      *badgerdb.DB
	metrics metrics.StoreMetrics
}

var _ session.Store = (*Store)(nil)

// Open opens or creates the database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger session store: path is required")
	}
	opts := badgerdb.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger session store: %w", err)
	}
	logger.Info("Session store opened", logger.KeyComponent, sessionstore.TypeBadger, "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Store{db: db, metrics: cfg.Metrics}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveSuspended(ctx context.Context, e session.Entry) error {
	key := sessionstore.Key(e.Addr, e.ID)
	return sessionstore.Observe(ctx, s.metrics, sessionstore.TypeBadger, sessionstore.OpSave, key, func(context.Context) error {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal session entry: %w", err)
		}
		return s.db.Update(func(txn *badgerdb.Txn) error {
			return txn.Set(key, data)
		})
	})
}

// DeleteSuspended removes an entry. Deleting a missing entry is not an
// error.
func (s *Store) DeleteSuspended(ctx context.Context, addr types.BDAddr, id [types.SessionIDSize]byte) error {
	key := sessionstore.Key(addr, id)
	return sessionstore.Observe(ctx, s.metrics, sessionstore.TypeBadger, sessionstore.OpDelete, key, func(context.Context) error {
		return s.db.Update(func(txn *badgerdb.Txn) error {
			return txn.Delete(key)
		})
	})
}

// ListSuspended returns every stored entry in key order. Entries that no
// longer decode are logged and skipped.
func (s *Store) ListSuspended(ctx context.Context) ([]session.Entry, error) {
	var out []session.Entry
	err := sessionstore.Observe(ctx, s.metrics, sessionstore.TypeBadger, sessionstore.OpList, nil, func(ctx context.Context) error {
		return s.db.View(func(txn *badgerdb.Txn) error {
			prefix := []byte(sessionstore.KeyPrefix)
			opts := badgerdb.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				item := it.Item()
				var e session.Entry
				err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &e)
				})
				if err != nil {
					logger.Warn("Skipping unreadable session entry", "key", string(item.Key()), logger.Err(err))
					continue
				}
				out = append(out, e)
			}
			return nil
		})
	})
	if err == nil {
		metrics.SetStoreEntries(s.metrics, len(out))
	}
	return out, err
}

// Healthcheck verifies the database can serve a read transaction.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.View(func(*badgerdb.Txn) error { return nil }); err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}
