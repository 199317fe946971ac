// Package sessionstore holds what the suspended session stores share: the
// key layout and the instrumentation wrapped around every call.
//
// Implementations live in the memory and badger subpackages. Both satisfy
// session.Store and are handed to the engine through engine.Options.Store.
package sessionstore

import (
	"context"
	"encoding/hex"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/obexd/internal/obex/types"
	"github.com/marmos91/obexd/internal/telemetry"
	"github.com/marmos91/obexd/pkg/metrics"
)

// Store types accepted by configuration.
const (
	TypeMemory = "memory"
	TypeBadger = "badger"
)

// Operation names used for metrics and spans.
const (
	OpSave   = "save"
	OpDelete = "delete"
	OpList   = "list"
)

// KeyPrefix prefixes every suspended session key.
const KeyPrefix = "suspended:"

// Key returns the storage key of a suspended session:
// suspended:{peer address}:{session id hex}.
func Key(addr types.BDAddr, id [types.SessionIDSize]byte) []byte {
	return []byte(KeyPrefix + addr.String() + ":" + hex.EncodeToString(id[:]))
}

// Observe runs f inside a store span and records its latency and result.
func Observe(ctx context.Context, m metrics.StoreMetrics, storeType, op string, key []byte, f func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if telemetry.IsEnabled() {
		attrs := []attribute.KeyValue{telemetry.StoreType(storeType)}
		if key != nil {
			attrs = append(attrs, telemetry.StoreKey(key))
		}
		var span trace.Span
		ctx, span = telemetry.StartStoreSpan(ctx, op, attrs...)
		defer span.End()
	}
	start := time.Now()
	err := f(ctx)
	metrics.RecordStoreOperation(m, op, time.Since(start), err)
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
	return err
}
