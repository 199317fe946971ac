package telemetry

import (
	"context"
	"encoding/hex"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrHandle    = "obex.handle" // engine connection handle
	AttrTask      = "obex.task"   // event loop task name
	AttrStoreType = "store.type"
	AttrStoreKey  = "store.key"
)

// SpanEngineTask names the span wrapping one event loop task. Store spans
// are named "store.<operation>".
const SpanEngineTask = "engine.task"

// Handle returns an attribute for an engine connection handle.
func Handle(h string) attribute.KeyValue {
	return attribute.String(AttrHandle, h)
}

func Task(name string) attribute.KeyValue {
	return attribute.String(AttrTask, name)
}

func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// StoreKey returns an attribute for a store key, hex encoded.
func StoreKey(key []byte) attribute.KeyValue {
	return attribute.String(AttrStoreKey, hex.EncodeToString(key))
}

// StartEngineSpan starts a span for one event loop task.
func StartEngineSpan(ctx context.Context, task string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanEngineTask, trace.WithAttributes(append([]attribute.KeyValue{Task(task)}, attrs...)...))
}

// StartStoreSpan starts a span for a suspended session store operation.
func StartStoreSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "store."+operation, trace.WithAttributes(attrs...))
}
