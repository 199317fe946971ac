package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans swaps in an in-memory tracer for the duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	setTracer(tp.Tracer("test"), true)
	t.Cleanup(func() {
		_, _ = Init(context.Background(), DefaultConfig())
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "obexd", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())

	// The no-op tracer still hands out usable spans.
	ctx, span := StartSpan(ctx, "noop")
	span.End()
	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestEngineSpan(t *testing.T) {
	rec := recordSpans(t)

	ctx, span := StartEngineSpan(context.Background(), "data", Handle("3.7"))
	assert.NotEmpty(t, TraceID(ctx))
	assert.NotEmpty(t, SpanID(ctx))
	RecordError(ctx, errors.New("boom"))
	RecordError(ctx, nil)
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	s := ended[0]
	assert.Equal(t, SpanEngineTask, s.Name())
	assert.Contains(t, s.Attributes(), Task("data"))
	assert.Contains(t, s.Attributes(), Handle("3.7"))
	assert.Equal(t, "boom", s.Status().Description)
	assert.Len(t, s.Events(), 1)
}

func TestStoreSpan(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartStoreSpan(context.Background(), "save", StoreType("badger"), StoreKey([]byte("ab")))
	span.End()

	require.Len(t, rec.Ended(), 1)
	s := rec.Ended()[0]
	assert.Equal(t, "store.save", s.Name())
	assert.Contains(t, s.Attributes(), StoreKey([]byte("ab")))
	assert.Equal(t, "6162", StoreKey([]byte("ab")).Value.AsString())
}

func TestProfiling(t *testing.T) {
	shutdown, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown())
	assert.False(t, IsProfilingEnabled())

	_, err = InitProfiling(ProfilingConfig{Enabled: true, ProfileTypes: []string{"cpu", "heap"}})
	assert.ErrorContains(t, err, `unknown profile type "heap"`)

	names := ProfileTypeNames()
	assert.Len(t, names, 10)
	assert.IsIncreasing(t, names)
	assert.NoError(t, ProfilingConfig{ProfileTypes: DefaultProfileTypes}.Validate())
}
