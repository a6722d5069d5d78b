package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInjectExtractTraceStateRoundTrip(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "distwq.submit_call")
	defer span.End()

	data := InjectTraceState(ctx)
	require.NotEmpty(t, data)

	restored := ExtractTraceState(context.Background(), data)
	got := trace.SpanContextFromContext(restored)
	want := trace.SpanContextFromContext(ctx)

	assert.True(t, got.IsValid())
	assert.Equal(t, want.TraceID(), got.TraceID())
	assert.Equal(t, want.SpanID(), got.SpanID())
}

func TestInjectTraceStateNoSpanReturnsNil(t *testing.T) {
	data := InjectTraceState(context.Background())
	assert.Nil(t, data)
}

func TestExtractTraceStateEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	got := ExtractTraceState(ctx, nil)
	assert.Equal(t, ctx, got)
}

func TestExtractTraceStateInvalidJSONIsNoop(t *testing.T) {
	ctx := context.Background()
	got := ExtractTraceState(ctx, []byte("not json"))
	assert.Equal(t, ctx, got)
}
