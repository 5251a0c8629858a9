package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	logger, _ := test.NewNullLogger()

	return NewTracer(logger, tp, map[string]string{"test": "yes"}), rec
}

func TestTracerLaunchStages(t *testing.T) {
	t.Parallel()

	tracer, rec := newTestTracer(t)

	ctx, _ := tracer.TraceLaunch(context.Background(), "L1")
	launchTraceID := GetTraceID(spanContext(ctx))
	require.NotEmpty(t, launchTraceID)

	// stages are parented to the launch span even with an unrelated ctx.
	_, spawn := tracer.TraceStage(context.Background(), "L1", "spawn")
	spawn.End()
	_, connect := tracer.TraceStage(ctx, "L1", "connect")
	connect.End()

	tracer.EndLaunch("L1", errors.New("boom"))
	tracer.EndLaunch("L1", nil)

	ended := rec.Ended()
	require.Len(t, ended, 3)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = s
	}
	launch := byName["launch"]
	require.NotNil(t, launch)
	assert.Equal(t, codes.Error, launch.Status().Code)
	assert.Equal(t, "boom", launch.Status().Description)

	for _, name := range []string{"spawn", "connect"} {
		s := byName[name]
		require.NotNil(t, s, name)
		assert.Equal(t, launch.SpanContext().SpanID(), s.Parent().SpanID(), name)
		assert.Equal(t, launchTraceID, s.SpanContext().TraceID().String(), name)

		var hasMeta bool
		for _, kv := range s.Attributes() {
			if string(kv.Key) == "test" && kv.Value.AsString() == "yes" {
				hasMeta = true
			}
		}
		assert.True(t, hasMeta, name)
	}
}

func TestTracerStageWithoutLaunch(t *testing.T) {
	t.Parallel()

	tracer, rec := newTestTracer(t)

	_, span := tracer.TraceStage(context.Background(), "unknown", "spawn")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Parent().IsValid())
}

func spanContext(ctx context.Context) trace.SpanContext {
	return trace.SpanContextFromContext(ctx)
}
