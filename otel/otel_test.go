package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTraceProviderUnsupportedProto(t *testing.T) {
	t.Parallel()

	_, err := NewTraceProvider(context.Background(), "grpc", "localhost:4317", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedProto)
}

func TestNoopTraceProvider(t *testing.T) {
	t.Parallel()

	tp := NewNoopTraceProvider()
	_, span := tp.Tracer("test").Start(context.Background(), "span")
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, tp.Shutdown(context.Background()))
}
