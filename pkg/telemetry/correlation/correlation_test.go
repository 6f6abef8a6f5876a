package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "abc")
	ctx, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "abc", cid)
	assert.Equal(t, "abc", ExtractCorrelationID(ctx))
}

func TestEnsureCorrelationIDGenerates(t *testing.T) {
	ctx, cid := EnsureCorrelationID(context.Background())
	require.Len(t, cid, 26)
	assert.Equal(t, cid, ExtractCorrelationID(ctx))
}

func TestContextWithRemoteSpan(t *testing.T) {
	ctx := ContextWithRemoteSpan(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	sc := trace.SpanContextFromContext(ctx)
	assert.True(t, sc.IsValid())
	assert.True(t, sc.IsRemote())

	ctx = ContextWithRemoteSpan(context.Background(), "nothex", "00f067aa0ba902b7")
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
