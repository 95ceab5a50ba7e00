package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	buf.Reset()
	return rec
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "storefront")

	t.Run("adds span identifiers", func(t *testing.T) {
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
			SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
			TraceFlags: trace.FlagsSampled,
		})
		ctx := trace.ContextWithSpanContext(context.Background(), sc)

		logger.With("order_id", "o1").InfoContext(ctx, "order created")
		rec := decodeLine(t, &buf)
		assert.Equal(t, sc.TraceID().String(), rec["trace_id"])
		assert.Equal(t, sc.SpanID().String(), rec["span_id"])
		assert.Equal(t, "o1", rec["order_id"])
		assert.Equal(t, "storefront", rec["service"])
	})

	t.Run("omits them without a span", func(t *testing.T) {
		logger.InfoContext(context.Background(), "no span")
		rec := decodeLine(t, &buf)
		assert.NotContains(t, rec, "trace_id")
	})

	t.Run("honours the level", func(t *testing.T) {
		logger.Debug("hidden")
		assert.Zero(t, buf.Len())
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
