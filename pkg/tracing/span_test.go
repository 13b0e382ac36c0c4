package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpansInheritTraceID(t *testing.T) {
	ctx, root := Start(context.Background(), "process", "req-1")
	_, extract := StartChild(ctx, "extract")
	extract.End(nil)
	_, store := StartChild(ctx, "store")
	store.End(errors.New("connection refused"))
	root.SetAttr("outcome", "transient")
	root.End(nil)

	assert.Equal(t, "req-1", extract.TraceID)
	assert.Same(t, root, FromContext(ctx))

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["trace_id"])
	assert.Equal(t, "process", line["span"])
	assert.Contains(t, line, "extract_ms")
	assert.Contains(t, line, "store_ms")
	assert.Equal(t, "connection refused", line["store_error"])
	assert.NotContains(t, line, "extract_error")
	assert.Equal(t, "transient", line["outcome"])
}

func TestStartChildWithoutParent(t *testing.T) {
	ctx, span := StartChild(context.Background(), "orphan")
	span.End(nil)
	assert.Empty(t, span.TraceID)
	assert.Same(t, span, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
