package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestAuditLogger_Record(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditLogger(&buf)

	a.RecordTool(context.Background(), "bcs.orders.create", "http", "req-1", StatusSuccess, map[string]interface{}{"ticker": "SBER"})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "tool", line["type"])
	assert.Equal(t, "http", line["actor"])
	assert.Equal(t, "execute:bcs.orders.create", line["action"])
	assert.Equal(t, "success", line["status"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, map[string]interface{}{"ticker": "SBER"}, line["metadata"])
	assert.NotContains(t, line, "trace_id")
	_, err := time.Parse(time.RFC3339, line["timestamp"].(string))
	assert.NoError(t, err)
}

func TestAuditLogger_TraceID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "tool.bcs.orders.cancel")
	defer span.End()

	var buf bytes.Buffer
	NewAuditLogger(&buf).RecordTool(ctx, "bcs.orders.cancel", "stdio", "", StatusRejected, nil)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.NotContains(t, line, "request_id")
}

func TestAuditLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "tools.jsonl")
	a, err := OpenAuditLog(path)
	require.NoError(t, err)

	a.RecordTool(context.Background(), "bcs.orders.create", "http", "a", StatusSuccess, nil)
	a.RecordTool(context.Background(), "bcs.orders.replace", "http", "b", StatusFailure, nil)
	require.NoError(t, a.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}

func TestAuditLogger_Nil(t *testing.T) {
	var a *AuditLogger
	assert.NotPanics(t, func() {
		a.RecordTool(context.Background(), "x", "http", "", StatusSuccess, nil)
	})
	assert.NoError(t, a.Close())
}
