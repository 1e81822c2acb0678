package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRunKeepsRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithRun(ctx, "run-1", "publish")

	lc := GetContext(ctx)
	assert.Equal(t, LogContext{RunID: "run-1", Trigger: "publish", RequestID: "req-1"}, lc)
	assert.Equal(t, LogContext{}, GetContext(context.Background()))
}

func TestContextHandler_AddsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))
	ctx := WithRun(WithRequestID(context.Background(), "req-1"), "run-1", "build")

	logger.InfoContext(ctx, "hello", "run_id", "explicit")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "explicit", rec["run_id"])
	assert.Equal(t, "build", rec["trigger"])
	assert.Equal(t, "req-1", rec["request_id"])
}

func TestContextHandler_WithAttrsKeepsDecoration(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	logger.InfoContext(WithRequestID(context.Background(), "r"), "x")

	assert.Contains(t, buf.String(), `"request_id":"r"`)
	assert.Contains(t, buf.String(), `"component":"test"`)
}
