package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docindex/internal/logger"
)

func logLine(t *testing.T, ctx context.Context) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	l := slog.New(logger.NewContextHandler(slog.NewJSONHandler(&buf, nil)))
	l.InfoContext(ctx, "processing")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestContextHandler_AddsFileAttr(t *testing.T) {
	ctx := logger.WithFile(context.Background(), "docs/a_extraction.json")
	entry := logLine(t, ctx)
	assert.Equal(t, "docs/a_extraction.json", entry["file"])
}

func TestContextHandler_NoFileInContext(t *testing.T) {
	entry := logLine(t, context.Background())
	assert.NotContains(t, entry, "file")
}

func TestFileFrom(t *testing.T) {
	_, ok := logger.FileFrom(context.Background())
	assert.False(t, ok)

	ctx := logger.WithFile(context.Background(), "x.json")
	f, ok := logger.FileFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "x.json", f)
}
