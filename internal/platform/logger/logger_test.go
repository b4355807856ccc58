package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/platform/config"
	"kycflow/pkg/requestcontext"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestJSONLoggerAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.Logging{Level: "info", Format: "json"}, &buf)

	ctx := requestcontext.WithRequestID(context.Background(), "req-42")
	log.With("case_id", "c-1").InfoContext(ctx, "case advanced")
	log.DebugContext(ctx, "dropped below level")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "case advanced", rec["msg"])
	assert.Equal(t, "req-42", rec["request_id"])
	assert.Equal(t, "c-1", rec["case_id"])
}

func TestTextLoggerWithoutRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(config.Logging{Level: "debug", Format: "text"}, &buf)

	log.Debug("starting")
	assert.Contains(t, buf.String(), "msg=starting")
	assert.NotContains(t, buf.String(), "request_id")
}
