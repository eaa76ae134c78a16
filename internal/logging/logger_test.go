package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "invalid config")
}

func TestLogger_WritesJSON(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = Level(TraceLevel)
	cfg.Sampling.Enabled = false

	var buf bytes.Buffer
	logger, err := newLoggerTo(&buf, cfg)
	require.NoError(t, err)

	ctx := WithTenant(context.Background(), &Tenant{Company: "acme"})
	ctx = WithRequestID(ctx, "req_456")

	logger.Trace(ctx, "trace message")
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message", zap.Int("graduated", 2))
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message", zap.Error(errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 5)
	assert.Equal(t, "trace", lines[0]["level"])
	assert.Equal(t, "info", lines[2]["level"])
	assert.Equal(t, "acme", lines[2]["tenant.company"])
	assert.Equal(t, "req_456", lines[2]["request.id"])
	assert.Equal(t, "patternd", lines[2]["service"])
	assert.EqualValues(t, 2, lines[2]["graduated"])
	assert.Contains(t, lines[2]["caller"], "logging/logger_test.go")
	assert.Contains(t, lines[4], "stacktrace")
}

func TestLogger_LevelFilter(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = Level(zapcore.WarnLevel)

	var buf bytes.Buffer
	logger, err := newLoggerTo(&buf, cfg)
	require.NoError(t, err)

	logger.Info(context.Background(), "dropped")
	logger.Warn(context.Background(), "kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["msg"])
	assert.False(t, logger.Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Enabled(zapcore.ErrorLevel))
}

func TestLogger_Children(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.With(zap.String("component", "graduation")).Info(ctx, "child log")
	tl.Named("scheduler").Info(ctx, "named log")

	tl.AssertField(t, "child log", "component", "graduation")
	named := tl.FilterMessage("named log").All()
	require.Len(t, named, 1)
	assert.Equal(t, "scheduler", named[0].LoggerName)
}

func TestLogger_Underlying(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false

	var buf bytes.Buffer
	logger, err := newLoggerTo(&buf, cfg)
	require.NoError(t, err)

	logger.Underlying().Info("from engine")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0]["caller"], "logging/logger_test.go")
}

func TestIsStdoutSyncError(t *testing.T) {
	assert.True(t, isStdoutSyncError(syscall.EINVAL))
	assert.True(t, isStdoutSyncError(syscall.ENOTTY))
	assert.False(t, isStdoutSyncError(errors.New("disk full")))
}
