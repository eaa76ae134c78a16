package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestTraceLevel(t *testing.T) {
	assert.Equal(t, zapcore.Level(-2), TraceLevel)
	assert.True(t, TraceLevel < zapcore.DebugLevel)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"trace", TraceLevel},
		{"TRACE", TraceLevel},
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	lvl, err := LevelFromString("verbose")
	assert.Error(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)
}

func TestLevel_Text(t *testing.T) {
	var l Level
	require.NoError(t, l.UnmarshalText([]byte("trace")))
	assert.Equal(t, TraceLevel, l.Zap())

	out, err := l.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "trace", string(out))

	require.NoError(t, l.UnmarshalText([]byte("warn")))
	assert.Equal(t, zapcore.WarnLevel, l.Zap())

	assert.Error(t, l.UnmarshalText([]byte("chatty")))
	assert.Equal(t, "info", LevelName(zapcore.InfoLevel))
}
