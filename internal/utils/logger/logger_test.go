// internal/utils/logger/logger_test.go
package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core)}, logs
}

func TestWithTokenTagsEntries(t *testing.T) {
	l, logs := newObserved()

	l.WithToken("mint-1").Warn("detection handling failed")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "mint-1", entries[0].ContextMap()["token"])
}

func TestWithOperationCarriesCorrelationID(t *testing.T) {
	l, logs := newObserved()

	l.WithOperation("restore").Info("done")

	fields := logs.All()[0].ContextMap()
	require.Equal(t, "restore", fields["operation"])
	require.NotEmpty(t, fields["correlation_id"])
}

func TestTrackPerformanceLogsDuration(t *testing.T) {
	l, logs := newObserved()

	end := l.TrackPerformance("initialize")
	end()

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "Operation completed", entries[1].Message)
	require.Contains(t, entries[1].ContextMap(), "duration_ms")
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")

	l, err := New(&Config{LogFile: path, MaxSize: 1, MaxBackups: 1, MaxAge: 1})
	require.NoError(t, err)

	l.Info("hello from the bot")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello from the bot")
}
