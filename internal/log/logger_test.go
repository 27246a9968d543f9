package log

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pausefilter/internal/config"
)

func TestParseLevelValid(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestParseLevelInvalid(t *testing.T) {
	for _, input := range []string{"invalid", "fatal", ""} {
		t.Run(input, func(t *testing.T) {
			_, err := parseLevel(input)
			assert.Error(t, err)
		})
	}
}

func TestInitWithFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 3,
					MaxAgeDays: 7,
				},
			},
		},
	}
	require.NoError(t, Init(cfg))
	t.Cleanup(Flush)

	Get().Info("test message", "key", "value")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "test message")
	assert.Contains(t, string(data), "key=value")
}

func TestInitErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
		want string
	}{
		{"level", config.LogConfig{Level: "invalid", Format: "json"}, "invalid log level"},
		{"component level", config.LogConfig{Level: "info", Format: "json", Components: map[string]string{"filter": "loud"}}, "component filter"},
		{"format", config.LogConfig{Level: "info", Format: "xml"}, "unsupported log format"},
		{"file path", config.LogConfig{Level: "info", Format: "json", Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}}}, "path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Init(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestComponentFiltering(t *testing.T) {
	var buf bytes.Buffer
	lv := NewLevels(slog.LevelInfo)
	lv.Set("filter", slog.LevelWarn)
	lv.Set("host", LevelTrace)

	h, err := newHandler(&buf, "json", lv)
	require.NoError(t, err)
	logger := slog.New(h)

	logger.With(ComponentKey, "filter").Info("filter info")
	logger.With(ComponentKey, "filter").Warn("filter warn")
	logger.With(ComponentKey, "host").Log(context.Background(), LevelTrace, "host trace")
	logger.With(ComponentKey, "daemon").Debug("daemon debug")
	logger.With(ComponentKey, "daemon").Info("daemon info")

	out := buf.String()
	assert.NotContains(t, out, "filter info")
	assert.Contains(t, out, "filter warn")
	assert.Contains(t, out, "host trace")
	assert.Contains(t, out, `"level":"TRACE"`)
	assert.NotContains(t, out, "daemon debug")
	assert.Contains(t, out, "daemon info")
}

func TestComponentLevelChangesAtRuntime(t *testing.T) {
	var buf bytes.Buffer
	lv := NewLevels(slog.LevelWarn)
	h, err := newHandler(&buf, "text", lv)
	require.NoError(t, err)

	logger := slog.New(h).With(ComponentKey, "filter")
	logger.Info("before")
	lv.Set("filter", slog.LevelDebug)
	logger.Debug("after")
	lv.Reset(slog.LevelError, nil)
	logger.Warn("reset")

	out := buf.String()
	assert.False(t, strings.Contains(out, "before"))
	assert.True(t, strings.Contains(out, "after"))
	assert.False(t, strings.Contains(out, "reset"))
}

func TestLevelsFor(t *testing.T) {
	lv := NewLevels(slog.LevelInfo)
	assert.Equal(t, slog.LevelInfo, lv.For("anything"))

	lv.Set("filter", LevelTrace)
	lv.SetDefault(slog.LevelError)
	assert.Equal(t, LevelTrace, lv.For("filter"))
	assert.Equal(t, slog.LevelError, lv.For("host"))
}

func TestCreateFileWriter(t *testing.T) {
	fc := config.FileOutputConfig{
		Enabled: true,
		Path:    filepath.Join(t.TempDir(), "test.log"),
	}

	w, err := createFileWriter(fc)
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write([]byte("test"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
