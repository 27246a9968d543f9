// Package log implements structured logging using slog.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/pausefilter/internal/config"
)

// LevelTrace is below debug; per-frame diagnostics use it.
const LevelTrace = slog.Level(-8)

var (
	mu      sync.Mutex
	current *slog.Logger
	levels  = NewLevels(slog.LevelInfo)
	file    *lumberjack.Logger
)

// Init initializes the global logger based on configuration.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	components := make(map[string]slog.Level, len(cfg.Components))
	for name, s := range cfg.Components {
		l, err := parseLevel(s)
		if err != nil {
			return fmt.Errorf("invalid log level for component %s: %w", name, err)
		}
		components[name] = l
	}

	// stdout is always included.
	writers := []io.Writer{os.Stdout}

	var fw *lumberjack.Logger
	if cfg.Outputs.File.Enabled {
		fw, err = createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, fw)
	}

	handler, err := newHandler(io.MultiWriter(writers...), cfg.Format, levels)
	if err != nil {
		return err
	}

	levels.Reset(level, components)

	mu.Lock()
	old := file
	file = fw
	current = slog.New(handler)
	mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	slog.SetDefault(current)
	return nil
}

// newHandler builds the format handler and wraps it in component filtering.
// The inner handler accepts everything; lv decides.
func newHandler(w io.Writer, format string, lv *Levels) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level:       LevelTrace,
		ReplaceAttr: replaceLevelName,
	}

	var inner slog.Handler
	switch strings.ToLower(format) {
	case "json":
		inner = slog.NewJSONHandler(w, opts)
	case "text":
		inner = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", format)
	}
	return NewComponentHandler(inner, lv), nil
}

// Get returns the logger built by Init, or slog.Default before Init.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return slog.Default()
	}
	return current
}

// Flush closes the rotating file output, if any. Logging to stdout continues.
func Flush() {
	mu.Lock()
	fw := file
	file = nil
	mu.Unlock()

	if fw != nil {
		_ = fw.Close()
	}
}

// SetLevel changes the default level at runtime.
func SetLevel(level slog.Level) {
	levels.SetDefault(level)
}

// SetComponentLevel changes the level of one component at runtime.
func SetComponentLevel(component string, level slog.Level) {
	levels.Set(component, level)
}

// ComponentLevel returns the level currently applied to component.
func ComponentLevel(component string) slog.Level {
	return levels.For(component)
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

func replaceLevelName(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level <= LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (*lumberjack.Logger, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
