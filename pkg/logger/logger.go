package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/knowtide/knowtide/pkg/config"
)

// Logger wraps a component-scoped structured logger. Log output goes to a
// file so it never interleaves with the chat rendering on stdout.
type Logger struct {
	sl *slog.Logger
}

var (
	root *slog.Logger
	file *os.File
)

// Init initializes the logger from the global config.
func Init() error {
	if root != nil {
		return nil
	}

	settings := config.Get()
	return InitWithSettings(settings.Logging)
}

// InitWithSettings initializes the logger with explicit settings.
func InitWithSettings(settings config.LoggingConfig) error {
	logPath := settings.LogFile
	if !filepath.IsAbs(logPath) {
		logPath = config.BuildSettingsPath(filepath.Base(logPath))
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !settings.Persist {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	f, err := os.OpenFile(logPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	file = f
	root = newRoot(f, settings.Level)
	return nil
}

func newRoot(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a logger scoped to one component name.
func WithComponent(name string) *Logger {
	return &Logger{sl: active().With("component", name)}
}

func active() *slog.Logger {
	if root == nil {
		// Uninitialized logging discards everything rather than panicking;
		// library consumers may never call Init.
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return root
}

func (l *Logger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sl.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sl.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }

// Package-level convenience functions using the root logger

func Debug(msg string, args ...any) { active().Debug(msg, args...) }
func Info(msg string, args ...any)  { active().Info(msg, args...) }
func Warn(msg string, args ...any)  { active().Warn(msg, args...) }
func Error(msg string, args ...any) { active().Error(msg, args...) }

// SetOutput redirects log output, useful for tests.
func SetOutput(w io.Writer, level string) {
	root = newRoot(w, level)
}

// Close closes the log file.
func Close() error {
	if file != nil {
		err := file.Close()
		file = nil
		root = nil
		return err
	}
	root = nil
	return nil
}
