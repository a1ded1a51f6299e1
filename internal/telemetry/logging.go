// Package telemetry builds bujo's structured JSON logger.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/bujo/internal/shared"
)

const (
	logFileName = "system.jsonl"
	// maxLogBytes is the size past which the log is rotated to system.jsonl.1
	// on the next start.
	maxLogBytes = 10 << 20

	redacted = "[REDACTED]"
)

// level is shared by every logger NewLogger builds so SetLevel applies to
// loggers already handed out.
var level = new(slog.LevelVar)

// sensitiveKeys are attribute-name fragments whose values are never logged.
var sensitiveKeys = []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer"}

// sensitiveText marks a string value that carries a credential wholesale.
var sensitiveText = []string{"bearer ", "api_key", "authorization:"}

// NewLogger builds the process logger. Records go to logs/system.jsonl under
// homeDir and, unless quiet, to stdout as well.
func NewLogger(homeDir, lvl string, quiet bool) (*slog.Logger, io.Closer, error) {
	file, err := openLogFile(filepath.Join(homeDir, "logs"))
	if err != nil {
		return nil, nil, err
	}
	SetLevel(lvl)

	var w io.Writer = file
	if !quiet {
		w = io.MultiWriter(os.Stdout, file)
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: scrub})
	return slog.New(h).With("trace_id", "-").With("component", "bujo"), file, nil
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, logFileName)
	if fi, err := os.Stat(path); err == nil && fi.Size() > maxLogBytes {
		_ = os.Rename(path, path+".1")
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// SetLevel changes the minimum level of every bujo logger and returns the
// level applied. Unknown names mean info.
func SetLevel(name string) slog.Level {
	l := parseLevel(name)
	level.Set(l)
	return l
}

// scrub renames the time key and blanks credentials by key or by content.
func scrub(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		a.Key = "timestamp"
		return a
	}
	if matchesAny(strings.ToLower(strings.TrimSpace(a.Key)), sensitiveKeys) {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if matchesAny(strings.ToLower(v), sensitiveText) {
		return slog.String(a.Key, redacted)
	}
	if masked := shared.Redact(v); masked != v {
		return slog.String(a.Key, masked)
	}
	return a
}

func matchesAny(s string, fragments []string) bool {
	if s == "" {
		return false
	}
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}

// Component returns a child logger tagged with the given component name.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", name)
}

// WithTrace returns a child logger carrying the context's trace_id.
func WithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("trace_id", shared.TraceID(ctx))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
