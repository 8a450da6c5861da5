// Package logger holds the process-wide structured logger so call sites do
// not need one threaded through every constructor.
package logger

import (
	"log/slog"
	"os"
)

// Log is the shared slog instance. Setup must run before anything logs.
var Log *slog.Logger

// Setup configures the shared logger for the given environment. Production
// emits JSON at info level for log shipping; everything else gets readable
// text with debug enabled.
func Setup(env string) {
	var handler slog.Handler

	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	Log = slog.New(handler)
	slog.SetDefault(Log)
}

// Info logs at info level on the shared logger.
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Error logs at error level on the shared logger.
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

// Debug logs at debug level on the shared logger.
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Warn logs at warn level on the shared logger.
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}
