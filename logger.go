package vecseg

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/updater"
)

// Logger wraps slog.Logger with vecseg-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithSegment adds the segment directory to the logger.
func (l *Logger) WithSegment(dir string) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", dir),
	}
}

// LogUpsert logs an upsert operation.
func (l *Logger) LogUpsert(ctx context.Context, id model.PointID, res updater.Result, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert failed",
			"id", id,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "upsert completed",
		"id", id,
		"version", res.Version,
		"applied", res.Applied,
	)
}

// LogPayload logs a payload operation. op names the operation.
func (l *Logger) LogPayload(ctx context.Context, op string, id model.PointID, res updater.Result, err error) {
	if err != nil {
		l.ErrorContext(ctx, "payload update failed",
			"op", op,
			"id", id,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "payload updated",
		"op", op,
		"id", id,
		"version", res.Version,
		"applied", res.Applied,
	)
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id model.PointID, res updater.Result, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"id", id,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "delete completed",
		"id", id,
		"version", res.Version,
		"applied", res.Applied,
	)
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound int, filtered bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"filtered", filtered,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "search completed",
		"k", k,
		"filtered", filtered,
		"results", resultsFound,
	)
}

// LogRecovery logs a WAL replay.
func (l *Logger) LogRecovery(ctx context.Context, stats updater.ReplayStats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "WAL recovery failed",
			"entries_replayed", stats.Records,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "WAL recovery completed",
		"entries_replayed", stats.Records,
		"applied", stats.Applied,
		"stale", stats.Stale,
		"skipped", stats.Skipped,
	)
}

// LogFlush logs a flush followed by a log checkpoint.
func (l *Logger) LogFlush(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "flush completed")
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, id string, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"snapshot", id,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "snapshot saved",
		"snapshot", id,
		"files", files,
	)
}
