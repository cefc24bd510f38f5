// Package log builds the process loggers: slog backed by charmbracelet/log
// for our own code, and a zerolog logger for the chat client library.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/zerolog"
)

// NewHandler returns a charmbracelet handler writing to w with the given
// prefix and minimum level.
func NewHandler(w io.Writer, name string, level slog.Level) slog.Handler {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          name,
		Level:           log.Level(level),
	})
}

// New returns a stderr logger named name.
func New(name string, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(os.Stderr, name, level))
}

// SubLogger derives a logger whose prefix is the base prefix plus suffix.
func SubLogger(base *slog.Logger, suffix string) *slog.Logger {
	cl, ok := base.Handler().(*log.Logger)
	if !ok {
		return base.With("component", suffix)
	}

	prefix := suffix
	if p := cl.GetPrefix(); p != "" {
		prefix = p + "/" + suffix
	}
	return slog.New(cl.WithPrefix(prefix))
}

type ctxKey struct{}

// IntoContext adds a logger to a context. Use FromContext to pull it out.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the context logger, or slog.Default() when there is
// none.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}

// Zerolog returns a console zerolog logger for libraries that log through
// zerolog, filtered at the slog-equivalent level.
func Zerolog(name string, level slog.Level) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	return zerolog.New(out).
		Level(zerologLevel(level)).
		With().Timestamp().Str("component", name).
		Logger()
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level <= slog.LevelDebug:
		return zerolog.DebugLevel
	case level <= slog.LevelInfo:
		return zerolog.InfoLevel
	case level <= slog.LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
