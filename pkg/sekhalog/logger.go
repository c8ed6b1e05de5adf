// Package sekhalog provides the leveled, key-value Logger interface used
// throughout the engine. The interface shape (Debug/Info/Warn/Error/With)
// follows the teacher's pkg/core/logger.go; the default implementation backs
// it with zerolog instead of a hand-rolled writer so log lines come out as
// structured JSON (or a console-formatted dev view) the way the rest of the
// retrieval pack actually logs.
package sekhalog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured, leveled logging interface every component takes
// as a dependency instead of reaching for the standard log package.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

type zlogger struct {
	z zerolog.Logger
}

// Format selects the on-disk/terminal rendering of log lines.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// New builds a Logger writing to w at the given format and minimum level.
// level accepts zerolog level names ("debug", "info", "warn", "error").
func New(w io.Writer, format Format, level string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &zlogger{z: z}
}

// NewStd builds a console-formatted Logger writing to stdout at info level,
// the default used when no configuration has been loaded yet.
func NewStd() Logger {
	return New(os.Stdout, FormatConsole, "info")
}

func (l *zlogger) event(level zerolog.Level, msg string, keyvals ...any) {
	e := l.z.WithLevel(level)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, keyvals[i+1])
	}
	e.Msg(msg)
}

func (l *zlogger) Debug(msg string, keyvals ...any) { l.event(zerolog.DebugLevel, msg, keyvals...) }
func (l *zlogger) Info(msg string, keyvals ...any)  { l.event(zerolog.InfoLevel, msg, keyvals...) }
func (l *zlogger) Warn(msg string, keyvals ...any)  { l.event(zerolog.WarnLevel, msg, keyvals...) }
func (l *zlogger) Error(msg string, keyvals ...any) { l.event(zerolog.ErrorLevel, msg, keyvals...) }

func (l *zlogger) With(keyvals ...any) Logger {
	ctx := l.z.With()
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, keyvals[i+1])
	}
	return &zlogger{z: ctx.Logger()}
}
