// Package logging provides the structured logger used across the engine.
// Operational events go through zerolog; any component that additionally
// wants a durable, human-readable trail for one cluster should pair this
// with internal/logbook.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the behavior every engine component depends on. Keeping this
// as an interface (rather than a concrete *zerolog.Logger) lets tests
// substitute a no-op or capturing implementation without touching
// zerolog directly.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
	// Printf matches the bridge/router-style logger shape used by older
	// collaborators (e.g. a plain drop/diagnostic message).
	Printf(format string, args ...any)
	With(kv ...any) Logger
}

// zlog adapts zerolog.Logger to the Logger interface.
type zlog struct {
	l zerolog.Logger
}

// New builds a console-rendered logger writing to w (os.Stderr if nil).
// level is one of "debug", "info", "warn" (or "warning"), "error", or
// "disabled"/"silent" (defaults to "info" on empty or unrecognized input).
func New(w io.Writer, level string) Logger {
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	l := zerolog.New(console).With().Timestamp().Logger().Level(parseLevel(level))
	return &zlog{l: l}
}

// NewJSON builds a line-oriented JSON logger, suited for log aggregation.
func NewJSON(w io.Writer, level string) Logger {
	if w == nil {
		w = os.Stderr
	}
	l := zerolog.New(w).With().Timestamp().Logger().Level(parseLevel(level))
	return &zlog{l: l}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "silent":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func (z *zlog) event(e *zerolog.Event, msg string, kv []any) {
	applyFields(e, kv)
	e.Msg(msg)
}

func (z *zlog) Debug(msg string, kv ...any) { z.event(z.l.Debug(), msg, kv) }
func (z *zlog) Info(msg string, kv ...any)  { z.event(z.l.Info(), msg, kv) }
func (z *zlog) Warn(msg string, kv ...any)  { z.event(z.l.Warn(), msg, kv) }

func (z *zlog) Error(msg string, err error, kv ...any) {
	e := z.l.Error()
	if err != nil {
		e = e.Err(err)
	}
	z.event(e, msg, kv)
}

// Printf renders a single formatted line at info level, matching the
// Printf(format, args...) signature older collaborators expect.
func (z *zlog) Printf(format string, args ...any) {
	z.l.Info().Msgf(format, args...)
}

func (z *zlog) With(kv ...any) Logger {
	ctx := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &zlog{l: ctx.Logger()}
}

func applyFields(e *zerolog.Event, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e.Interface(key, kv[i+1])
	}
}

// Nop returns a logger that discards everything; useful in tests.
func Nop() Logger {
	return &zlog{l: zerolog.Nop()}
}
