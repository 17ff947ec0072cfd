// Package obslog provides the pipeline's own operational logging — a
// distinct concern from the LogRecord domain type the pipeline delivers.
package obslog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the narrow interface the rest of the pipeline depends on, so
// call sites never import zerolog directly.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

type zlog struct {
	l zerolog.Logger
}

var defaultLogger Logger = New(os.Stderr, false)

// New builds a Logger writing NDJSON (or, with text=true, a human-readable
// console writer) to w.
func New(w *os.File, text bool) Logger {
	var out zerolog.Logger
	if text {
		out = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		out = zerolog.New(w).With().Timestamp().Logger()
	}
	return &zlog{l: out}
}

// SetDefault replaces the package-level default logger.
func SetDefault(l Logger) { defaultLogger = l }

// Default returns the package-level default logger.
func Default() Logger { return defaultLogger }

func (z *zlog) event(e *zerolog.Event, msg string, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}

func (z *zlog) Debug(msg string, kv ...any) { z.event(z.l.Debug(), msg, kv...) }
func (z *zlog) Info(msg string, kv ...any)  { z.event(z.l.Info(), msg, kv...) }
func (z *zlog) Warn(msg string, kv ...any)  { z.event(z.l.Warn(), msg, kv...) }
func (z *zlog) Error(msg string, kv ...any) { z.event(z.l.Error(), msg, kv...) }

func (z *zlog) With(kv ...any) Logger {
	ctx := z.l.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		if key == "" {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &zlog{l: ctx.Logger()}
}
