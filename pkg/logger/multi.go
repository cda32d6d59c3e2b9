package logger

import (
	"context"
	"errors"
	"log/slog"
)

// Multi returns a logger whose records reach every given logger. serve uses
// it to pair terminal output with a JSON log file. Nil loggers are skipped.
func Multi(loggers ...*slog.Logger) *slog.Logger {
	var fan fanout
	for _, l := range loggers {
		if l != nil {
			fan = append(fan, l.Handler())
		}
	}
	if len(fan) == 0 {
		return Nop()
	}
	return slog.New(fan)
}

// fanout is an slog.Handler over several handlers. A failing handler does
// not stop the others; their errors are joined.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) derive(fn func(slog.Handler) slog.Handler) fanout {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = fn(h)
	}
	return next
}
