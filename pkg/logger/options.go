package logger

import (
	"io"
	"log/slog"
)

// Option configures New.
type Option func(*config)

// WithDebug lowers the level to Debug. WithDebug(false) resets it to Info.
func WithDebug(debug bool) Option {
	if debug {
		return WithLevel(slog.LevelDebug)
	}
	return WithLevel(slog.LevelInfo)
}

// WithLevel sets the minimum level.
func WithLevel(level slog.Level) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithPretty selects the charmbracelet/log handler for terminal output.
func WithPretty(pretty bool) Option {
	return func(c *config) {
		c.pretty = pretty
	}
}

// WithJSON selects the JSON handler. Pretty wins when both are set.
func WithJSON(json bool) Option {
	return func(c *config) {
		c.json = json
	}
}

// WithPrefix tags every record with the emitting component. Pretty output
// shows it as a prefix, structured output as a "component" attribute.
func WithPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// WithWriter replaces the output writers with w.
func WithWriter(w io.Writer) Option {
	return WithWriters(w)
}

// WithWriters replaces the output writers. Nil writers are ignored and an
// empty set falls back to os.Stdout.
func WithWriters(ws ...io.Writer) Option {
	return func(c *config) {
		c.writers = c.writers[:0]
		for _, w := range ws {
			if w != nil {
				c.writers = append(c.writers, w)
			}
		}
	}
}

// WithSource reports the caller's file:line.
func WithSource(source bool) Option {
	return func(c *config) {
		c.source = source
	}
}
