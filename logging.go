package nats

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// LogFormat selects the zerolog writer, mirroring the teacher's
// LoggerConfig.Format split between structured JSON (for log aggregation)
// and a human-readable console writer (for local development).
type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

// LoggerConfig configures NewLogger. The zero value gives a Debug-level
// JSON logger on stdout. A connection logs nothing unless a caller passes a
// logger in, since its default is zerolog.Nop() and the async error channel
// (asyncbus.go) is the primary user-facing diagnostic surface.
type LoggerConfig struct {
	Level  zerolog.Level
	Format LogFormat
	Output io.Writer
}

// NewLogger returns a zerolog.Logger configured per cfg. Internal library
// logging uses Debug (parser and write errors, failed initial dials), Info
// (reconnected), Warn (disconnects, stale connection) and Error (no servers
// left), so a caller who wants quiet operation can simply not configure a
// logger at all and still rely on the async error callback for anything
// actionable.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var w io.Writer = out
	if cfg.Format == LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	level := cfg.Level
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
