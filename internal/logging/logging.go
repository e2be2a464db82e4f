package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Output formats accepted by NewWithOptions.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New returns an info-level JSON logger on stdout.
func New() zerolog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel returns a JSON logger on stdout at the given level.
func NewWithLevel(level string) zerolog.Logger {
	return NewWithOptions(level, FormatJSON)
}

// NewWithOptions returns a stdout logger at level in the given format.
// Unknown levels fall back to info and unknown formats to JSON.
func NewWithOptions(level, format string) zerolog.Logger {
	return newLogger(os.Stdout, level, format)
}

func newLogger(out io.Writer, level, format string) zerolog.Logger {
	writer := out
	if strings.EqualFold(strings.TrimSpace(format), FormatConsole) {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(writer).Level(parseLevel(level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}
