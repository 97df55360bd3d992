package monitoring

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Streams holds the writers handed to each package's SetLogWriters.
// A nil writer disables that stream.
type Streams struct {
	Ops   io.Writer // warnings, task failures
	Diag  io.Writer // per-run diagnostics
	Trace io.Writer // per-frame telemetry
}

// NewZerolog returns a timestamped zerolog.Logger writing to w at level.
func NewZerolog(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewConsoleLogger returns a human-readable logger on stderr.
func NewConsoleLogger(level zerolog.Level) zerolog.Logger {
	return NewZerolog(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}, level)
}

// NewStreams maps the three log streams onto zerolog levels: ops is Warn,
// diag is Info and trace is Debug. Streams below the logger's level are
// left nil so the packages skip formatting entirely.
func NewStreams(logger zerolog.Logger) Streams {
	var s Streams
	if streamEnabled(logger, zerolog.WarnLevel) {
		s.Ops = levelWriter{logger: logger.With().Str("stream", "ops").Logger(), level: zerolog.WarnLevel}
	}
	if streamEnabled(logger, zerolog.InfoLevel) {
		s.Diag = levelWriter{logger: logger.With().Str("stream", "diag").Logger(), level: zerolog.InfoLevel}
	}
	if streamEnabled(logger, zerolog.DebugLevel) {
		s.Trace = levelWriter{logger: logger.With().Str("stream", "trace").Logger(), level: zerolog.DebugLevel}
	}
	return s
}

func streamEnabled(logger zerolog.Logger, level zerolog.Level) bool {
	l := logger.GetLevel()
	return l != zerolog.Disabled && level >= l
}

// ZerologLogf adapts logger to the Logf signature for SetLogger.
func ZerologLogf(logger zerolog.Logger) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		logger.Info().Msg(strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
	}
}

// levelWriter emits each Write as one zerolog event at a fixed level.
type levelWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func (w levelWriter) Write(p []byte) (int, error) {
	w.logger.WithLevel(w.level).Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
