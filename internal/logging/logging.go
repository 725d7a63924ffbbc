// Package logging constructs the process logger. Console output goes
// through zerolog's ConsoleWriter; an optional log file receives the
// same events as raw JSON.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the logger. Verbose enables debug-level events. With a
// non-empty logFile the file (append mode) receives every event in
// structured form alongside the console. The returned closer is non-nil
// only when a file was opened.
func New(verbose bool, logFile string) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}

	var (
		out    io.Writer = console
		closer io.Closer
	)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file %q: %w", logFile, err)
		}
		out = zerolog.MultiLevelWriter(console, f)
		closer = f
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, closer, nil
}
