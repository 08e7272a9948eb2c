// Package logging builds the process logger: logr on top of zerolog, with a
// console writer on terminals and a rotating file when one is configured.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level string // debug, info, warn, error
	File  string // rotating log file; empty means stderr
	// Format is auto, console or json. Auto picks console on a terminal.
	Format string
	// Writer overrides the destination, mostly for tests.
	Writer io.Writer
}

// New returns a logr.Logger. The returned closer flushes and closes the log
// file, if any.
func New(opts Options) (logr.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return logr.Discard(), nopCloser{}, err
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	toFile := false

	switch {
	case opts.Writer != nil:
		w = opts.Writer
	case opts.File != "":
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return logr.Discard(), nopCloser{}, fmt.Errorf("failed to create log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		w = lj
		closer = lj
		toFile = true
	}

	zl := zerolog.New(w)
	if useConsole(opts.Format, toFile, opts.Writer != nil) {
		zl = zl.Output(zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    toFile || opts.Writer != nil || os.Getenv("NO_COLOR") != "",
			TimeFormat: time.RFC3339,
		})
	}
	zl = zl.Level(level).With().Timestamp().Logger()

	return zerologr.New(&zl), closer, nil
}

// ParseLevel maps a level name onto a zerolog level. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug", "trace":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func useConsole(format string, toFile, custom bool) bool {
	switch strings.ToLower(format) {
	case "console":
		return true
	case "json":
		return false
	}
	if toFile || custom {
		return false
	}
	return isTerminal()
}

func isTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
