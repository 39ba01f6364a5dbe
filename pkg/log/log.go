// Package log wraps zerolog with the process-wide logger and the
// component-scoped child loggers used throughout this module.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance; Init reconfigures it at startup.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// Level mirrors zerolog's levels as a config-friendly string enum.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration; cmd/nousd fills it from its
// command-line flags.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger from cfg.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with the emitting package
// ("store", "oplog", "sync", "watcher", ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNotebook returns a child logger tagged with a notebook id, for
// operations scoped to one notebook's files.
func WithNotebook(notebookID string) zerolog.Logger {
	return Logger.With().Str("notebook_id", notebookID).Logger()
}

// WithLibrary returns a child logger tagged with a library id.
func WithLibrary(libraryID string) zerolog.Logger {
	return Logger.With().Str("library_id", libraryID).Logger()
}
