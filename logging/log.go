// Package logging is the structured logger batchdag's task and executor
// packages log through. It follows the same shape as a zerolog
// wrapper: a package-level Logger, an Init(Config), and With* helpers that
// attach one domain id as a child-logger field.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

var Logger zerolog.Logger

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel, JSONOutput: true})
}

// Init (re)configures the global Logger. Safe to call again in tests that
// want console output instead of JSON.
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
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output}).With().Timestamp().Logger()
	}
}

// WithTaskID returns a child logger tagged with the owning task's identity.
func WithTaskID(taskName string) zerolog.Logger {
	return Logger.With().Str("task", taskName).Logger()
}

// WithGroupID returns a child logger tagged with the owning group's identity.
func WithGroupID(groupName string) zerolog.Logger {
	return Logger.With().Str("group", groupName).Logger()
}

// WithRunID returns a child logger tagged with an executor run id.
func WithRunID(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}

func Info(msg string) { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}
