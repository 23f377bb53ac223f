/*
Package log provides structured logging for fnchannel using zerolog.

It wraps zerolog with the scopes a worker channel needs: a worker-level
logger plus per-function and per-invocation child loggers, so that a
worker-emitted RpcLog can be replayed under the logger of the invocation
that produced it (see pkg/channel's response handling).
*/
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
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
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithWorkerID creates a child logger scoped to one worker channel.
func WithWorkerID(workerID string) zerolog.Logger {
	return Logger.With().Str("worker_id", workerID).Logger()
}

// WithFunctionID creates a child logger scoped to one function, under parent.
func WithFunctionID(parent zerolog.Logger, functionID string) zerolog.Logger {
	return parent.With().Str("function_id", functionID).Logger()
}

// WithInvocationID creates a child logger scoped to one invocation, under
// parent. This is the logger stored on a ScriptInvocationContext and
// reinstalled around RpcLog replay for that invocation.
func WithInvocationID(parent zerolog.Logger, invocationID string) zerolog.Logger {
	return parent.With().Str("invocation_id", invocationID).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
