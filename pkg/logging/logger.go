// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Format selects the output encoding.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"

	// FormatConsole writes human-readable, colourless lines.
	FormatConsole Format = "console"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Format is json (default) or console.
	Format Format

	// Service is attached to every line when set.
	Service string

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	level, err := ParseLevel(string(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Format == FormatConsole {
		output = zerolog.ConsoleWriter{Out: output, NoColor: true}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	if err != nil {
		logger.Warn().Str("level", string(cfg.Level)).Msg("Unknown log level, using info")
	}

	return logger
}

// ParseLevel converts a configured level name to a zerolog.Level.
// An empty name is info.
func ParseLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// ParseFormat validates a configured format name.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatConsole:
		return FormatConsole, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format %q", name)
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Level guidelines:
//
// Debug: page requests and their cursors, pages merged or replaced,
// collection exhausted, rejected calls on a busy collection, stale results
// discarded after a refresh, cache hits and conditional requests.
//
// Info: requests that succeeded after a retry, served HTTP requests,
// server startup/shutdown, Redis connection.
//
// Warn: failed fetches, pages made only of duplicates, quota throttling,
// breaker state changes, Redis trouble.
//
// Error: recovered fetcher panics, transport failures, critical quota.
//
// Common fields: component, collection, op, page, items, has_more,
// generation, endpoint, status, error_class, request_id.
