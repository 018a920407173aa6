package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the root logger for a service. LOG_LEVEL controls verbosity
// (default info); LOG_FORMAT=console switches to the human-readable writer.
func New(service string) zerolog.Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if os.Getenv("LOG_FORMAT") == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stdout)
	}

	return log.With().
		Timestamp().
		Str("service", service).
		Logger().
		Level(logLevel)
}

// WithCorrelationID returns a child logger tagged with the correlation id.
func WithCorrelationID(log zerolog.Logger, correlationID string) zerolog.Logger {
	if correlationID == "" {
		return log
	}
	return log.With().Str("correlation_id", correlationID).Logger()
}
