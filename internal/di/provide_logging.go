package di

import (
	"os"

	"github.com/rs/zerolog"
)

// ProvideLogger creates a zerolog.Logger configured for the runtime
// environment: JSON in CI, console format with pretty printing otherwise.
func ProvideLogger() zerolog.Logger {
	if os.Getenv("CI") != "" {
		return zerolog.New(os.Stdout).
			Level(zerolog.InfoLevel).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()
}
