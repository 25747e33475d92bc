package seda

import (
	"log/slog"

	"github.com/squadracorsepolito/seda/internal"
)

// SetLogLevel sets the level of the loggers of stages, dispatchers and adjusters.
// The default level is [slog.LevelInfo].
func SetLogLevel(level slog.Level) {
	internal.SetLogLevel(level)
}
