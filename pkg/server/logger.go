package server

import (
	"os"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// DefaultLogger builds the root logger for a service binary: JSON on stdout
// with timestamp, service name and, when the binary carries vcs metadata, the
// short build commit.
func DefaultLogger(service string) *zerolog.Logger {
	logCtx := zerolog.New(os.Stdout).With().Timestamp().Str("service", service)
	if commit := buildCommit(); commit != "" {
		logCtx = logCtx.Str("commit", commit)
	}
	logger := logCtx.Logger()
	return &logger
}

func buildCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return ""
}

// SetLevel applies the configured level process-wide; an empty level keeps
// the zerolog default.
func SetLevel(logger *zerolog.Logger, level string) {
	if level == "" {
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		logger.Fatal().Err(err).Str("level", level).Msg("Unknown log level.")
	}
	zerolog.SetGlobalLevel(lvl)
}
