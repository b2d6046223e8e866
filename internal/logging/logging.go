// Package logging configures the module's default slog logger, mirroring
// the teacher's root-level logger.go: a TextHandler writing to stdout whose
// level is controlled by an environment variable and can be overridden
// programmatically at runtime.
package logging

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// Configure sets up the global default logger with a TextHandler and
// configures the log level from the TXMGR_LOG_LEVEL environment variable.
// It defaults to Info when the variable is unset or unrecognized.
//
// Call this once at process startup if the host application wants the
// module's default logging configuration; the engine and adapters log
// through log/slog's default logger regardless, so this is optional.
func Configure() {
	logLevel.Set(slog.LevelInfo)

	switch os.Getenv("TXMGR_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLevel overrides the level set by Configure.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}
