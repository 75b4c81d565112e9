package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/kristoforerickson/mkr1000/internal/config"
)

// ComponentKey tags every record with the pipeline stage that emitted it:
// board, sampling, realtime, persist, mqtt, http, sql or pipeline.
const ComponentKey = "component"

func New(cfg config.Config, version string, appName string) *slog.Logger {
	return newLogger(os.Stdout, cfg, version, appName)
}

// Component scopes logger to one part of the pipeline. A nil logger falls
// back to slog.Default.
func Component(logger *slog.Logger, name string, args ...any) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(append([]any{ComponentKey, name}, args...)...)
}

// Dev builds get colourised text, release builds JSON carrying the board
// address so records from several greenhouses can be told apart.
func newLogger(w io.Writer, cfg config.Config, version string, appName string) *slog.Logger {
	if version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"board", cfg.BoardAddr(),
	)
}
