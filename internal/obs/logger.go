// Package obs builds the structured loggers used by the binaries
package obs

import (
	"io"
	"log/slog"
	"os"

	"github.com/eshaffer321/portalgate-go/internal/config"
)

// NewLogger returns a JSON logger, or a debug-level text logger in
// development
func NewLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(w io.Writer, env string) *slog.Logger {
	if env == config.EnvDevelopment || env == "dev" {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
