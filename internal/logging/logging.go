// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pliu/nowchat/internal/config"
)

// New returns a logger writing to stdout in the configured format and level.
func New(cfg config.LogConfig) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg)
}

func NewWithWriter(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name onto slog. Unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
