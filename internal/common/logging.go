package common

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps LOG_LEVEL values onto slog levels; unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// NewLogger builds the daemon logger: text to stdout, teed into a rotating
// file when cfg.File is set. The returned closer flushes the rotating file.
func NewLogger(cfg LogConfig) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(nil)
	if cfg.File != "" {
		rot := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: 5,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rot)
		closer = rot
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}))
	return logger, closer
}
