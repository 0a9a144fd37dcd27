package internal

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the process logger from cfg. The returned closer
// releases the log file, if any.
func NewLogger(cfg LogConfig, stdout *os.File) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = stdout
		closer io.Closer = nopCloser{}
		color            = isatty.IsTerminal(stdout.Fd()) && os.Getenv("NO_COLOR") == ""
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		w, closer, color = lj, lj, false
	}

	var h slog.Handler
	switch cfg.Format {
	case LogFormatText:
		h = tint.NewHandler(w, &tint.Options{
			Level:      cfg.Level,
			TimeFormat: time.TimeOnly,
			NoColor:    !color,
		})
	default:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.Level})
	}
	return slog.New(h), closer
}
