package clientrt

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// Logger receives the client's diagnostic output. Arguments are alternating
// keys and values. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewConsoleLogger returns a human readable logger writing to w.
func NewConsoleLogger(w io.Writer, level slog.Level, color bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    !color,
	}))
}
