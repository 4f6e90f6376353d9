package logger

import (
	"log"
	"log/slog"
)

// Std adapts a slog.Logger to *log.Logger for libraries that still expect one
// (http.Server.ErrorLog and friends). Lines are emitted at error level with a
// component attribute.
func Std(l *slog.Logger, component string) *log.Logger {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	return slog.NewLogLogger(l.With("component", component).Handler(), slog.LevelError)
}
