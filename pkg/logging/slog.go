package logging

import (
	"log/slog"
	"os"
)

// New builds the JSON logger shared by all services. Every line carries the
// service name so the aggregated stream stays attributable.
func New(service string) *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With("service", service)
}
