package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Fields struct {
	Service    string
	OrderID    string
	UserID     string
	EventID    string
	Step       string
	Status     string
	DurationMS int64
	Message    string
	Error      string
}

// Setup installs a JSON slog handler on stdout as the default logger and
// returns it. Every record carries the service name.
func Setup(service, level string) *slog.Logger {
	return SetupWriter(os.Stdout, service, level)
}

func SetupWriter(w io.Writer, service, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	logger := slog.New(h).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Log emits one step record. Records with an error are logged at ERROR,
// rejected steps at WARN.
func Log(fields Fields) {
	level := slog.LevelInfo
	switch {
	case fields.Error != "":
		level = slog.LevelError
	case fields.Status == "rejected":
		level = slog.LevelWarn
	}

	attrs := make([]slog.Attr, 0, 9)
	add := func(k, v string) {
		if v != "" {
			attrs = append(attrs, slog.String(k, v))
		}
	}
	if fields.Service != "" {
		attrs = append(attrs, slog.String("component", fields.Service))
	}
	add("order_id", fields.OrderID)
	add("user_id", fields.UserID)
	add("event_id", fields.EventID)
	add("step", fields.Step)
	add("status", fields.Status)
	if fields.DurationMS > 0 {
		attrs = append(attrs, slog.Int64("duration_ms", fields.DurationMS))
	}
	add("error", fields.Error)

	msg := fields.Message
	if msg == "" {
		msg = fields.Step
	}
	slog.Default().LogAttrs(context.Background(), level, msg, attrs...)
}
