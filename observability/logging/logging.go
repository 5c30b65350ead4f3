package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup configures process-wide structured JSON logging and returns the root
// slog.Logger. Every line carries the service name and, when set, the
// deployment environment. Keys follow the severity/message/timestamp scheme
// expected by the log collector.
func Setup(service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		ReplaceAttr: renameAttr,
	})

	base := slog.New(handler).With(slog.String("service", strings.TrimSpace(service)))
	if env = strings.TrimSpace(env); env != "" {
		base = base.With(slog.String("env", env))
	}
	slog.SetDefault(base)

	// Route the standard library logger through the same handler so stray
	// log.Printf calls stay structured.
	bridge := slog.NewLogLogger(handler, slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)

	return base
}

func renameAttr(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		return slog.Attr{Key: "timestamp", Value: attr.Value}
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		return slog.Attr{Key: "message", Value: attr.Value}
	}
	return attr
}
