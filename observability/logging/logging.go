// Package logging provides the JSON slog layout shared by the daemons and the
// redaction helpers for sensitive fields.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON logger as the slog default, routes the standard
// library logger through it and returns it. Every line carries the service
// name and, when set, the environment. The dev environment logs at debug.
func Setup(service, env string) *slog.Logger {
	handler := newHandler(os.Stdout, service, env)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	bridge := slog.NewLogLogger(handler, slog.LevelInfo)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")
	return logger
}

// New returns a logger with Setup's layout writing to w, leaving process-wide
// state alone.
func New(w io.Writer, service, env string) *slog.Logger {
	return slog.New(newHandler(w, service, env))
}

func newHandler(w io.Writer, service, env string) slog.Handler {
	env = strings.TrimSpace(env)
	level := slog.LevelInfo
	if strings.EqualFold(env, "dev") {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: renameCoreKeys,
	})
	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	return handler.WithAttrs(attrs)
}

// renameCoreKeys maps slog's time/level/msg onto the timestamp/severity/message
// layout log shippers expect.
func renameCoreKeys(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "message"
	}
	return attr
}
