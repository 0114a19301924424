package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a JSON slog logger configured at the provided level and tagged
// with the service name. If the level string is invalid it defaults to info.
func New(level, service string) *slog.Logger {
	return newLogger(os.Stdout, level).With(slog.String("service", service))
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if isSecret(a.Key) {
				return slog.String(a.Key, "[redacted]")
			}
			return a
		},
	})
	return slog.New(handler)
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	handler := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

func isSecret(key string) bool {
	switch key {
	case "password", "code", "token", "access_token", "refresh_token", "secret":
		return true
	}
	return false
}
