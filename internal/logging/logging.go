package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// Init sets a JSON (default) or text slog handler based on the provided format.
// Supported: "json" (default), "text".
func Init(service, format string) *slog.Logger {
	logger := slog.New(newHandler(os.Stdout, format)).With("service", service)
	slog.SetDefault(logger)
	warnFormat(logger, format)
	return logger
}

// InitWithSentry behaves like Init and, when dsn is set, also reports
// error-level records to Sentry. The returned func flushes pending events.
func InitWithSentry(service, format, dsn string) (*slog.Logger, func(), error) {
	if dsn == "" {
		return Init(service, format), func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:        dsn,
		ServerName: service,
	}); err != nil {
		return Init(service, format), func() {}, err
	}
	h := NewSentryHandler(newHandler(os.Stdout, format), sentry.CurrentHub())
	logger := slog.New(h).With("service", service)
	slog.SetDefault(logger)
	warnFormat(logger, format)
	return logger, func() { sentry.Flush(2 * time.Second) }, nil
}

func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{}
	switch normalize(format) {
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

func warnFormat(logger *slog.Logger, format string) {
	f := normalize(format)
	if f != "" && f != "json" && f != "text" {
		logger.Warn("unknown log format, defaulting to json", "format", format)
	}
}

func normalize(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}
