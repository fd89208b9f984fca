package debugapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// requestLogger returns chi request logging routed through logger.
func requestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return middleware.RequestLogger(&logFormatter{logger: logger})
}

type logFormatter struct {
	logger *slog.Logger
}

// NewLogEntry creates a new LogEntry for the request.
func (f *logFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	attrs := []any{}
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		attrs = append(attrs, slog.String("request", reqID))
	}
	attrs = append(attrs, slog.String("from", r.RemoteAddr))

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	msg := fmt.Sprintf("%s %s://%s%s %s", r.Method, scheme, r.Host, r.RequestURI, r.Proto)

	return &logEntry{logger: f.logger, attrs: attrs, msg: msg}
}

type logEntry struct {
	logger *slog.Logger
	attrs  []any
	msg    string
}

func (e *logEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	attrs := append(e.attrs,
		slog.Int("status", status),
		slog.Int("bytes", bytes),
		slog.String("elapsed", elapsed.String()),
	)

	if status >= 500 {
		e.logger.Error(e.msg, attrs...)
		return
	}
	e.logger.Debug(e.msg, attrs...)
}

func (e *logEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error("Handler panicked", slog.Any("panic", v), slog.String("stack", string(stack)))
}
