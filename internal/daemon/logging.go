package daemon

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/pagebaker/internal/observability"
)

// RequestIDHeader carries the request id on responses.
const RequestIDHeader = "X-Request-ID"

// LoggingMiddleware logs each request with its status and duration.
type LoggingMiddleware struct{}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware() *LoggingMiddleware {
	return &LoggingMiddleware{}
}

// logResponseWriter wraps http.ResponseWriter to capture status code and size for logging
type logResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

// WriteHeader captures the status code
func (rw *logResponseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures response size
func (rw *logResponseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Handler wraps next with structured request logging.
func (lm *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		rw := &logResponseWriter{ResponseWriter: w, status: http.StatusOK}
		rw.Header().Set(RequestIDHeader, requestID)
		r = r.WithContext(observability.WithRequestID(r.Context(), requestID))

		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		switch {
		case rw.status >= 500:
			level = slog.LevelError
		case rw.status >= 400:
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
			"response_size", rw.size,
			"remote_addr", r.RemoteAddr)
	})
}
