package webui

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"photomaker/logging"

	"go.uber.org/zap"
)

// HTTPObserver records request latency. *metrics.Collector implements it.
type HTTPObserver interface {
	ObserveHTTP(method, path string, duration time.Duration)
}

// LoggingMiddleware logs each request with its status and duration and
// feeds the latency to an optional HTTPObserver.
type LoggingMiddleware struct {
	logger    *logging.Logger
	observer  HTTPObserver
	skipPaths map[string]bool
}

// NewLoggingMiddleware returns a middleware. Requests to skipPaths are
// observed but not logged.
func NewLoggingMiddleware(logger *logging.Logger, observer HTTPObserver, skipPaths ...string) *LoggingMiddleware {
	if logger == nil {
		logger = logging.NewNop()
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &LoggingMiddleware{logger: logger.Named("http"), observer: observer, skipPaths: skip}
}

func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		if m.observer != nil {
			m.observer.ObserveHTTP(r.Method, routeLabel(r.URL.Path), duration)
		}
		if m.skipPaths[r.URL.Path] {
			return
		}

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", duration),
			zap.String("remote", clientIP(r)),
			zap.Int64("bytes", wrapped.bytesWritten),
		}
		switch {
		case wrapped.statusCode >= 500:
			m.logger.Error("Request failed", fields...)
		case wrapped.statusCode >= 400:
			m.logger.Warn("Request rejected", fields...)
		default:
			m.logger.Debug("Request served", fields...)
		}
	})
}

// routeLabel collapses file paths so metric label cardinality stays fixed.
func routeLabel(path string) string {
	for _, prefix := range []string{"/outputs/", "/inputs/", "/static/", "/api/history/"} {
		if strings.HasPrefix(path, prefix) {
			return prefix + "*"
		}
	}
	switch path {
	case "/", "/health", "/metrics", "/ws",
		"/api/generate", "/api/input", "/api/defaults", "/api/styles", "/api/history":
		return path
	}
	return "other"
}

type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

func (w *responseWriterWrapper) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (w *responseWriterWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("webui: response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return h.Hijack()
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
