// Package middleware provides the logging, auth, and rate-limiting
// wrappers mux.Handle chains in front of internal/httpapi's handlers,
// ported from backend/middleware.
package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.size += n
	return n, err
}

// Hijack delegates to the underlying ResponseWriter, required for the
// websocket endpoint to upgrade through this middleware.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

var reqIDCounter uint64

// routeFields pulls the node/gateway/op path values a request carries,
// when the matched route declares them, so a request line reads back
// as "which gateway or node was this about" instead of just a path
// string an operator has to parse by hand.
func routeFields(r *http.Request) []zap.Field {
	var fields []zap.Field
	if node := r.PathValue("node"); node != "" {
		fields = append(fields, zap.String("node", node))
	}
	if gw := r.PathValue("gw"); gw != "" {
		fields = append(fields, zap.String("gateway", gw))
	}
	if op := r.PathValue("op"); op != "" {
		fields = append(fields, zap.String("op", op))
	}
	return fields
}

// Logging logs one structured line per request and recovers panics as
// a 500, the way backend/middleware/logging.go does.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rid := fmt.Sprintf("%d-%x", atomic.AddUint64(&reqIDCounter, 1), start.UnixNano())
			w.Header().Set("X-Request-ID", rid)
			sr := &statusRecorder{ResponseWriter: w}
			defer func() {
				route := routeFields(r)
				if rec := recover(); rec != nil {
					fields := append([]zap.Field{
						zap.String("request_id", rid),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("error", rec),
						zap.ByteString("stack", debug.Stack()),
					}, route...)
					logger.Error("panic", fields...)
					http.Error(sr, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
				fields := append([]zap.Field{
					zap.String("request_id", rid),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", sr.status),
					zap.Int("bytes", sr.size),
					zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				}, route...)
				logger.Info("request", fields...)
			}()
			next.ServeHTTP(sr, r)
		})
	}
}
