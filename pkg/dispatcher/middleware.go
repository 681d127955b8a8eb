package dispatcher

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"edgecache/pkg/logger"
)

// requestLogger logs one structured line per request: method, path,
// status, size, and duration. Errors (5xx) log at Error, client errors
// (4xx) at Warn, everything else at Info.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case ww.Status() >= 500:
			logger.Error("dispatcher: request", fields...)
		case ww.Status() >= 400:
			logger.Warn("dispatcher: request", fields...)
		default:
			logger.Info("dispatcher: request", fields...)
		}
	})
}
