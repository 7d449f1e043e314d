package middleware

import (
	"net/http"
	"time"

	"benefit-worker/internal/common/logging"
)

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging logs every request through logger. Successful requests are logged
// at debug level since the platform probes the health endpoints every few seconds.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(recorder, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", recorder.statusCode),
				logging.Duration("duration", time.Since(start)),
			}

			switch {
			case recorder.statusCode >= 500:
				logger.Warn("HTTP request failed", fields...)
			case recorder.statusCode >= 400:
				logger.Info("HTTP request rejected", fields...)
			default:
				logger.Debug("HTTP request completed", fields...)
			}
		})
	}
}
