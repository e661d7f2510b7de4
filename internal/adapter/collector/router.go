package collector

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/user/event-tracker/internal/adapter/metrics"
)

// NewRouter builds the collector's HTTP surface: credential exchange, the
// token-guarded event endpoint, and a health check.
func NewRouter(cfg Config, sink Sink, m *metrics.CollectorMetrics, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogging(logger))

	h := NewHandler(cfg, sink, m, logger)

	r.Post("/authentication", h.Authenticate)
	r.Group(func(r chi.Router) {
		r.Use(h.RequireToken)
		r.Post("/event", h.IngestEvents)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}

// responseWriter captures the status code for the request log.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			logger.Info("handled request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", rw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
