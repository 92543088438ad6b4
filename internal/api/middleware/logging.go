package middleware

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/satindergrewal/dubstudio/internal/metrics"
)

type wrappedWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *wrappedWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps /stream working through the wrapper.
func (w *wrappedWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *wrappedWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// silentPaths are polled endpoints that are only logged on errors (status >= 400).
var silentPaths = map[string]bool{
	"/api/health": true,
	"/api/jobs":   true,
	"/metrics":    true,
}

// Logger logs each request and records it in m, labelled by route pattern.
// A nil m only logs.
func Logger(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &wrappedWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			elapsed := time.Since(start)

			m.RecordHTTPRequest(r.Method, routePattern(r), strconv.Itoa(wrapped.statusCode), elapsed.Seconds())

			if silentPaths[r.URL.Path] && wrapped.statusCode < 400 {
				return
			}
			log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.statusCode, elapsed)
		})
	}
}

// routePattern keeps metric labels bounded: job IDs collapse into {id}.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
