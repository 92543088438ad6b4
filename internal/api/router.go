// Package api exposes the studio operations as background jobs over HTTP,
// next to the live monitor and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/satindergrewal/dubstudio/internal/api/handlers"
	"github.com/satindergrewal/dubstudio/internal/api/middleware"
	"github.com/satindergrewal/dubstudio/internal/job"
	"github.com/satindergrewal/dubstudio/internal/metrics"
	"github.com/satindergrewal/dubstudio/internal/stream"
)

// maxJSONBody bounds the merge, replace and dub request bodies.
const maxJSONBody = 1 << 20

// Deps are the services the router exposes. Monitor, Stream and WebRTC
// may be nil when the monitor is disabled; Gatherer may be nil to omit
// /metrics.
type Deps struct {
	Jobs      *job.Manager
	Extractor handlers.Extractor
	Merger    handlers.Merger
	Replacer  handlers.Replacer
	Dubber    handlers.Dubber

	Monitor *stream.Broadcaster
	Stream  http.Handler
	WebRTC  *stream.WebRTCHandler

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	CORSOrigins []string
	MaxUpload   int64 // bytes
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Metrics))
	r.Use(cors.Handler(middleware.CORSOptions(d.CORSOrigins)))

	// Handlers
	studioHandler := handlers.NewStudioHandler(d.Jobs, d.Extractor, d.Merger, d.Replacer, d.Dubber, d.MaxUpload)
	jobHandler := handlers.NewJobHandler(d.Jobs)
	var peers func() int
	if d.WebRTC != nil {
		peers = d.WebRTC.PeerCount
	}
	healthHandler := handlers.NewHealthHandler(d.Monitor, peers)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		// Studio operations
		r.Post("/extract", studioHandler.Extract)
		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(maxJSONBody))
			r.Post("/merge", studioHandler.Merge)
			r.Post("/replace", studioHandler.Replace)
			r.Post("/dub", studioHandler.Dub)
		})

		// Jobs
		r.Get("/jobs", jobHandler.ListJobs)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Get("/jobs/{id}/result", jobHandler.Result)
		r.Delete("/jobs/{id}", jobHandler.CancelJob)
	})

	// Live monitor
	if d.Stream != nil {
		r.Method(http.MethodGet, "/stream", d.Stream)
	}
	if d.WebRTC != nil {
		r.Method(http.MethodPost, "/offer", d.WebRTC)
	}

	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
