// Package api exposes the tracking core over HTTP: ROI preset persistence,
// tracking proxy endpoints, batch control, behavioral analysis and progress
// streaming.
package api

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"micetrack/internal/auth"
	"micetrack/internal/backend"
	"micetrack/internal/batch"
	"micetrack/internal/config"
	"micetrack/internal/database"
	"micetrack/internal/metrics"
	"micetrack/internal/middleware"
	"micetrack/internal/ws"
)

// Server wires the tracking core to the HTTP surface
type Server struct {
	cfg           *config.Config
	db            *database.Database
	client        *backend.Client
	bus           *batch.EventBus
	hub           *ws.ProgressHub
	metrics       *metrics.Metrics
	authenticator *auth.Authenticator

	// batch state: one batch runs at a time
	batchMu    sync.Mutex
	current    *batch.Orchestrator
	running    bool
	lastReport *batch.Report
}

// NewServer creates the API server. The event bus feeds the websocket hub
// and the metrics observer.
func NewServer(cfg *config.Config, db *database.Database, client *backend.Client, authenticator *auth.Authenticator) *Server {
	s := &Server{
		cfg:           cfg,
		db:            db,
		client:        client,
		bus:           batch.NewEventBus(),
		hub:           ws.NewProgressHub(),
		metrics:       metrics.New(),
		authenticator: authenticator,
	}
	s.hub.AttachBus(s.bus)
	s.metrics.AttachBus(s.bus)
	return s
}

// Bus returns the batch event bus, for additional subscribers.
func (s *Server) Bus() *batch.EventBus { return s.bus }

// Metrics returns the metrics instance.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Router builds the chi router with all routes mounted
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)

	wsHandler := ws.NewHandler(s.hub)

	// Public routes
	r.Get("/api/health", s.handleHealth)
	r.Post("/api/auth/login", s.handleLogin)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Authenticated routes (passthrough when auth is disabled)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(s.authenticator))

		r.Route("/api/roi/presets", func(r chi.Router) {
			r.Get("/", s.handleListPresets)
			r.Post("/", s.handleSavePreset)
			r.Get("/{name}", s.handleGetPreset)
			r.Delete("/{name}", s.handleDeletePreset)
		})

		r.Route("/api/tracking", func(r chi.Router) {
			r.Get("/models", s.handleListModels)
			r.Post("/models/upload", s.handleModelUpload)
			r.Post("/start", s.handleTrackingStart)
			r.Get("/progress/{taskID}", s.handleTrackingProgress)
			r.Post("/stop/{taskID}", s.handleTrackingStop)
			r.Get("/results/{taskID}", s.handleTrackingResults)
		})

		r.Route("/api/batch", func(r chi.Router) {
			r.Post("/start", s.handleBatchStart)
			r.Post("/stop", s.handleBatchStop)
			r.Get("/status", s.handleBatchStatus)
			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{runID}", s.handleGetRun)
		})

		r.Route("/api/settings", func(r chi.Router) {
			r.Get("/", s.handleListSettings)
			r.Get("/{key}", s.handleGetSetting)
			r.Put("/{key}", s.handleSetSetting)
			r.Delete("/{key}", s.handleDeleteSetting)
		})

		r.Route("/api/analysis", func(r chi.Router) {
			r.Post("/movement", s.handleAnalysisMovement)
			r.Post("/open-field", s.handleAnalysisOpenField)
			r.Post("/rearing", s.handleAnalysisRearing)
		})

		r.Get("/ws/progress", wsHandler.ServeHTTP)
		r.Get("/ws/progress/{batchID}", wsHandler.ServeHTTP)
	})

	return r
}
