package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ayush8285/dealertrack/internal/database"
	"github.com/ayush8285/dealertrack/internal/modules/inventory"
	"github.com/ayush8285/dealertrack/internal/modules/ml"
	"github.com/ayush8285/dealertrack/internal/modules/pipeline"
)

// Config holds server configuration
type Config struct {
	Port    int
	DevMode bool
	Log     zerolog.Logger

	DB        *database.DB
	Inventory *inventory.Handler
	ML        *ml.Handler
	Pipeline  *pipeline.Handler
	Predictor *ml.Predictor

	Orchestrator *pipeline.Orchestrator
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	// Blocking sync runs can exceed the default timeout, so the trigger
	// routes are excluded below via route-level timeouts instead.
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/vehicles", func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			s.cfg.Inventory.RegisterRoutes(r)
		})

		r.Route("/ml", func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			s.cfg.ML.RegisterRoutes(r)
		})

		// No timeout middleware: trigger-blocking waits for a full run.
		r.Route("/sync", func(r chi.Router) {
			s.cfg.Pipeline.RegisterRoutes(r)
		})
	})
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "connected"
	status := "healthy"
	if err := s.cfg.DB.QuickCheck(ctx); err != nil {
		dbStatus = fmt.Sprintf("error: %v", err)
		status = "degraded"
	}

	cpuPercent, ramPercent := systemStats()
	pipelineStatus := s.cfg.Orchestrator.Status()

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":           status,
		"database":         dbStatus,
		"ml_model_trained": s.cfg.Predictor.IsTrained(),
		"is_syncing":       pipelineStatus.Running,
		"pipeline_stage":   pipelineStatus.Stage,
		"cpu_percent":      cpuPercent,
		"ram_percent":      ramPercent,
	})
}

// systemStats samples CPU and memory usage. Failures degrade to zeros rather
// than failing the health check.
func systemStats() (float64, float64) {
	var cpuAvg, ramUsed float64

	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuAvg = percents[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		ramUsed = memStat.UsedPercent
	}
	return cpuAvg, ramUsed
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
