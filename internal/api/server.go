// Package api provides the HTTP control surface for the sync engine.
// Teachers' tooling and the CLI drive transfers, grants, and the sync
// scheduler through it; Prometheus scrapes /metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scorebridge-network/scorebridge/internal/app/scheduler"
	"github.com/scorebridge-network/scorebridge/internal/app/transfer"
	"github.com/scorebridge-network/scorebridge/internal/infra/observability"
	"github.com/scorebridge-network/scorebridge/internal/infra/sqlite"
)

// Version is stamped at build time.
var Version = "0.1.0"

// Server is the HTTP API server.
type Server struct {
	db             *sqlite.DB
	engine         *transfer.Engine
	sched          *scheduler.Scheduler
	tracer         *observability.Tracer
	metricsEnabled bool
}

// NewServer creates an API server over the assembled engine.
func NewServer(db *sqlite.DB, engine *transfer.Engine, sched *scheduler.Scheduler) *Server {
	return &Server{db: db, engine: engine, sched: sched}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetTracer exposes recent trace spans on /api/traces.
func (s *Server) SetTracer(t *observability.Tracer) { s.tracer = t }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"version": Version,
			})
		})

		// Ledger operations
		r.Post("/transfer", s.handleTransfer)
		r.Get("/ranking", s.handleRanking)
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/{id}", s.handleGetAccount)
			r.Get("/{id}/history", s.handleHistory)
			r.Post("/{id}/grant", s.handleGrant)
			r.Post("/{id}/deduct", s.handleDeduct)
		})

		// Sync scheduler controls
		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", s.handleSyncStatus)
			r.Post("/force", s.handleForceSync)
			r.Put("/mode", s.handleSetMode)
			r.Put("/interval", s.handleSetInterval)
			r.Get("/tasks/failed", s.handleFailedTasks)
		})

		r.Put("/settings/commission", s.handleSetCommission)

		if s.tracer != nil {
			r.Get("/traces", s.handleTraces)
		}
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spans": s.tracer.Spans(200),
	})
}
