package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentac/controller/internal/controller"
	"github.com/opentac/controller/internal/metrics"
	"github.com/opentac/controller/internal/stats"
	"github.com/opentac/controller/internal/store"
)

// Server wires the agent WebSocket endpoint and the read-only observer
// API onto one router. All competition mutations flow through the
// controller's event loop; the REST surface only snapshots.
type Server struct {
	ctrl    *controller.Controller
	hub     *Hub
	archive store.Store
	log     *slog.Logger
}

// NewServer creates the HTTP server wiring.
func NewServer(ctrl *controller.Controller, hub *Hub, archive store.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{ctrl: ctrl, hub: hub, archive: archive, log: log}
}

// Router builds the chi router with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"tac-controller"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for agent traffic.
		r.Get("/ws", s.hub.HandleWS)

		// Live competition snapshots.
		r.Get("/phase", s.GetPhase)
		r.Get("/agents", s.GetAgents)
		r.Get("/scores", s.GetScores)
		r.Get("/prices", s.GetPrices)
		r.Get("/game", s.GetGame)

		// Archived experiments.
		r.Get("/experiments", s.ListExperiments)
		r.Get("/experiments/{experimentID}", s.GetExperiment)
		r.Get("/experiments/{experimentID}/stats", s.GetExperimentStats)
	})

	return r
}

// GetPhase handles GET /api/v1/phase
func (s *Server) GetPhase(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"phase":  s.ctrl.Phase().String(),
		"reason": s.ctrl.Reason(),
	})
}

// GetAgents handles GET /api/v1/agents
func (s *Server) GetAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.ctrl.RegisteredAgents())
}

// GetScores handles GET /api/v1/scores
func (s *Server) GetScores(w http.ResponseWriter, r *http.Request) {
	scores := s.ctrl.Scores()
	if scores == nil {
		writeError(w, "no game in progress", http.StatusNotFound)
		return
	}
	writeJSON(w, scores)
}

// GetPrices handles GET /api/v1/prices
func (s *Server) GetPrices(w http.ResponseWriter, r *http.Request) {
	prices := s.ctrl.Prices()
	if prices == nil {
		writeError(w, "no game in progress", http.StatusNotFound)
		return
	}
	writeJSON(w, prices)
}

// GetGame handles GET /api/v1/game
func (s *Server) GetGame(w http.ResponseWriter, r *http.Request) {
	doc := s.ctrl.Document()
	if doc == nil {
		writeError(w, "no game in progress", http.StatusNotFound)
		return
	}
	writeJSON(w, doc)
}

// ListExperiments handles GET /api/v1/experiments
func (s *Server) ListExperiments(w http.ResponseWriter, r *http.Request) {
	ids, err := s.archive.ListExperiments(r.Context())
	if err != nil {
		s.log.Error("failed to list experiments", "err", err)
		writeError(w, "failed to list experiments", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, ids)
}

// GetExperiment handles GET /api/v1/experiments/{experimentID}
func (s *Server) GetExperiment(w http.ResponseWriter, r *http.Request) {
	rec, err := s.loadRecord(w, r)
	if err != nil {
		return
	}
	writeJSON(w, rec)
}

// GetExperimentStats handles GET /api/v1/experiments/{experimentID}/stats
func (s *Server) GetExperimentStats(w http.ResponseWriter, r *http.Request) {
	rec, err := s.loadRecord(w, r)
	if err != nil {
		return
	}
	if rec.Game == nil {
		writeError(w, "experiment ended without a game", http.StatusNotFound)
		return
	}

	gs, err := stats.Compute(rec.Game)
	if err != nil {
		s.log.Error("stats computation failed", "experiment_id", rec.ExperimentID, "err", err)
		writeError(w, "archived game does not replay", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"experiment_id":      rec.ExperimentID,
		"reason":             rec.Reason,
		"transactions":       gs.Steps() - 1,
		"standings":          gs.Standings(),
		"price_deviation":    gs.PriceDeviation(),
		"equilibrium_scores": gs.EquilibriumScores(),
		"score_deviation":    gs.ScoreDeviation(),
	})
}

// loadRecord fetches the record named in the URL, writing the HTTP error
// itself when the lookup fails.
func (s *Server) loadRecord(w http.ResponseWriter, r *http.Request) (*store.Record, error) {
	experimentID := chi.URLParam(r, "experimentID")
	rec, err := s.archive.GetRecord(r.Context(), experimentID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "experiment not found", http.StatusNotFound)
		return nil, err
	}
	if err != nil {
		s.log.Error("failed to load record", "experiment_id", experimentID, "err", err)
		writeError(w, "failed to load record", http.StatusInternalServerError)
		return nil, err
	}
	return rec, nil
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
