// Package httpapi is the engine's operational HTTP surface: manual tick and
// dry-run triggers, outcome ingestion, window inspection and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/engine"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// Server wraps the engine behind a REST surface.
type Server struct {
	engine *engine.Engine
	http   *http.Server
}

func NewServer(eng *engine.Engine, addr string) *Server {
	s := &Server{engine: eng}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/tick", s.handleTick).Methods(http.MethodPost)
	r.HandleFunc("/dryrun", s.handleDryRun).Methods(http.MethodPost)
	r.HandleFunc("/outcomes", s.handleOutcome).Methods(http.MethodPost)
	r.HandleFunc("/windows/current", s.handleCurrentWindow).Methods(http.MethodGet)
	r.HandleFunc("/windows/current/prediction", s.handleLatestPrediction).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Tick(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDryRun(w http.ResponseWriter, r *http.Request) {
	rep, err := s.engine.DryRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type outcomeRequest struct {
	Value      int        `json:"value"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	at := time.Now()
	if req.ObservedAt != nil {
		at = *req.ObservedAt
	}

	res, err := s.engine.Evaluate(r.Context(), req.Value, at)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCurrentWindow(w http.ResponseWriter, r *http.Request) {
	win, st, err := s.engine.Windows.EnsureCurrent(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"window": win, "state": st})
}

func (s *Server) handleLatestPrediction(w http.ResponseWriter, r *http.Request) {
	win, _, err := s.engine.Windows.EnsureCurrent(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	pred, err := s.engine.Store.Predictions().LatestForWindow(r.Context(), win.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errors.New("no prediction for the current window"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
