package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"transit-simulator/internal/apperr"
	"transit-simulator/internal/sim"
)

type startSimulationRequest struct {
	TripID           string  `json:"tripId"`
	SpeedMultiplier  float64 `json:"speedMultiplier"`
	UpdateIntervalMs int64   `json:"updateIntervalMs"`
	RandomDeviation  float64 `json:"randomDeviation"`
}

func (s *Server) startSimulation(w http.ResponseWriter, r *http.Request) {
	var req startSimulationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.reg.Start(r.Context(), sim.StartRequest{
		TripID:          req.TripID,
		SpeedMultiplier: req.SpeedMultiplier,
		UpdateInterval:  time.Duration(req.UpdateIntervalMs) * time.Millisecond,
		RandomDeviation: req.RandomDeviation,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) listSimulations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

func (s *Server) getSimulation(w http.ResponseWriter, r *http.Request) {
	snap, err := s.reg.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// getPosition prefers the shared latest-position store for running sessions
// and otherwise serves the in-process snapshot.
func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.reg.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.positions != nil && snap.Status == sim.StatusRunning {
		u, err := s.positions.Latest(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, u)
			return
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			s.log.Warn().Err(err).Str("session_id", id).Msg("latest position unavailable")
		}
	}
	writeJSON(w, http.StatusOK, snap.Update())
}

func (s *Server) transition(op func(string) (sim.Snapshot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := op(chi.URLParam(r, "id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) pauseSimulation(w http.ResponseWriter, r *http.Request) {
	s.transition(s.reg.Pause)(w, r)
}

func (s *Server) resumeSimulation(w http.ResponseWriter, r *http.Request) {
	s.transition(s.reg.Resume)(w, r)
}

func (s *Server) stopSimulation(w http.ResponseWriter, r *http.Request) {
	s.transition(s.reg.Stop)(w, r)
}

func (s *Server) removeSimulation(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Remove(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
