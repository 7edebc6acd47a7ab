// Package api exposes the simulation registry and calendar service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"transit-simulator/internal/apperr"
	"transit-simulator/internal/calendar"
	"transit-simulator/internal/sim"
)

// PositionReader returns the latest published update of a session.
type PositionReader interface {
	Latest(ctx context.Context, sessionID string) (sim.Update, error)
}

type Config struct {
	Registry  *sim.Registry
	Calendars *calendar.Service
	Positions PositionReader // optional
	Hub       *Hub           // optional; serves the stream endpoint
	RateLimit int            // mutating requests per minute per IP, 0 disables
	Location  *time.Location // default year for calendar dates
	Logger    zerolog.Logger
}

type Server struct {
	reg       *sim.Registry
	calendars *calendar.Service
	positions PositionReader
	hub       *Hub
	rateLimit int
	loc       *time.Location
	log       zerolog.Logger
}

func NewServer(cfg Config) *Server {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Server{
		reg:       cfg.Registry,
		calendars: cfg.Calendars,
		positions: cfg.Positions,
		hub:       cfg.Hub,
		rateLimit: cfg.RateLimit,
		loc:       loc,
		log:       cfg.Logger,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(accessLog(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/simulations/stream", s.hub.ServeHTTP)
		}
		r.Get("/simulations", s.listSimulations)
		r.Get("/simulations/{id}", s.getSimulation)
		r.Get("/simulations/{id}/position", s.getPosition)

		r.Get("/calendars", s.listCalendars)
		r.Get("/calendars/{id}", s.getCalendar)
		r.Get("/calendars/{id}/dates", s.calendarDates)

		r.Group(func(r chi.Router) {
			if s.rateLimit > 0 {
				r.Use(rateLimit(s.rateLimit, time.Minute))
			}
			r.Post("/simulations", s.startSimulation)
			r.Post("/simulations/{id}/pause", s.pauseSimulation)
			r.Post("/simulations/{id}/resume", s.resumeSimulation)
			r.Post("/simulations/{id}/stop", s.stopSimulation)
			r.Delete("/simulations/{id}", s.removeSimulation)

			r.Post("/calendars", s.createCalendar)
			r.Post("/calendars/{id}/entries", s.addCalendarEntry)
			r.Delete("/calendars/{id}/entries/{entryId}", s.removeCalendarEntry)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errBadJSON = errors.New("malformed JSON body")

// writeError maps err to its status code and returns its message verbatim.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if errors.Is(err, errBadJSON) {
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return nil
}
