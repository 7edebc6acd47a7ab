package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"transit-simulator/internal/apperr"
	"transit-simulator/internal/calendar"
)

func (s *Server) listCalendars(w http.ResponseWriter, r *http.Request) {
	cals, err := s.calendars.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if cals == nil {
		cals = []calendar.Calendar{}
	}
	writeJSON(w, http.StatusOK, cals)
}

func (s *Server) getCalendar(w http.ResponseWriter, r *http.Request) {
	c, err := s.calendars.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) createCalendar(w http.ResponseWriter, r *http.Request) {
	var c calendar.Calendar
	if err := decodeJSON(w, r, &c); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.calendars.Create(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) addCalendarEntry(w http.ResponseWriter, r *http.Request) {
	var e calendar.Entry
	if err := decodeJSON(w, r, &e); err != nil {
		s.writeError(w, r, err)
		return
	}
	added, err := s.calendars.AddEntry(r.Context(), chi.URLParam(r, "id"), e)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) removeCalendarEntry(w http.ResponseWriter, r *http.Request) {
	err := s.calendars.RemoveEntry(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "entryId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// calendarDates materializes a calendar for ?year=, defaulting to the current year.
func (s *Server) calendarDates(w http.ResponseWriter, r *http.Request) {
	year := time.Now().In(s.loc).Year()
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: year %q is not a number", apperr.ErrInvalidArgument, v))
			return
		}
		year = y
	}
	occ, err := s.calendars.Dates(r.Context(), chi.URLParam(r, "id"), year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"calendarId": chi.URLParam(r, "id"),
		"year":       year,
		"dates":      occ,
	})
}
