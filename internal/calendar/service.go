package calendar

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"transit-simulator/internal/apperr"
	mmetrics "transit-simulator/internal/metrics"
)

// Service validates calendar writes and serves materialized dates.
type Service struct {
	store   Store
	metrics *mmetrics.Collector
	log     zerolog.Logger
}

func NewService(store Store, metrics *mmetrics.Collector, logger zerolog.Logger) *Service {
	return &Service{store: store, metrics: metrics, log: logger}
}

// Create validates c and its entries, assigns entry ids and stores it.
func (s *Service) Create(ctx context.Context, c Calendar) (Calendar, error) {
	if err := ValidateCalendar(c); err != nil {
		return Calendar{}, err
	}
	seen := make(map[string]string, len(c.Entries))
	for i := range c.Entries {
		e := &c.Entries[i]
		e.CalendarID = c.ID
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if err := ValidateEntry(*e); err != nil {
			return Calendar{}, err
		}
		k := RuleKey(*e)
		if other, ok := seen[k]; ok {
			return Calendar{}, fmt.Errorf("%w: entries %q and %q share the same rule", apperr.ErrConflict, other, e.Name)
		}
		seen[k] = e.Name
	}
	if c.Entries == nil {
		c.Entries = []Entry{}
	}
	if err := s.store.CreateCalendar(ctx, c); err != nil {
		return Calendar{}, err
	}
	s.log.Info().Str("calendar_id", c.ID).Int("entries", len(c.Entries)).Msg("calendar created")
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (Calendar, error) {
	return s.store.GetCalendar(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Calendar, error) {
	return s.store.ListCalendars(ctx)
}

// AddEntry validates e and appends it to the calendar.
func (s *Service) AddEntry(ctx context.Context, calendarID string, e Entry) (Entry, error) {
	e.CalendarID = calendarID
	e.ID = uuid.NewString()
	if err := ValidateEntry(e); err != nil {
		return Entry{}, err
	}
	if err := s.store.AddEntry(ctx, e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *Service) RemoveEntry(ctx context.Context, calendarID, entryID string) error {
	return s.store.DeleteEntry(ctx, calendarID, entryID)
}

// Dates returns the occurrences of calendar id in year.
func (s *Service) Dates(ctx context.Context, id string, year int) ([]Occurrence, error) {
	c, err := s.store.GetCalendar(ctx, id)
	if err != nil {
		return nil, err
	}
	occ, err := Materialize(c, year)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.Materializations.Inc()
	}
	return occ, nil
}

// SeedBuiltins creates every built-in calendar that does not exist yet.
func (s *Service) SeedBuiltins(ctx context.Context) error {
	cals, err := Builtins()
	if err != nil {
		return err
	}
	for _, c := range cals {
		_, err := s.store.GetCalendar(ctx, c.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		if _, err := s.Create(ctx, c); err != nil && !errors.Is(err, apperr.ErrConflict) {
			return fmt.Errorf("seed calendar %s: %w", c.ID, err)
		}
	}
	return nil
}
