package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"transit-simulator/internal/apperr"
)

// Store persists calendars. AddEntry and CreateCalendar must reject an entry
// whose RuleKey already exists in the calendar with apperr.ErrConflict.
type Store interface {
	CreateCalendar(ctx context.Context, c Calendar) error
	GetCalendar(ctx context.Context, id string) (Calendar, error)
	ListCalendars(ctx context.Context) ([]Calendar, error)
	AddEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, calendarID, entryID string) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	calendars map[string]*Calendar
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{calendars: make(map[string]*Calendar)}
}

func (m *MemoryStore) CreateCalendar(_ context.Context, c Calendar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.calendars[c.ID]; ok {
		return fmt.Errorf("%w: calendar %s already exists", apperr.ErrConflict, c.ID)
	}
	seen := make(map[string]bool, len(c.Entries))
	for _, e := range c.Entries {
		k := RuleKey(e)
		if seen[k] {
			return fmt.Errorf("%w: duplicate entry %q in calendar %s", apperr.ErrConflict, e.Name, c.ID)
		}
		seen[k] = true
	}
	cp := cloneCalendar(c)
	m.calendars[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetCalendar(_ context.Context, id string) (Calendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calendars[id]
	if !ok {
		return Calendar{}, fmt.Errorf("calendar %s: %w", id, apperr.ErrNotFound)
	}
	return cloneCalendar(*c), nil
}

func (m *MemoryStore) ListCalendars(_ context.Context) ([]Calendar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Calendar, 0, len(m.calendars))
	for _, c := range m.calendars {
		out = append(out, cloneCalendar(*c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AddEntry(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calendars[e.CalendarID]
	if !ok {
		return fmt.Errorf("calendar %s: %w", e.CalendarID, apperr.ErrNotFound)
	}
	k := RuleKey(e)
	for _, existing := range c.Entries {
		if RuleKey(existing) == k {
			return fmt.Errorf("%w: calendar %s already has entry %q with the same rule", apperr.ErrConflict, c.ID, existing.Name)
		}
	}
	c.Entries = append(c.Entries, cloneEntry(e))
	return nil
}

func (m *MemoryStore) DeleteEntry(_ context.Context, calendarID, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calendars[calendarID]
	if !ok {
		return fmt.Errorf("calendar %s: %w", calendarID, apperr.ErrNotFound)
	}
	for i, e := range c.Entries {
		if e.ID == entryID {
			c.Entries = append(c.Entries[:i], c.Entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("entry %s: %w", entryID, apperr.ErrNotFound)
}

func cloneCalendar(c Calendar) Calendar {
	entries := make([]Entry, len(c.Entries))
	for i, e := range c.Entries {
		entries[i] = cloneEntry(e)
	}
	c.Entries = entries
	return c
}

func cloneEntry(e Entry) Entry {
	if e.EasterOffset != nil {
		o := *e.EasterOffset
		e.EasterOffset = &o
	}
	return e
}
