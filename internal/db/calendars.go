package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"transit-simulator/internal/apperr"
	"transit-simulator/internal/calendar"
)

const calendarSchema = `
CREATE TABLE IF NOT EXISTS "Calendar" (
  id          text PRIMARY KEY,
  name        text NOT NULL,
  scope       text NOT NULL,
  "companyId" text,
  kind        text NOT NULL,
  "createdAt" timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS "CalendarEntry" (
  id             text PRIMARY KEY,
  "calendarId"   text NOT NULL REFERENCES "Calendar"(id) ON DELETE CASCADE,
  name           text NOT NULL,
  "dateType"     text NOT NULL,
  date           text,
  recurring      boolean NOT NULL DEFAULT false,
  "easterOffset" integer,
  "startDate"    date,
  "endDate"      date,
  "ruleKey"      text NOT NULL,
  "createdAt"    timestamptz NOT NULL DEFAULT now(),
  UNIQUE ("calendarId", "ruleKey")
);`

// CalendarStore implements calendar.Store on Postgres.
type CalendarStore struct {
	db *sql.DB
}

func NewCalendarStore(db *sql.DB) *CalendarStore { return &CalendarStore{db: db} }

// EnsureSchema creates the calendar tables if they are missing.
func (s *CalendarStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, calendarSchema); err != nil {
		return fmt.Errorf("create calendar schema: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEntry(ctx context.Context, ex execer, e calendar.Entry) error {
	q := `INSERT INTO "CalendarEntry"
  (id, "calendarId", name, "dateType", date, recurring, "easterOffset", "startDate", "endDate", "ruleKey")
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9::date, $10)`
	var offset any
	if e.EasterOffset != nil {
		offset = *e.EasterOffset
	}
	_, err := ex.ExecContext(ctx, q,
		e.ID, e.CalendarID, e.Name, string(e.DateType), nullable(e.Date), e.Recurring,
		offset, nullable(e.StartDate), nullable(e.EndDate), calendar.RuleKey(e))
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: calendar %s already has an entry with the rule of %q", apperr.ErrConflict, e.CalendarID, e.Name)
	case isForeignKeyViolation(err):
		return fmt.Errorf("calendar %s: %w", e.CalendarID, apperr.ErrNotFound)
	case err != nil:
		return fmt.Errorf("insert calendar entry: %w", err)
	}
	return nil
}

func (s *CalendarStore) CreateCalendar(ctx context.Context, c calendar.Calendar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := `INSERT INTO "Calendar" (id, name, scope, "companyId", kind) VALUES ($1, $2, $3, $4, $5)`
	_, err = tx.ExecContext(ctx, q, c.ID, c.Name, string(c.Scope), nullable(c.CompanyID), string(c.Kind))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: calendar %s already exists", apperr.ErrConflict, c.ID)
	}
	if err != nil {
		return fmt.Errorf("insert calendar: %w", err)
	}
	for _, e := range c.Entries {
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *CalendarStore) GetCalendar(ctx context.Context, id string) (calendar.Calendar, error) {
	q := `SELECT id, name, scope, COALESCE("companyId", ''), kind FROM "Calendar" WHERE id = $1`
	var c calendar.Calendar
	err := s.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.Name, &c.Scope, &c.CompanyID, &c.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return calendar.Calendar{}, fmt.Errorf("calendar %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return calendar.Calendar{}, fmt.Errorf("query calendar: %w", err)
	}
	entries, err := s.fetchEntries(ctx, `WHERE "calendarId" = $1`, id)
	if err != nil {
		return calendar.Calendar{}, err
	}
	c.Entries = entries[id]
	if c.Entries == nil {
		c.Entries = []calendar.Entry{}
	}
	return c, nil
}

func (s *CalendarStore) ListCalendars(ctx context.Context) ([]calendar.Calendar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, scope, COALESCE("companyId", ''), kind FROM "Calendar" ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query calendars: %w", err)
	}
	defer rows.Close()
	var out []calendar.Calendar
	for rows.Next() {
		var c calendar.Calendar
		if err := rows.Scan(&c.ID, &c.Name, &c.Scope, &c.CompanyID, &c.Kind); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	entries, err := s.fetchEntries(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Entries = entries[out[i].ID]
		if out[i].Entries == nil {
			out[i].Entries = []calendar.Entry{}
		}
	}
	return out, nil
}

// fetchEntries returns entries grouped by calendar id.
func (s *CalendarStore) fetchEntries(ctx context.Context, where string, args ...any) (map[string][]calendar.Entry, error) {
	q := `SELECT id, "calendarId", name, "dateType", COALESCE(date, ''), recurring, "easterOffset",
       COALESCE(to_char("startDate", 'YYYY-MM-DD'), ''), COALESCE(to_char("endDate", 'YYYY-MM-DD'), '')
FROM "CalendarEntry" ` + where + ` ORDER BY "createdAt", id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query calendar entries: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]calendar.Entry)
	for rows.Next() {
		var e calendar.Entry
		var offset sql.NullInt64
		if err := rows.Scan(&e.ID, &e.CalendarID, &e.Name, &e.DateType, &e.Date, &e.Recurring, &offset, &e.StartDate, &e.EndDate); err != nil {
			return nil, err
		}
		if offset.Valid {
			o := int(offset.Int64)
			e.EasterOffset = &o
		}
		out[e.CalendarID] = append(out[e.CalendarID], e)
	}
	return out, rows.Err()
}

func (s *CalendarStore) AddEntry(ctx context.Context, e calendar.Entry) error {
	return insertEntry(ctx, s.db, e)
}

func (s *CalendarStore) DeleteEntry(ctx context.Context, calendarID, entryID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM "CalendarEntry" WHERE "calendarId" = $1 AND id = $2`, calendarID, entryID)
	if err != nil {
		return fmt.Errorf("delete calendar entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("entry %s: %w", entryID, apperr.ErrNotFound)
	}
	return nil
}
