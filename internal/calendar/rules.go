package calendar

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"transit-simulator/internal/apperr"
)

const (
	dateLayout = "2006-01-02"
	minYear    = 1583 // first full Gregorian year
	maxYear    = 9999
	maxOffset  = 365
)

var (
	monthDayRe = regexp.MustCompile(`^\d{2}-\d{2}$`)
	fullDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	codeRe     = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)
)

type monthDay struct {
	month time.Month
	day   int
}

func parseMonthDay(s string) (monthDay, error) {
	if !monthDayRe.MatchString(s) {
		return monthDay{}, fmt.Errorf("%w: %q is not MM-DD", apperr.ErrInvalidDateRule, s)
	}
	// 2000 is a leap year, so 02-29 is accepted
	t, err := time.Parse(dateLayout, "2000-"+s)
	if err != nil {
		return monthDay{}, fmt.Errorf("%w: %q is not a valid month-day", apperr.ErrInvalidDateRule, s)
	}
	return monthDay{month: t.Month(), day: t.Day()}, nil
}

func parseDate(s string) (time.Time, error) {
	if !fullDateRe.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", apperr.ErrInvalidDateRule, s)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a valid date", apperr.ErrInvalidDateRule, s)
	}
	return t, nil
}

// ValidateEntry checks that exactly the representation of the entry's
// DateType is populated and parses.
func ValidateEntry(e Entry) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: entry name is required", apperr.ErrInvalidArgument)
	}
	switch e.DateType {
	case DateFixed:
		if e.EasterOffset != nil || e.StartDate != "" || e.EndDate != "" {
			return fmt.Errorf("%w: fixed entry %q must only set date", apperr.ErrInvalidDateRule, e.Name)
		}
		if e.Recurring {
			_, err := parseMonthDay(e.Date)
			return err
		}
		_, err := parseDate(e.Date)
		return err
	case DateEaster:
		if e.Date != "" || e.StartDate != "" || e.EndDate != "" || e.Recurring {
			return fmt.Errorf("%w: easter entry %q must only set easterOffset", apperr.ErrInvalidDateRule, e.Name)
		}
		if e.EasterOffset == nil {
			return fmt.Errorf("%w: easter entry %q has no easterOffset", apperr.ErrInvalidDateRule, e.Name)
		}
		if o := *e.EasterOffset; o < -maxOffset || o > maxOffset {
			return fmt.Errorf("%w: easterOffset %d out of range", apperr.ErrInvalidDateRule, o)
		}
		return nil
	case DateRange:
		if e.Date != "" || e.EasterOffset != nil || e.Recurring {
			return fmt.Errorf("%w: range entry %q must only set startDate and endDate", apperr.ErrInvalidDateRule, e.Name)
		}
		start, err := parseDate(e.StartDate)
		if err != nil {
			return err
		}
		end, err := parseDate(e.EndDate)
		if err != nil {
			return err
		}
		if end.Before(start) {
			return fmt.Errorf("%w: range %s..%s ends before it starts", apperr.ErrInvalidDateRule, e.StartDate, e.EndDate)
		}
		return nil
	default:
		return fmt.Errorf("%w: dateType %q", apperr.ErrUnsupportedRule, e.DateType)
	}
}

// RuleKey identifies an entry's rule; two entries of one calendar with the
// same key are duplicates. The entry must be valid.
func RuleKey(e Entry) string {
	switch e.DateType {
	case DateFixed:
		if e.Recurring {
			return "fixed:recurring:" + e.Date
		}
		return "fixed:" + e.Date
	case DateEaster:
		return fmt.Sprintf("easter:%d", *e.EasterOffset)
	case DateRange:
		return "range:" + e.StartDate + ":" + e.EndDate
	}
	return string(e.DateType)
}

// ValidateCalendar checks the calendar header, not its entries.
func ValidateCalendar(c Calendar) error {
	if !codeRe.MatchString(c.ID) {
		return fmt.Errorf("%w: calendar id %q must be a lowercase code", apperr.ErrInvalidArgument, c.ID)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: calendar name is required", apperr.ErrInvalidArgument)
	}
	switch c.Scope {
	case ScopeSystem:
		if c.CompanyID != "" {
			return fmt.Errorf("%w: system calendar cannot belong to a company", apperr.ErrInvalidArgument)
		}
	case ScopeCompany:
		if c.CompanyID == "" {
			return fmt.Errorf("%w: company calendar needs companyId", apperr.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: scope %q", apperr.ErrInvalidArgument, c.Scope)
	}
	switch c.Kind {
	case KindHolidays, KindSchool, KindCustom:
	default:
		return fmt.Errorf("%w: kind %q", apperr.ErrInvalidArgument, c.Kind)
	}
	return nil
}
