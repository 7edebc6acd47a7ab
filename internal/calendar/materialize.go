package calendar

import (
	"fmt"
	"sort"
	"time"

	"transit-simulator/internal/apperr"
)

// Materialize expands every entry of cal into the dates it covers in year.
// Ranges yield one occurrence per day inside the year. A recurring 02-29
// only occurs in leap years. Easter-relative dates are reported in the year
// they fall in.
func Materialize(cal Calendar, year int) ([]Occurrence, error) {
	if year < minYear || year > maxYear {
		return nil, fmt.Errorf("%w: year %d out of range", apperr.ErrInvalidArgument, year)
	}
	out := []Occurrence{}
	for _, e := range cal.Entries {
		dates, err := entryDates(e, year)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		for _, d := range dates {
			out = append(out, Occurrence{Date: d.Format(dateLayout), Name: e.Name, EntryID: e.ID})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func entryDates(e Entry, year int) ([]time.Time, error) {
	if err := ValidateEntry(e); err != nil {
		return nil, err
	}
	switch e.DateType {
	case DateFixed:
		if e.Recurring {
			md, _ := parseMonthDay(e.Date)
			d := time.Date(year, md.month, md.day, 0, 0, 0, 0, time.UTC)
			if d.Month() != md.month {
				return nil, nil // 02-29 in a common year
			}
			return []time.Time{d}, nil
		}
		d, _ := parseDate(e.Date)
		if d.Year() != year {
			return nil, nil
		}
		return []time.Time{d}, nil
	case DateEaster:
		// a large offset from a neighbouring year's Easter can land in year
		var out []time.Time
		for y := year - 1; y <= year+1; y++ {
			if y < minYear || y > maxYear {
				continue
			}
			if d := Easter(y).AddDate(0, 0, *e.EasterOffset); d.Year() == year {
				out = append(out, d)
			}
		}
		return out, nil
	case DateRange:
		start, _ := parseDate(e.StartDate)
		end, _ := parseDate(e.EndDate)
		first := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		last := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
		if start.Before(first) {
			start = first
		}
		if end.After(last) {
			end = last
		}
		var out []time.Time
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			out = append(out, d)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: dateType %q", apperr.ErrUnsupportedRule, e.DateType)
}
