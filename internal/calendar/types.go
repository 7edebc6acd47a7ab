// Package calendar stores holiday, school-break and custom calendars and
// expands their recurring rules into concrete dates for a given year.
package calendar

// DateType selects how an entry's date is expressed.
type DateType string

const (
	// DateFixed is a month-day ("MM-DD", Recurring) or a full date ("YYYY-MM-DD").
	DateFixed DateType = "fixed"
	// DateEaster is a signed day offset from Easter Sunday.
	DateEaster DateType = "easter"
	// DateRange is an inclusive start/end date span.
	DateRange DateType = "range"
)

type Scope string

const (
	ScopeSystem  Scope = "system"
	ScopeCompany Scope = "company"
)

type Kind string

const (
	KindHolidays Kind = "holidays"
	KindSchool   Kind = "school"
	KindCustom   Kind = "custom"
)

// Calendar is identified by its code, e.g. "pl-holidays".
type Calendar struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Scope     Scope   `json:"scope" yaml:"scope"`
	CompanyID string  `json:"companyId,omitempty" yaml:"companyId,omitempty"`
	Kind      Kind    `json:"kind" yaml:"kind"`
	Entries   []Entry `json:"entries" yaml:"entries"`
}

// Entry is one dated rule of a calendar. Exactly one of Date, EasterOffset or
// StartDate/EndDate is set, matching DateType.
type Entry struct {
	ID           string   `json:"id" yaml:"id,omitempty"`
	CalendarID   string   `json:"calendarId" yaml:"-"`
	Name         string   `json:"name" yaml:"name"`
	DateType     DateType `json:"dateType" yaml:"dateType"`
	Date         string   `json:"date,omitempty" yaml:"date,omitempty"`
	Recurring    bool     `json:"recurring" yaml:"recurring,omitempty"`
	EasterOffset *int     `json:"easterOffset,omitempty" yaml:"easterOffset,omitempty"`
	StartDate    string   `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	EndDate      string   `json:"endDate,omitempty" yaml:"endDate,omitempty"`
}

// Occurrence is one materialized date.
type Occurrence struct {
	Date    string `json:"date"`
	Name    string `json:"name"`
	EntryID string `json:"entryId"`
}
