package intake

import (
	"time"
)

// =============================================================================
// DATE - Calendar day, the ledger partition key
// =============================================================================

// DateLayout is the wire and storage format for calendar days.
const DateLayout = "2006-01-02"

// Date is a calendar day with no time-of-day or zone. It is held at midnight
// UTC so that day arithmetic never crosses a DST boundary; callers that need
// "today" convert their clock into the service location first (see Today).
type Date struct {
	t time.Time
}

// NewDate builds a Date from calendar fields. Out-of-range fields normalize
// the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a strict YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: "must be YYYY-MM-DD: " + s}
	}
	return Date{t: t}, nil
}

// MustParseDate parses s or panics. Use in tests and constants only.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar day of t read in loc, using loc's local
// year/month/day fields rather than converting to UTC first.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return NewDate(y, m, d)
}

// Today returns the current calendar day in loc according to clock.
func Today(clock func() time.Time, loc *time.Location) Date {
	if clock == nil {
		clock = time.Now
	}
	return DateOf(clock(), loc)
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }
func (d Date) IsZero() bool              { return d.t.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Properties
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }

// String renders YYYY-MM-DD from the calendar fields.
func (d Date) String() string { return d.t.Format(DateLayout) }

// =============================================================================
// DATE RANGE - Inclusive [Start, End]
// =============================================================================

type DateRange struct {
	Start Date
	End   Date
}

// NewDateRange validates start <= end.
func NewDateRange(start, end Date) (DateRange, error) {
	if start.After(end) {
		return DateRange{}, ErrInvalidRange
	}
	return DateRange{Start: start, End: end}, nil
}

// ParseDateRange parses both bounds and validates ordering.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, &ValidationError{Field: "start", Reason: "must be YYYY-MM-DD: " + start}
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, &ValidationError{Field: "end", Reason: "must be YYYY-MM-DD: " + end}
	}
	return NewDateRange(s, e)
}

// TrailingRange returns the n-day window ending at end. n must be >= 1.
func TrailingRange(end Date, n int) DateRange {
	return DateRange{Start: end.AddDays(-(n - 1)), End: end}
}

// Contains reports whether d is within [Start, End].
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// Len returns the number of calendar days in the range.
func (r DateRange) Len() int {
	return int(r.End.t.Sub(r.Start.t).Hours()/24) + 1
}

// Days walks the range day by day, inclusive.
func (r DateRange) Days() []Date {
	if r.Start.After(r.End) {
		return nil
	}
	days := make([]Date, 0, r.Len())
	for current := r.Start; !current.After(r.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}
