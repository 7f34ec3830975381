package eventstudy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	isoDateLayout       = "2006-01-02"
	newYorkTimeZoneName = "America/New_York"
	// timestampLayout is fixed-width so stored UTC timestamps sort as text.
	timestampLayout = "2006-01-02T15:04:05.000000Z07:00"
)

var newYorkLocation = loadNewYorkLocation()

func loadNewYorkLocation() *time.Location {
	location, err := time.LoadLocation(newYorkTimeZoneName)
	if err != nil {
		return time.FixedZone(newYorkTimeZoneName, -5*60*60)
	}
	return location
}

// Date is a calendar day with no time-of-day or zone. Internally it is held
// as midnight UTC so that equality and ordering are exact.
type Date struct {
	t time.Time
}

// NewDate returns the calendar day for year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as observed in loc. A nil loc uses
// the zone already attached to t.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc != nil {
		t = t.In(loc)
	}
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(isoDateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return Date{t: t}, nil
}

// TodayInNewYork returns the current trading-calendar day.
func TodayInNewYork() Date {
	return DateOf(time.Now(), newYorkLocation)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return d.t }

// String formats d as YYYY-MM-DD.
func (d Date) String() string { return d.t.Format(isoDateLayout) }

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool { return d.t.After(other.t) }

// Equal reports whether d and other are the same day.
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// MarshalJSON encodes d as a YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDates parses every value, failing on the first invalid one.
func ParseDates(values []string) ([]Date, error) {
	out := make([]Date, 0, len(values))
	for _, v := range values {
		d, err := ParseDate(v)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// sortUniqueDates returns dates sorted ascending with duplicates removed.
func sortUniqueDates(dates []Date) []Date {
	out := make([]Date, len(dates))
	copy(out, dates)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	unique := out[:0]
	for i, d := range out {
		if i > 0 && d.Equal(unique[len(unique)-1]) {
			continue
		}
		unique = append(unique, d)
	}
	return unique
}

func dateStrings(dates []Date) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.String())
	}
	return out
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(value string) (time.Time, error) {
	return time.Parse(timestampLayout, value)
}
