package main

import (
	"fmt"
	"time"
)

// dayLayouts are tried in order for day-precision release dates.
// Layouts without a zone parse as UTC.
var dayLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// DateParseError reports a release date that could not be normalized
type DateParseError struct {
	Value     string
	Precision DatePrecision
	Err       error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("parsing release date %q (precision %q): %v", e.Value, e.Precision, e.Err)
}

func (e *DateParseError) Unwrap() error {
	return e.Err
}

// NormalizeReleaseDate converts a release date of the given precision into a UTC instant.
// Year and month precision resolve to the first instant of the period.
func NormalizeReleaseDate(value string, precision DatePrecision) (time.Time, error) {
	if precision == "" {
		precision = inferPrecision(value)
	}

	var (
		t   time.Time
		err error
	)
	switch precision {
	case PrecisionYear:
		t, err = time.Parse("2006", value)
	case PrecisionMonth:
		t, err = time.Parse("2006-01", value)
	case PrecisionDay:
		t, err = parseDay(value)
	default:
		err = fmt.Errorf("unknown precision")
	}
	if err != nil {
		return time.Time{}, &DateParseError{Value: value, Precision: precision, Err: err}
	}
	return t.UTC(), nil
}

func parseDay(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range dayLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func inferPrecision(value string) DatePrecision {
	switch len(value) {
	case 4:
		return PrecisionYear
	case 7:
		return PrecisionMonth
	default:
		return PrecisionDay
	}
}

// Window is the release lookback range [Start, Now] in UTC
type Window struct {
	Start time.Time
	Now   time.Time
}

// NewWindow starts the window at the beginning of the previous UTC day,
// giving a 24-48h lookback depending on the time of day.
func NewWindow(now time.Time) Window {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: today.AddDate(0, 0, -1), Now: now}
}

// Includes reports whether a release instant is recent enough to fetch its tracks
func (w Window) Includes(releasedAt time.Time) bool {
	if releasedAt.Before(w.Start) || releasedAt.After(w.Now) {
		return false
	}
	return AgeDays(w.Now, releasedAt) <= 1
}

// AgeDays returns the number of whole days between t and now
func AgeDays(now, t time.Time) int {
	return int(now.Sub(t) / (24 * time.Hour))
}
