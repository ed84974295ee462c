// Package core provides the domain model of the recurring-transaction scheduler.
//
// This file implements the period arithmetic for each recurrence frequency.
// Every frequency maps to a PeriodAdvancer that moves a base time forward by
// exactly one period.
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Daily      Frequency = "daily"
	Weekly     Frequency = "weekly"
	Biweekly   Frequency = "biweekly"
	Monthly    Frequency = "monthly"
	Quarterly  Frequency = "quarterly"
	Semiannual Frequency = "semiannual"
	Annual     Frequency = "annual"
)

// Frequency is how often a template produces an instance.
type Frequency string

var ErrUnknownFrequency = errors.New("unknown recurrence frequency")

// PeriodAdvancer moves a base time forward by one period.
type PeriodAdvancer interface {
	Next(base time.Time) time.Time
}

// DayStep advances by a fixed number of days.
type DayStep struct{ Days int }

func (s DayStep) Next(base time.Time) time.Time {
	return base.AddDate(0, 0, s.Days)
}

// MonthStep advances by whole calendar months. When the base day does not
// exist in the target month the result is clamped to that month's last day.
type MonthStep struct{ Months int }

func (s MonthStep) Next(base time.Time) time.Time {
	return AddMonthsClamped(base, s.Months)
}

var advancers = map[Frequency]PeriodAdvancer{
	Daily:      DayStep{Days: 1},
	Weekly:     DayStep{Days: 7},
	Biweekly:   DayStep{Days: 14},
	Monthly:    MonthStep{Months: 1},
	Quarterly:  MonthStep{Months: 3},
	Semiannual: MonthStep{Months: 6},
	Annual:     MonthStep{Months: 12},
}

// ParseFrequency validates a stored or submitted frequency value.
// Unknown values return Monthly together with ErrUnknownFrequency so
// callers may choose to keep the template on the monthly fallback.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if f.Valid() {
		return f, nil
	}
	return Monthly, fmt.Errorf("%w: %q", ErrUnknownFrequency, s)
}

func (f Frequency) Valid() bool {
	_, ok := advancers[f]
	return ok
}

// Next returns base advanced by one period of f. Unrecognized
// frequencies advance monthly.
func (f Frequency) Next(base time.Time) time.Time {
	a, ok := advancers[f]
	if !ok {
		a = advancers[Monthly]
	}
	return a.Next(base)
}

// Frequencies lists the supported values in ascending period length.
func Frequencies() []Frequency {
	return []Frequency{Daily, Weekly, Biweekly, Monthly, Quarterly, Semiannual, Annual}
}

// AddMonthsClamped adds n calendar months to t, keeping the time of day and
// clamping the day of month to the target month's length.
func AddMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := daysIn(first.Year(), first.Month())
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
