// Package timerange holds the pure time-of-day and interval helpers shared
// by the availability store, slot materializer and booking guard.
package timerange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTimeOfDay = errors.New("invalid time of day, expected HH:mm")
	ErrInvalidRange     = errors.New("end time must be after start time")
)

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Half-open semantics: ranges that merely touch do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// OverlapsMinutes is the minute-of-day variant used for recurring rules,
// where only the time-of-day component is meaningful.
func OverlapsMinutes(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// ParseTimeOfDay parses "HH:mm" into minutes since midnight.
func ParseTimeOfDay(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}

	return hour*60 + minute, nil
}

// ValidateRange rejects ranges whose end is not strictly after the start.
func ValidateRange(start, end time.Time) error {
	if !end.After(start) {
		return ErrInvalidRange
	}
	return nil
}

// MinuteOfDay returns the minutes elapsed since midnight for t in its own
// location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// SameDate reports whether a and b fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// AtMinute places a minutes-since-midnight offset on the given date.
func AtMinute(date time.Time, minute int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), minute/60, minute%60, 0, 0, date.Location())
}
