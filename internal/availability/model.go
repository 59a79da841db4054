package availability

import (
	"time"

	"github.com/google/uuid"
)

// Availability is either a recurring weekly rule or a one-time exception
// (extra availability outside the weekly pattern) for one doctor.
//
// For recurring rules only the time-of-day component of StartTime/EndTime is
// meaningful; the date component is an arbitrary anchor. One-time records are
// concrete datetime ranges.
type Availability struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	IsRecurring bool
	DayOfWeek   *int // 0=Sunday..6=Saturday, set iff IsRecurring
	ValidFrom   *time.Time
	ValidTo     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AppliesOn reports whether the record is effective on the given calendar
// date. Recurring rules apply when the weekday matches and the date is inside
// the optional ValidFrom/ValidTo bounds; one-time records apply only on their
// own date.
func (a Availability) AppliesOn(date time.Time) bool {
	if a.IsRecurring {
		if a.DayOfWeek == nil || int(date.Weekday()) != *a.DayOfWeek {
			return false
		}
		day := truncateToDate(date)
		if a.ValidFrom != nil && day.Before(truncateToDate(*a.ValidFrom)) {
			return false
		}
		if a.ValidTo != nil && day.After(truncateToDate(*a.ValidTo)) {
			return false
		}
		return true
	}

	sy, sm, sd := a.StartTime.Date()
	dy, dm, dd := date.Date()
	return sy == dy && sm == dm && sd == dd
}

// WindowOn projects the record onto a concrete [start, end) range for the
// given date. Only valid when AppliesOn(date) holds.
func (a Availability) WindowOn(date time.Time) (time.Time, time.Time) {
	if !a.IsRecurring {
		return a.StartTime, a.EndTime
	}
	start := time.Date(date.Year(), date.Month(), date.Day(),
		a.StartTime.Hour(), a.StartTime.Minute(), 0, 0, date.Location())
	end := time.Date(date.Year(), date.Month(), date.Day(),
		a.EndTime.Hour(), a.EndTime.Minute(), 0, 0, date.Location())
	return start, end
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
