// Package slots expands a doctor's availability records into concrete
// bookable time slots. Materialization is a pure read: nothing is persisted,
// and identical inputs at the same instant produce identical output.
package slots

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/booking-service/internal/availability"
	"github.com/clinicdesk/booking-service/internal/timerange"
)

// Slot is a materialized bookable window. Slots are ephemeral; the
// reservable unit of truth is the appointment row created by the booking
// guard.
type Slot struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Options controls slot tiling.
type Options struct {
	DurationMinutes    int
	BufferMinutes      int
	AdvanceBookingDays int
}

// RuleSource provides the availability records to expand.
type RuleSource interface {
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Availability, error)
}

// BusySource reports the occupied windows that exclude candidate slots:
// every non-cancelled appointment for the doctor inside [from, to).
type BusySource interface {
	ListBusyWindows(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Window, error)
}

// Window is an occupied [Start, End) interval.
type Window struct {
	Start time.Time
	End   time.Time
}

type Materializer struct {
	rules RuleSource
	busy  BusySource
	now   func() time.Time
}

func NewMaterializer(rules RuleSource, busy BusySource) *Materializer {
	return &Materializer{rules: rules, busy: busy, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (m *Materializer) WithClock(now func() time.Time) *Materializer {
	m.now = now
	return m
}

// Materialize produces the startTime-ordered AVAILABLE slots for the doctor
// inside [windowStart, windowEnd), clamped to the advance-booking horizon.
func (m *Materializer) Materialize(ctx context.Context, doctorID uuid.UUID, windowStart, windowEnd time.Time, opts Options) ([]Slot, error) {
	if opts.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", timerange.ErrInvalidRange)
	}
	if opts.BufferMinutes < 0 {
		return nil, fmt.Errorf("%w: buffer must not be negative", timerange.ErrInvalidRange)
	}
	if err := timerange.ValidateRange(windowStart, windowEnd); err != nil {
		return nil, err
	}

	now := m.now()

	// Slots beyond the advance-booking horizon are never generated.
	if opts.AdvanceBookingDays > 0 {
		horizon := now.AddDate(0, 0, opts.AdvanceBookingDays)
		if horizon.Before(windowEnd) {
			windowEnd = horizon
		}
	}
	if !windowStart.Before(windowEnd) {
		return nil, nil
	}

	records, err := m.rules.ListByDoctor(ctx, doctorID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}

	busy, err := m.busy.ListBusyWindows(ctx, doctorID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("list busy windows: %w", err)
	}

	duration := time.Duration(opts.DurationMinutes) * time.Minute
	step := duration + time.Duration(opts.BufferMinutes)*time.Minute

	// Keyed by instant, not time.Time: one-time records keep the location
	// they were stored with, recurring slots are built in the query window's
	// location, and == would treat equal instants in different zones as
	// distinct.
	seen := make(map[int64]struct{})
	var result []Slot

	for date := timerange.DateOf(windowStart); date.Before(windowEnd); date = date.AddDate(0, 0, 1) {
		for _, rec := range records {
			if !rec.AppliesOn(date) {
				continue
			}
			rangeStart, rangeEnd := rec.WindowOn(date)

			for cursor := rangeStart; !cursor.Add(duration).After(rangeEnd); cursor = cursor.Add(step) {
				slotEnd := cursor.Add(duration)

				if cursor.Before(windowStart) || slotEnd.After(windowEnd) {
					continue
				}
				if cursor.Before(now) {
					continue
				}
				if overlapsAny(cursor, slotEnd, busy) {
					continue
				}
				// Overlapping recurring+exception coverage is a union,
				// de-duplicated by identical (start, end).
				if _, dup := seen[cursor.UnixNano()]; dup {
					continue
				}
				seen[cursor.UnixNano()] = struct{}{}

				result = append(result, Slot{
					DoctorID:  doctorID,
					StartTime: cursor,
					EndTime:   slotEnd,
				})
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})

	return result, nil
}

func overlapsAny(start, end time.Time, busy []Window) bool {
	for _, w := range busy {
		if timerange.Overlaps(start, end, w.Start, w.End) {
			return true
		}
	}
	return false
}
