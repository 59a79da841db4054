package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking-service/internal/timerange"
)

var (
	ErrInvalidTimeRange = errors.New("availability end must be after start")
	ErrMissingDayOfWeek = errors.New("recurring availability requires day_of_week")
	ErrInvalidDayOfWeek = errors.New("day_of_week must be between 0 and 6")
	ErrRuleOverlap      = errors.New("availability overlaps an existing rule for this day")
)

// CreateInput carries the fields a doctor (or an admin acting for them)
// submits when adding availability.
type CreateInput struct {
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	IsRecurring bool
	DayOfWeek   *int
	ValidFrom   *time.Time
	ValidTo     *time.Time
}

// Patch carries an in-place edit. Nil fields are left unchanged; the Clear
// flags drop a validity bound, since a nil pointer cannot express "unset".
type Patch struct {
	StartTime      *time.Time
	EndTime        *time.Time
	DayOfWeek      *int
	ValidFrom      *time.Time
	ValidTo        *time.Time
	ClearValidFrom bool
	ClearValidTo   bool
}

type Service struct {
	repo   Repository
	logger *zerolog.Logger
}

func NewService(repo Repository, logger *zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Create validates and stores a new availability record. Recurring rules are
// checked pairwise against the doctor's existing rules for the same weekday;
// overlapping time-of-day ranges are rejected.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Availability, error) {
	a := &Availability{
		DoctorID:    in.DoctorID,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		IsRecurring: in.IsRecurring,
		DayOfWeek:   in.DayOfWeek,
		ValidFrom:   in.ValidFrom,
		ValidTo:     in.ValidTo,
	}

	if err := s.validate(ctx, a, uuid.Nil); err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("create availability: %w", err)
	}

	s.logger.Info().
		Str("availability_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Bool("recurring", created.IsRecurring).
		Msg("availability created")

	return created, nil
}

// Update applies an in-place edit to a single record, re-running the same
// validation with the record itself excluded from the overlap check.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Availability, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.StartTime != nil {
		a.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		a.EndTime = *patch.EndTime
	}
	if patch.DayOfWeek != nil {
		a.DayOfWeek = patch.DayOfWeek
	}
	switch {
	case patch.ClearValidFrom:
		a.ValidFrom = nil
	case patch.ValidFrom != nil:
		a.ValidFrom = patch.ValidFrom
	}
	switch {
	case patch.ClearValidTo:
		a.ValidTo = nil
	case patch.ValidTo != nil:
		a.ValidTo = patch.ValidTo
	}

	if err := s.validate(ctx, a, a.ID); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("update availability: %w", err)
	}

	s.logger.Info().Str("availability_id", id.String()).Msg("availability updated")
	return updated, nil
}

// Delete hard-deletes a record. Appointments already booked against the
// withdrawn window are deliberately left alone.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("availability_id", id.String()).Msg("availability deleted")
	return nil
}

// ListByDoctor returns the doctor's availability. A zero from/to pair means
// no range filter; recurring rules are returned either way.
func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Availability, error) {
	if !from.IsZero() && !to.IsZero() {
		if err := timerange.ValidateRange(from, to); err != nil {
			return nil, fmt.Errorf("%w: list range", ErrInvalidTimeRange)
		}
	}
	return s.repo.ListByDoctor(ctx, doctorID, from, to)
}

func (s *Service) validate(ctx context.Context, a *Availability, excludeID uuid.UUID) error {
	if a.IsRecurring {
		if a.DayOfWeek == nil {
			return ErrMissingDayOfWeek
		}
		if *a.DayOfWeek < 0 || *a.DayOfWeek > 6 {
			return ErrInvalidDayOfWeek
		}
		// Only the time-of-day component matters for recurring rules.
		if timerange.MinuteOfDay(a.EndTime) <= timerange.MinuteOfDay(a.StartTime) {
			return ErrInvalidTimeRange
		}
		return s.checkRecurringOverlap(ctx, a, excludeID)
	}

	if err := timerange.ValidateRange(a.StartTime, a.EndTime); err != nil {
		return ErrInvalidTimeRange
	}
	return nil
}

func (s *Service) checkRecurringOverlap(ctx context.Context, a *Availability, excludeID uuid.UUID) error {
	existing, err := s.repo.ListRecurringForDay(ctx, a.DoctorID, *a.DayOfWeek)
	if err != nil {
		return fmt.Errorf("list recurring rules: %w", err)
	}

	start := timerange.MinuteOfDay(a.StartTime)
	end := timerange.MinuteOfDay(a.EndTime)

	for _, other := range existing {
		if other.ID == excludeID {
			continue
		}
		if timerange.OverlapsMinutes(start, end,
			timerange.MinuteOfDay(other.StartTime), timerange.MinuteOfDay(other.EndTime)) {
			return fmt.Errorf("%w: conflicts with %s", ErrRuleOverlap, other.ID)
		}
	}
	return nil
}
