package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking-service/internal/availability"
	"github.com/clinicdesk/booking-service/internal/metrics"
	"github.com/clinicdesk/booking-service/internal/payments"
	redisclient "github.com/clinicdesk/booking-service/internal/redis"
	"github.com/clinicdesk/booking-service/internal/timerange"
)

var (
	// ErrOutsideAvailability means the requested window is not contained in
	// any currently-effective availability for the doctor. Surfaced as a
	// conflict: the slot the client saw has been withdrawn.
	ErrOutsideAvailability = errors.New("requested time is outside the doctor's availability")

	// ErrCalendarBusy means the per-doctor lock is held by another booking
	// in flight; the client should retry.
	ErrCalendarBusy = errors.New("doctor's calendar is busy, please retry")

	ErrInvalidWindow = errors.New("appointment end must be after start")
)

// RuleSource is the availability read the booking guard re-validates
// against at commit time.
type RuleSource interface {
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Availability, error)
}

// Service is the single choke point for every appointment write: creation,
// status transitions and reschedules all pass through its guard.
type Service struct {
	repo     Repository
	rules    RuleSource
	locker   redisclient.Locker
	refunder payments.Refunder
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, rules RuleSource, locker redisclient.Locker, refunder payments.Refunder, logger *zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		rules:    rules,
		locker:   locker,
		refunder: refunder,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type BookInput struct {
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Notes      string
	PaymentRef *string
}

// Book reserves the window and creates a PENDING appointment in one guarded
// step. Slot lists served to the client may be stale; the guard inside the
// doctor lock is the sole source of truth at commit time.
func (s *Service) Book(ctx context.Context, in BookInput) (*Appointment, error) {
	if err := timerange.ValidateRange(in.StartTime, in.EndTime); err != nil {
		return nil, ErrInvalidWindow
	}

	var created *Appointment

	err := s.locker.WithDoctorLock(ctx, in.DoctorID, func(lockCtx context.Context) error {
		if err := s.reserve(lockCtx, in.DoctorID, in.StartTime, in.EndTime, uuid.Nil); err != nil {
			return err
		}

		appt, err := s.repo.Create(lockCtx, &Appointment{
			PatientID:  in.PatientID,
			DoctorID:   in.DoctorID,
			StartTime:  in.StartTime,
			EndTime:    in.EndTime,
			Status:     StatusPending,
			Notes:      in.Notes,
			PaymentRef: in.PaymentRef,
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return nil
	})

	switch {
	case err == nil:
		metrics.IncBookingCreated("ok")
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		metrics.IncBookingCreated("contended")
		return nil, ErrCalendarBusy
	case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrOutsideAvailability):
		metrics.IncBookingCreated("conflict")
		return nil, err
	default:
		metrics.IncBookingCreated("error")
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", in.DoctorID.String()).
		Str("patient_id", in.PatientID.String()).
		Time("start", in.StartTime).
		Msg("appointment booked")

	return created, nil
}

// reserve is the booking guard. It must run inside the doctor lock.
//
// Step 1 re-validates containment against currently-effective availability:
// a slot surfaced to the client minutes ago may have been withdrawn by an
// availability edit since. Step 2 checks overlap against live appointments,
// excluding the rescheduling appointment's own row when given.
func (s *Service) reserve(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) error {
	records, err := s.rules.ListByDoctor(ctx, doctorID, start, end)
	if err != nil {
		return fmt.Errorf("load availability: %w", err)
	}

	covered := false
	for _, rec := range records {
		if !rec.AppliesOn(start) {
			continue
		}
		winStart, winEnd := rec.WindowOn(start)
		if !start.Before(winStart) && !end.After(winEnd) {
			covered = true
			break
		}
	}
	if !covered {
		return ErrOutsideAvailability
	}

	overlapping, err := s.repo.ListOverlapping(ctx, doctorID, start, end, excludeID)
	if err != nil {
		return fmt.Errorf("check overlapping appointments: %w", err)
	}
	if len(overlapping) > 0 {
		return ErrSlotTaken
	}

	return nil
}

// Confirm moves a PENDING appointment to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CheckConfirm(appt, s.now()); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: appointment changed state concurrently", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logger.Info().Str("appointment_id", id.String()).Msg("appointment confirmed")
	return updated, nil
}

// Complete marks a started appointment as COMPLETED.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := CheckComplete(appt, s.now()); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: appointment changed state concurrently", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	s.logger.Info().Str("appointment_id", id.String()).Msg("appointment completed")
	return updated, nil
}

// Cancel transitions the appointment to CANCELLED and executes the refund
// the policy owes. Refund execution is advisory: a provider failure is
// reported on the result but never reverses the cancellation, so an outage
// cannot leave a patient unable to cancel.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, role Role) (*CancelResult, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := CheckCancel(appt, role, now); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: appointment changed state concurrently", ErrInvalidTransition)
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	result := &CancelResult{
		Appointment: updated,
		Refund:      DecideRefund(role, appt.StartTime, now),
	}

	if result.Refund == RefundFull && updated.PaymentRef != nil {
		if refundErr := s.refunder.Refund(ctx, *updated.PaymentRef); refundErr != nil {
			s.logger.Error().Err(refundErr).
				Str("appointment_id", id.String()).
				Str("payment_ref", *updated.PaymentRef).
				Msg("refund failed, appointment stays cancelled")
			result.RefundErr = refundErr
		}
	}

	metrics.IncCancellation(string(result.Refund))
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("role", string(role)).
		Str("refund", string(result.Refund)).
		Msg("appointment cancelled")

	return result, nil
}

// Reschedule moves an appointment to a new window (optionally a new doctor)
// through the same guard as booking. On guard failure the appointment is
// left entirely untouched. Status is preserved: a CONFIRMED appointment
// stays CONFIRMED.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart, newEnd time.Time, newDoctorID *uuid.UUID) (*Appointment, error) {
	if err := timerange.ValidateRange(newStart, newEnd); err != nil {
		return nil, ErrInvalidWindow
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
	}
	if !s.now().Before(appt.StartTime) {
		return nil, fmt.Errorf("%w: cannot reschedule an in-progress or past appointment", ErrInvalidTransition)
	}

	targetDoctor := appt.DoctorID
	if newDoctorID != nil {
		targetDoctor = *newDoctorID
	}

	var updated *Appointment

	err = s.locker.WithDoctorLock(ctx, targetDoctor, func(lockCtx context.Context) error {
		if err := s.reserve(lockCtx, targetDoctor, newStart, newEnd, appt.ID); err != nil {
			return err
		}

		moved, err := s.repo.UpdateSchedule(lockCtx, appt.ID, targetDoctor, newStart, newEnd)
		if err != nil {
			// The row was loaded above, so a miss here means it reached a
			// terminal state between the read and the update.
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: appointment changed state during reschedule", ErrInvalidTransition)
			}
			return fmt.Errorf("update schedule: %w", err)
		}

		updated = moved
		return nil
	})

	switch {
	case err == nil:
		metrics.IncReschedule("ok")
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		metrics.IncReschedule("contended")
		return nil, ErrCalendarBusy
	case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrOutsideAvailability),
		errors.Is(err, ErrInvalidTransition):
		metrics.IncReschedule("conflict")
		return nil, err
	default:
		metrics.IncReschedule("error")
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("doctor_id", targetDoctor.String()).
		Time("new_start", newStart).
		Msg("appointment rescheduled")

	return updated, nil
}

// Get retrieves one appointment.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByPatient lists a patient's appointments, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// ListByDoctor lists a doctor's appointments inside [from, to).
func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if err := timerange.ValidateRange(from, to); err != nil {
		return nil, ErrInvalidWindow
	}
	return s.repo.ListByDoctor(ctx, doctorID, from, to)
}
