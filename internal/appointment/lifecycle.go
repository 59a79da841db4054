package appointment

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// PatientRefundCutoff is the minimum notice a patient must give for a full
// refund on cancellation.
const PatientRefundCutoff = 24 * time.Hour

// CheckConfirm guards PENDING -> CONFIRMED. A fully elapsed appointment can
// no longer be confirmed.
func CheckConfirm(a *Appointment, now time.Time) error {
	if a.Status != StatusPending {
		return transitionErr(a.Status, StatusConfirmed)
	}
	if !now.Before(a.EndTime) {
		return fmt.Errorf("%w: appointment window has elapsed", ErrInvalidTransition)
	}
	return nil
}

// CheckComplete guards PENDING/CONFIRMED -> COMPLETED, permitted only once
// the appointment has started.
func CheckComplete(a *Appointment, now time.Time) error {
	if a.Status.Terminal() {
		return transitionErr(a.Status, StatusCompleted)
	}
	if now.Before(a.StartTime) {
		return fmt.Errorf("%w: appointment has not started yet", ErrInvalidTransition)
	}
	return nil
}

// CheckCancel guards PENDING/CONFIRMED -> CANCELLED. Patients may only
// cancel before the start time; doctors and admins any time pre-terminal.
func CheckCancel(a *Appointment, role Role, now time.Time) error {
	if a.Status.Terminal() {
		return transitionErr(a.Status, StatusCancelled)
	}
	if role == RolePatient && !now.Before(a.StartTime) {
		return fmt.Errorf("%w: patients cannot cancel an in-progress or past appointment", ErrInvalidTransition)
	}
	return nil
}

// DecideRefund computes the advisory refund outcome for a cancellation.
// Doctors and admins always grant a full refund; patients get one only with
// at least PatientRefundCutoff of notice (boundary inclusive).
func DecideRefund(role Role, startTime, now time.Time) RefundDecision {
	if role == RoleDoctor || role == RoleAdmin {
		return RefundFull
	}
	if startTime.Sub(now) >= PatientRefundCutoff {
		return RefundFull
	}
	return RefundNone
}

func transitionErr(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
