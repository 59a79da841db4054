package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("appointment not found")

	// ErrSlotTaken is the conflict outcome: the window overlaps a live
	// appointment, confirmed either by the guard's read or by the partial
	// unique index when two writers race past it.
	ErrSlotTaken = errors.New("slot no longer available")
)

// Repository contains all DB interactions needed by the booking service.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListOverlapping returns non-cancelled appointments for the doctor
	// intersecting [start, end), excluding excludeID when non-nil. Used by
	// the booking guard.
	ListOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]Appointment, error)

	// Create inserts a new appointment row; a unique-index violation on the
	// live (doctor_id, start_time) pair surfaces as ErrSlotTaken.
	Create(ctx context.Context, a *Appointment) (*Appointment, error)

	// UpdateStatus is a compare-and-set on status; ErrNotFound when the row
	// is missing or no longer in the expected state.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// UpdateSchedule moves an appointment to a new doctor/window in a single
	// statement, leaving status untouched. Terminal rows are never moved;
	// ErrNotFound when the row is missing or reached a terminal state.
	UpdateSchedule(ctx context.Context, id uuid.UUID, doctorID uuid.UUID, start, end time.Time) (*Appointment, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
}
