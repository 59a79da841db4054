package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Role of the actor performing a transition, as supplied by the auth
// collaborator. The core trusts the role as given.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// ParseRole validates a role string from the edge.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePatient, RoleDoctor, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

type Appointment struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Status     Status
	Notes      string
	PaymentRef *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type RefundDecision string

const (
	RefundFull RefundDecision = "full"
	RefundNone RefundDecision = "none"
)

// CancelResult reports a completed cancellation. RefundErr is set when the
// payment collaborator failed to execute an owed refund; the appointment is
// CANCELLED regardless.
type CancelResult struct {
	Appointment *Appointment
	Refund      RefundDecision
	RefundErr   error
}
