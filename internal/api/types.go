package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/booking-service/internal/appointment"
	"github.com/clinicdesk/booking-service/internal/availability"
	"github.com/clinicdesk/booking-service/internal/slots"
)

type CreateAvailabilityRequest struct {
	DoctorID    string  `json:"doctor_id"`
	StartTime   string  `json:"start_time"` // RFC 3339
	EndTime     string  `json:"end_time"`
	IsRecurring bool    `json:"is_recurring"`
	DayOfWeek   *int    `json:"day_of_week,omitempty"`
	ValidFrom   *string `json:"valid_from,omitempty"` // RFC 3339
	ValidTo     *string `json:"valid_to,omitempty"`
}

// UpdateAvailabilityRequest edits fields in place. Omitted fields keep their
// value; the clear flags drop a validity bound entirely.
type UpdateAvailabilityRequest struct {
	StartTime      *string `json:"start_time,omitempty"`
	EndTime        *string `json:"end_time,omitempty"`
	DayOfWeek      *int    `json:"day_of_week,omitempty"`
	ValidFrom      *string `json:"valid_from,omitempty"`
	ValidTo        *string `json:"valid_to,omitempty"`
	ClearValidFrom bool    `json:"clear_valid_from,omitempty"`
	ClearValidTo   bool    `json:"clear_valid_to,omitempty"`
}

type AvailabilityResponse struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	IsRecurring bool       `json:"is_recurring"`
	DayOfWeek   *int       `json:"day_of_week,omitempty"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
}

func toAvailabilityResponse(a *availability.Availability) AvailabilityResponse {
	return AvailabilityResponse{
		ID:          a.ID,
		DoctorID:    a.DoctorID,
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		IsRecurring: a.IsRecurring,
		DayOfWeek:   a.DayOfWeek,
		ValidFrom:   a.ValidFrom,
		ValidTo:     a.ValidTo,
	}
}

type SlotResponse struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
}

func toSlotResponses(in []slots.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(in))
	for _, s := range in {
		out = append(out, SlotResponse{
			DoctorID:  s.DoctorID,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			Status:    "available",
		})
	}
	return out
}

type CreateAppointmentRequest struct {
	PatientID  string  `json:"patient_id"`
	DoctorID   string  `json:"doctor_id"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	Notes      string  `json:"notes,omitempty"`
	PaymentRef *string `json:"payment_ref,omitempty"`
}

type RescheduleRequest struct {
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	DoctorID  *string `json:"doctor_id,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Status:    string(a.Status),
		Notes:     a.Notes,
	}
}

type CancelResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Refund      string              `json:"refund"`
	RefundError string              `json:"refund_error,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
