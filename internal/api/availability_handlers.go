package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/booking-service/internal/availability"
)

// AvailabilityService is the surface of *availability.Service the handlers
// need.
type AvailabilityService interface {
	Create(ctx context.Context, in availability.CreateInput) (*availability.Availability, error)
	Update(ctx context.Context, id uuid.UUID, patch availability.Patch) (*availability.Availability, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]availability.Availability, error)
}

func createAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", "start_time must be RFC 3339")
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", "end_time must be RFC 3339")
			return
		}

		validFrom, ok := parseOptionalTime(w, req.ValidFrom, "valid_from")
		if !ok {
			return
		}
		validTo, ok := parseOptionalTime(w, req.ValidTo, "valid_to")
		if !ok {
			return
		}

		created, err := svc.Create(r.Context(), availability.CreateInput{
			DoctorID:    doctorID,
			StartTime:   start,
			EndTime:     end,
			IsRecurring: req.IsRecurring,
			DayOfWeek:   req.DayOfWeek,
			ValidFrom:   validFrom,
			ValidTo:     validTo,
		})
		if err != nil {
			handleAvailabilityError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAvailabilityResponse(created))
	}
}

func updateAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req UpdateAvailabilityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		start, ok := parseOptionalTime(w, req.StartTime, "start_time")
		if !ok {
			return
		}
		end, ok := parseOptionalTime(w, req.EndTime, "end_time")
		if !ok {
			return
		}
		validFrom, ok := parseOptionalTime(w, req.ValidFrom, "valid_from")
		if !ok {
			return
		}
		validTo, ok := parseOptionalTime(w, req.ValidTo, "valid_to")
		if !ok {
			return
		}

		updated, err := svc.Update(r.Context(), id, availability.Patch{
			StartTime:      start,
			EndTime:        end,
			DayOfWeek:      req.DayOfWeek,
			ValidFrom:      validFrom,
			ValidTo:        validTo,
			ClearValidFrom: req.ClearValidFrom,
			ClearValidTo:   req.ClearValidTo,
		})
		if err != nil {
			handleAvailabilityError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponse(updated))
	}
}

func deleteAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			handleAvailabilityError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func listAvailabilityHandler(svc AvailabilityService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		from, to, ok := parseOptionalWindow(w, r)
		if !ok {
			return
		}

		records, err := svc.ListByDoctor(r.Context(), doctorID, from, to)
		if err != nil {
			handleAvailabilityError(w, err)
			return
		}

		out := make([]AvailabilityResponse, 0, len(records))
		for i := range records {
			out = append(out, toAvailabilityResponse(&records[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleAvailabilityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrNotFound):
		writeError(w, http.StatusNotFound, "availability_not_found", err.Error())
	case errors.Is(err, availability.ErrInvalidTimeRange),
		errors.Is(err, availability.ErrMissingDayOfWeek),
		errors.Is(err, availability.ErrInvalidDayOfWeek):
		writeError(w, http.StatusBadRequest, "invalid_availability", err.Error())
	case errors.Is(err, availability.ErrRuleOverlap):
		writeError(w, http.StatusBadRequest, "availability_overlap", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseOptionalTime(w http.ResponseWriter, s *string, field string) (*time.Time, bool) {
	if s == nil {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+field, field+" must be RFC 3339")
		return nil, false
	}
	return &t, true
}

func parseOptionalWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr == "" && toStr == "" {
		return time.Time{}, time.Time{}, true
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
