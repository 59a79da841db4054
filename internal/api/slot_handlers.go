package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/booking-service/internal/metrics"
	"github.com/clinicdesk/booking-service/internal/slots"
)

// SlotService is the surface of *slots.Materializer the handler needs.
type SlotService interface {
	Materialize(ctx context.Context, doctorID uuid.UUID, windowStart, windowEnd time.Time, opts slots.Options) ([]slots.Slot, error)
}

// SlotDefaults are applied when the query omits duration/buffer settings.
type SlotDefaults struct {
	DurationMinutes    int
	BufferMinutes      int
	AdvanceBookingDays int
}

func listSlotsHandler(svc SlotService, defaults SlotDefaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
			return
		}
		to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
			return
		}

		opts := slots.Options{
			DurationMinutes:    defaults.DurationMinutes,
			BufferMinutes:      defaults.BufferMinutes,
			AdvanceBookingDays: defaults.AdvanceBookingDays,
		}
		if v := r.URL.Query().Get("duration"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				opts.DurationMinutes = n
			} else {
				writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive integer of minutes")
				return
			}
		}
		if v := r.URL.Query().Get("buffer"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				opts.BufferMinutes = n
			} else {
				writeError(w, http.StatusBadRequest, "invalid_buffer", "buffer must be a non-negative integer of minutes")
				return
			}
		}

		result, err := svc.Materialize(r.Context(), doctorID, from, to, opts)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		metrics.AddSlotsMaterialized(len(result))
		writeJSON(w, http.StatusOK, toSlotResponses(result))
	}
}
