package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("availability not found")

// Repository contains all DB interactions needed by the availability service
// and the slot materializer.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Availability, error)

	// ListByDoctor returns every recurring rule for the doctor regardless of
	// the range, plus one-time records intersecting [from, to) when both
	// bounds are non-zero.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Availability, error)

	// ListRecurringForDay returns the recurring rules for one doctor+weekday,
	// used for the pairwise overlap check on create/update.
	ListRecurringForDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]Availability, error)

	Create(ctx context.Context, a *Availability) (*Availability, error)
	Update(ctx context.Context, a *Availability) (*Availability, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
