package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type PgRepository struct {
	db PgxConn
}

// PgxConn is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type PgxConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func NewPgRepository(db PgxConn) *PgRepository {
	return &PgRepository{db: db}
}

const availabilityColumns = `id, doctor_id, start_time, end_time, is_recurring, day_of_week, valid_from, valid_to, created_at, updated_at`

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	var dayOfWeek *int
	var validFrom, validTo *time.Time

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.StartTime,
		&a.EndTime,
		&a.IsRecurring,
		&dayOfWeek,
		&validFrom,
		&validTo,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.DayOfWeek = dayOfWeek
	a.ValidFrom = validFrom
	a.ValidTo = validTo
	return &a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM availability
		WHERE id = $1
	`, id)
	return scanAvailability(row)
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Availability, error) {
	// Recurring rules are always returned; the caller expands them against
	// concrete dates. One-time records are filtered when a range is given.
	query := `
		SELECT ` + availabilityColumns + `
		FROM availability
		WHERE doctor_id = $1
		ORDER BY start_time
	`
	args := []any{doctorID}

	if !from.IsZero() && !to.IsZero() {
		query = `
			SELECT ` + availabilityColumns + `
			FROM availability
			WHERE doctor_id = $1
			  AND (is_recurring OR (start_time < $3 AND end_time > $2))
			ORDER BY start_time
		`
		args = append(args, from, to)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAvailability(rows)
}

func (r *PgRepository) ListRecurringForDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]Availability, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM availability
		WHERE doctor_id = $1
		  AND is_recurring
		  AND day_of_week = $2
		ORDER BY start_time
	`, doctorID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAvailability(rows)
}

func (r *PgRepository) Create(ctx context.Context, a *Availability) (*Availability, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO availability (id, doctor_id, start_time, end_time, is_recurring, day_of_week, valid_from, valid_to, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+availabilityColumns+`
	`, a.ID, a.DoctorID, a.StartTime, a.EndTime, a.IsRecurring, a.DayOfWeek, a.ValidFrom, a.ValidTo)

	return scanAvailability(row)
}

func (r *PgRepository) Update(ctx context.Context, a *Availability) (*Availability, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE availability
		SET start_time = $2,
		    end_time = $3,
		    is_recurring = $4,
		    day_of_week = $5,
		    valid_from = $6,
		    valid_to = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+availabilityColumns+`
	`, a.ID, a.StartTime, a.EndTime, a.IsRecurring, a.DayOfWeek, a.ValidFrom, a.ValidTo)

	return scanAvailability(row)
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM availability WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAvailability(rows pgx.Rows) ([]Availability, error) {
	var result []Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
