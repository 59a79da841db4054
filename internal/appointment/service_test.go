package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/booking-service/internal/availability"
	"github.com/clinicdesk/booking-service/internal/timerange"
)

// memoryRepo is a mutex-guarded in-memory Repository. Create enforces the
// same live (doctor_id, start_time) uniqueness as the partial index.
type memoryRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Appointment
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[uuid.UUID]*Appointment)}
}

func (m *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memoryRepo) ListOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Appointment
	for _, a := range m.records {
		if a.DoctorID != doctorID || a.Status == StatusCancelled || a.ID == excludeID {
			continue
		}
		if timerange.Overlaps(start, end, a.StartTime, a.EndTime) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *memoryRepo) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.records {
		if other.DoctorID == a.DoctorID && other.Status != StatusCancelled && other.StartTime.Equal(a.StartTime) {
			return nil, ErrSlotTaken
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.records[a.ID] = &cp
	return a, nil
}

func (m *memoryRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[id]
	if !ok || a.Status != from {
		return nil, ErrNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memoryRepo) UpdateSchedule(_ context.Context, id uuid.UUID, doctorID uuid.UUID, start, end time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[id]
	if !ok || a.Status.Terminal() {
		return nil, ErrNotFound
	}
	a.DoctorID = doctorID
	a.StartTime = start
	a.EndTime = end
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *memoryRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Appointment
	for _, a := range m.records {
		if a.PatientID == patientID {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *memoryRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Appointment
	for _, a := range m.records {
		if a.DoctorID == doctorID && timerange.Overlaps(from, to, a.StartTime, a.EndTime) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (m *memoryRepo) liveCount(doctorID uuid.UUID, start time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.records {
		if a.DoctorID == doctorID && a.Status != StatusCancelled && a.StartTime.Equal(start) {
			n++
		}
	}
	return n
}

// mutexLocker serializes callback execution per doctor the way the Redis
// lock does in production, but blocking instead of failing fast.
type mutexLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *mutexLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	lock, ok := l.locks[doctorID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[doctorID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

type fakeRules struct {
	mu      sync.Mutex
	records []availability.Availability
}

func (f *fakeRules) ListByDoctor(_ context.Context, doctorID uuid.UUID, _, _ time.Time) ([]availability.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []availability.Availability
	for _, r := range f.records {
		if r.DoctorID == doctorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRules) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = nil
}

type fakeRefunder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRefunder) Refund(_ context.Context, paymentRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, paymentRef)
	return f.err
}

type fixture struct {
	svc      *Service
	repo     *memoryRepo
	rules    *fakeRules
	refunder *fakeRefunder
	now      time.Time
}

// Appointments land on Monday 2025-06-09; "now" is the preceding Friday noon.
var fixtureNow = time.Date(2025, time.June, 6, 12, 0, 0, 0, time.UTC)

func mondayAt(h, m int) time.Time {
	return time.Date(2025, time.June, 9, h, m, 0, 0, time.UTC)
}

func intPtr(v int) *int { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemoryRepo()
	rules := &fakeRules{}
	refunder := &fakeRefunder{}
	logger := zerolog.Nop()

	svc := NewService(repo, rules, newMutexLocker(), refunder, &logger).
		WithClock(func() time.Time { return fixtureNow })

	return &fixture{svc: svc, repo: repo, rules: rules, refunder: refunder, now: fixtureNow}
}

func (f *fixture) addWeeklyMonday(doctorID uuid.UUID, startH, endH int) {
	f.rules.mu.Lock()
	defer f.rules.mu.Unlock()
	f.rules.records = append(f.rules.records, availability.Availability{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		StartTime:   mondayAt(startH, 0),
		EndTime:     mondayAt(endH, 0),
		IsRecurring: true,
		DayOfWeek:   intPtr(1),
	})
}

func TestBookCreatesPendingAppointment(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	appt, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
	assert.NotEqual(t, uuid.Nil, appt.ID)
}

func TestBookRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	_, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)

	// A partially overlapping window conflicts even with a different start.
	_, err = f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 15),
		EndTime:   mondayAt(9, 45),
	})
	require.ErrorIs(t, err, ErrSlotTaken)
}

func TestBookRejectsOutsideAvailability(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	// Ends past the 12:00 boundary.
	_, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(11, 45),
		EndTime:   mondayAt(12, 15),
	})
	require.ErrorIs(t, err, ErrOutsideAvailability)
}

func TestBookRevalidatesWithdrawnAvailability(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	// The client saw the slot while availability existed; the doctor then
	// withdrew the rule. The guard must reject at commit time.
	f.rules.clear()

	_, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.ErrorIs(t, err, ErrOutsideAvailability)
}

func TestBookRejectsInvalidWindow(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		StartTime: mondayAt(10, 0),
		EndTime:   mondayAt(9, 0),
	})
	require.ErrorIs(t, err, ErrInvalidWindow)
}

func TestConcurrentBookingExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	const attempts = 16
	results := make(chan error, attempts)

	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < attempts; i++ {
		go func() {
			start.Wait()
			_, err := f.svc.Book(context.Background(), BookInput{
				PatientID: uuid.New(),
				DoctorID:  doctorID,
				StartTime: mondayAt(10, 0),
				EndTime:   mondayAt(10, 30),
			})
			results <- err
		}()
	}
	start.Done()

	var ok, conflict int
	for i := 0; i < attempts; i++ {
		err := <-results
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotTaken):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, conflict)
	assert.Equal(t, 1, f.repo.liveCount(doctorID, mondayAt(10, 0)))
}

func TestCancelRefundsAndKeepsCancelledOnRefundFailure(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	paymentRef := "pi_abc"
	appt, err := f.svc.Book(context.Background(), BookInput{
		PatientID:  uuid.New(),
		DoctorID:   doctorID,
		StartTime:  mondayAt(9, 0),
		EndTime:    mondayAt(9, 30),
		PaymentRef: &paymentRef,
	})
	require.NoError(t, err)

	f.refunder.err = errors.New("provider outage")

	result, err := f.svc.Cancel(context.Background(), appt.ID, RolePatient)
	require.NoError(t, err, "cancellation must not fail on refund failure")
	assert.Equal(t, RefundFull, result.Refund)
	assert.Error(t, result.RefundErr)
	assert.Equal(t, StatusCancelled, result.Appointment.Status)
	assert.Equal(t, []string{"pi_abc"}, f.refunder.calls)

	stored, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
}

func TestCancelNoRefundSkipsProvider(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	paymentRef := "pi_late"
	appt, err := f.svc.Book(context.Background(), BookInput{
		PatientID:  uuid.New(),
		DoctorID:   doctorID,
		StartTime:  mondayAt(9, 0),
		EndTime:    mondayAt(9, 30),
		PaymentRef: &paymentRef,
	})
	require.NoError(t, err)

	// Clock moved to 23h59m before start: patient forfeits the refund.
	f.svc.WithClock(func() time.Time { return mondayAt(9, 0).Add(-24*time.Hour + time.Minute) })

	result, err := f.svc.Cancel(context.Background(), appt.ID, RolePatient)
	require.NoError(t, err)
	assert.Equal(t, RefundNone, result.Refund)
	assert.Empty(t, f.refunder.calls)
}

func TestCancelledSlotBecomesBookableAgain(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	first, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), first.ID, RoleAdmin)
	require.NoError(t, err)

	_, err = f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)
}

func TestRescheduleMovesAppointment(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	appt, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)

	confirmed, err := f.svc.Confirm(context.Background(), appt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)

	moved, err := f.svc.Reschedule(context.Background(), appt.ID, mondayAt(10, 0), mondayAt(10, 30), nil)
	require.NoError(t, err)
	assert.Equal(t, mondayAt(10, 0), moved.StartTime)
	assert.Equal(t, StatusConfirmed, moved.Status, "status survives reschedule")

	// The old window is free again.
	_, err = f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)
}

func TestRescheduleSelfOverlapAllowed(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	appt, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)

	// Shifting by 15 minutes overlaps the appointment's own prior window;
	// the guard excludes it from the conflict check.
	moved, err := f.svc.Reschedule(context.Background(), appt.ID, mondayAt(9, 15), mondayAt(9, 45), nil)
	require.NoError(t, err)
	assert.Equal(t, mondayAt(9, 15), moved.StartTime)
}

func TestRescheduleRejectedLeavesAppointmentUntouched(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	appt, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)

	_, err = f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(10, 0),
		EndTime:   mondayAt(10, 30),
	})
	require.NoError(t, err)

	before, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)

	_, err = f.svc.Reschedule(context.Background(), appt.ID, mondayAt(10, 0), mondayAt(10, 30), nil)
	require.ErrorIs(t, err, ErrSlotTaken)

	after, err := f.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, before.StartTime, after.StartTime)
	assert.Equal(t, before.EndTime, after.EndTime)
	assert.Equal(t, before.Status, after.Status)
}

func TestRescheduleTerminalRejected(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	appt, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), appt.ID, RoleAdmin)
	require.NoError(t, err)

	_, err = f.svc.Reschedule(context.Background(), appt.ID, mondayAt(10, 0), mondayAt(10, 30), nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRescheduleToAnotherDoctor(t *testing.T) {
	f := newFixture(t)
	doctorA := uuid.New()
	doctorB := uuid.New()
	f.addWeeklyMonday(doctorA, 9, 12)
	f.addWeeklyMonday(doctorB, 9, 12)

	appt, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorA,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)

	moved, err := f.svc.Reschedule(context.Background(), appt.ID, mondayAt(9, 0), mondayAt(9, 30), &doctorB)
	require.NoError(t, err)
	assert.Equal(t, doctorB, moved.DoctorID)

	// Doctor A's window is free again.
	_, err = f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorA,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)
}

// staleReadRepo serves a frozen snapshot from GetByID so tests can replay
// the gap between the service's read and its guarded write.
type staleReadRepo struct {
	*memoryRepo
	snapshot *Appointment
}

func (r *staleReadRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if r.snapshot != nil && r.snapshot.ID == id {
		cp := *r.snapshot
		return &cp, nil
	}
	return r.memoryRepo.GetByID(ctx, id)
}

func TestRescheduleRacingCancelConflicts(t *testing.T) {
	repo := &staleReadRepo{memoryRepo: newMemoryRepo()}
	rules := &fakeRules{}
	logger := zerolog.Nop()
	svc := NewService(repo, rules, newMutexLocker(), &fakeRefunder{}, &logger).
		WithClock(func() time.Time { return fixtureNow })

	doctorID := uuid.New()
	rules.records = append(rules.records, availability.Availability{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		StartTime:   mondayAt(9, 0),
		EndTime:     mondayAt(12, 0),
		IsRecurring: true,
		DayOfWeek:   intPtr(1),
	})

	appt, err := svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)

	// Freeze the pending row as the reschedule's read, then let a cancel
	// land underneath before the schedule update runs.
	stale := *appt
	repo.snapshot = &stale
	_, err = repo.memoryRepo.UpdateStatus(context.Background(), appt.ID, StatusPending, StatusCancelled)
	require.NoError(t, err)

	_, err = svc.Reschedule(context.Background(), appt.ID, mondayAt(10, 0), mondayAt(10, 30), nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	after, err := repo.memoryRepo.GetByID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, after.Status)
	assert.Equal(t, mondayAt(9, 0), after.StartTime, "cancelled appointment must not move")
}

func TestConfirmRacingStatusChangeConflicts(t *testing.T) {
	repo := &staleReadRepo{memoryRepo: newMemoryRepo()}
	rules := &fakeRules{}
	logger := zerolog.Nop()
	svc := NewService(repo, rules, newMutexLocker(), &fakeRefunder{}, &logger).
		WithClock(func() time.Time { return fixtureNow })

	doctorID := uuid.New()
	rules.records = append(rules.records, availability.Availability{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		StartTime:   mondayAt(9, 0),
		EndTime:     mondayAt(12, 0),
		IsRecurring: true,
		DayOfWeek:   intPtr(1),
	})

	appt, err := svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)

	stale := *appt
	repo.snapshot = &stale
	_, err = repo.memoryRepo.UpdateStatus(context.Background(), appt.ID, StatusPending, StatusCancelled)
	require.NoError(t, err)

	// The compare-and-set misses its expected status: that is a state
	// conflict, not a missing appointment.
	_, err = svc.Confirm(context.Background(), appt.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestCompleteGuardedByStartTime(t *testing.T) {
	f := newFixture(t)
	doctorID := uuid.New()
	f.addWeeklyMonday(doctorID, 9, 12)

	appt, err := f.svc.Book(context.Background(), BookInput{
		PatientID: uuid.New(),
		DoctorID:  doctorID,
		StartTime: mondayAt(9, 0),
		EndTime:   mondayAt(9, 30),
	})
	require.NoError(t, err)

	// Still Friday: too early to complete.
	_, err = f.svc.Complete(context.Background(), appt.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	f.svc.WithClock(func() time.Time { return mondayAt(9, 0) })
	done, err := f.svc.Complete(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
