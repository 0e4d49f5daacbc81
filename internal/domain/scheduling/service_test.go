package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthmate/api/internal/domain/identity"
	"github.com/healthmate/api/internal/platform/apperr"
)

type mockRepo struct{ store map[uuid.UUID]*Appointment }

func newMockRepo() *mockRepo { return &mockRepo{store: make(map[uuid.UUID]*Appointment)} }

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	for _, other := range m.store {
		if other.DoctorID == a.DoctorID && other.ScheduledAt.Equal(a.ScheduledAt) && other.Status != StatusCancelled {
			return ErrSlotTaken
		}
	}
	if a.ID == uuid.Nil { a.ID = uuid.New() }
	cp := *a; m.store[a.ID] = &cp; return nil
}
func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.store[id]; if !ok { return nil, ErrNotFound }; cp := *a; return &cp, nil
}
func (m *mockRepo) ListByPatient(_ context.Context, pid uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var r []*Appointment
	for _, a := range m.store {
		if a.PatientID == pid { cp := *a; r = append(r, &cp) }
	}
	return r, len(r), nil
}
func (m *mockRepo) ListByDoctor(_ context.Context, did uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var r []*Appointment
	for _, a := range m.store {
		if a.DoctorID == did { cp := *a; r = append(r, &cp) }
	}
	return r, len(r), nil
}
func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	a, ok := m.store[id]; if !ok { return ErrNotFound }; a.Status = status; return nil
}

type mockDoctors struct{ store map[uuid.UUID]*identity.Doctor }

func newMockDoctors() *mockDoctors { return &mockDoctors{store: make(map[uuid.UUID]*identity.Doctor)} }

func (m *mockDoctors) add(available bool, fees float64) *identity.Doctor {
	d := &identity.Doctor{ID: uuid.New(), Name: "Adams", Available: available, Fees: fees}
	m.store[d.ID] = d
	return d
}
func (m *mockDoctors) GetDoctor(_ context.Context, id uuid.UUID) (*identity.Doctor, error) {
	d, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("doctor", id.String())
	}
	cp := *d
	return &cp, nil
}

var testNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo, *mockDoctors) {
	repo := newMockRepo()
	doctors := newMockDoctors()
	svc := NewService(repo, doctors)
	svc.now = func() time.Time { return testNow }
	return svc, repo, doctors
}

func slot(daysAhead, hour int) time.Time {
	return time.Date(2026, 8, 20+daysAhead, hour, 0, 0, 0, time.UTC)
}

func TestBook_SetsPendingAndFee(t *testing.T) {
	svc, _, doctors := newTestService()
	doc := doctors.add(true, 150)
	pid := uuid.New()

	appt, err := svc.Book(context.Background(), pid, &Appointment{DoctorID: doc.ID, ScheduledAt: slot(1, 10), Reason: "checkup"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Status != StatusPending {
		t.Errorf("expected pending, got %s", appt.Status)
	}
	if appt.Fees != 150 {
		t.Errorf("expected doctor's fee snapshot, got %v", appt.Fees)
	}
	if appt.PatientID != pid {
		t.Errorf("expected booking patient, got %s", appt.PatientID)
	}
}

func TestBook_DoubleBookingConflict(t *testing.T) {
	svc, _, doctors := newTestService()
	doc := doctors.add(true, 100)

	if _, err := svc.Book(context.Background(), uuid.New(), &Appointment{DoctorID: doc.ID, ScheduledAt: slot(1, 10)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := svc.Book(context.Background(), uuid.New(), &Appointment{DoctorID: doc.ID, ScheduledAt: slot(1, 10)})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on double booking, got %v", err)
	}

	// A different slot with the same doctor is fine
	if _, err := svc.Book(context.Background(), uuid.New(), &Appointment{DoctorID: doc.ID, ScheduledAt: slot(1, 11)}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBook_CancelledSlotReopens(t *testing.T) {
	svc, _, doctors := newTestService()
	doc := doctors.add(true, 100)
	pid := uuid.New()

	appt, err := svc.Book(context.Background(), pid, &Appointment{DoctorID: doc.ID, ScheduledAt: slot(1, 10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Cancel(context.Background(), pid, false, appt.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Book(context.Background(), uuid.New(), &Appointment{DoctorID: doc.ID, ScheduledAt: slot(1, 10)}); err != nil {
		t.Errorf("cancelled slot should be bookable again: %v", err)
	}
}

func TestBook_Rejections(t *testing.T) {
	svc, _, doctors := newTestService()
	unavailable := doctors.add(false, 100)

	_, err := svc.Book(context.Background(), uuid.New(), &Appointment{DoctorID: unavailable.ID, ScheduledAt: slot(1, 10)})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict for unavailable doctor, got %v", err)
	}

	_, err = svc.Book(context.Background(), uuid.New(), &Appointment{DoctorID: uuid.New(), ScheduledAt: slot(1, 10)})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not-found for unknown doctor, got %v", err)
	}

	available := doctors.add(true, 100)
	_, err = svc.Book(context.Background(), uuid.New(), &Appointment{DoctorID: available.ID, ScheduledAt: testNow.Add(-time.Hour)})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("expected invalid-input for past slot, got %v", err)
	}
}

func TestUpdateStatus_Lifecycle(t *testing.T) {
	svc, _, doctors := newTestService()
	doc := doctors.add(true, 100)
	pid := uuid.New()

	appt, err := svc.Book(context.Background(), pid, &Appointment{DoctorID: doc.ID, ScheduledAt: slot(1, 10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Patients cannot confirm
	_, err = svc.UpdateStatus(context.Background(), pid, false, appt.ID, StatusConfirmed)
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}

	confirmed, err := svc.UpdateStatus(context.Background(), doc.ID, true, appt.ID, StatusConfirmed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", confirmed.Status)
	}

	completed, err := svc.UpdateStatus(context.Background(), doc.ID, true, appt.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", completed.Status)
	}

	// Completed is terminal
	err = svc.Cancel(context.Background(), pid, false, appt.ID)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict cancelling completed appointment, got %v", err)
	}
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	svc, _, doctors := newTestService()
	doc := doctors.add(true, 100)
	pid := uuid.New()

	appt, err := svc.Book(context.Background(), pid, &Appointment{DoctorID: doc.ID, ScheduledAt: slot(1, 10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), pid, false, appt.ID, "rescheduled")
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("expected invalid-input, got %v", err)
	}
}

func TestGet_OwnershipScoping(t *testing.T) {
	svc, _, doctors := newTestService()
	doc := doctors.add(true, 100)
	pid := uuid.New()

	appt, err := svc.Book(context.Background(), pid, &Appointment{DoctorID: doc.ID, ScheduledAt: slot(1, 10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Get(context.Background(), pid, false, appt.ID); err != nil {
		t.Errorf("patient should see own appointment: %v", err)
	}
	if _, err := svc.Get(context.Background(), doc.ID, true, appt.ID); err != nil {
		t.Errorf("doctor should see own appointment: %v", err)
	}
	if _, err := svc.Get(context.Background(), uuid.New(), false, appt.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stranger should get not-found, got %v", err)
	}
}
