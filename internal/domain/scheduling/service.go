package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/healthmate/api/internal/domain/identity"
	"github.com/healthmate/api/internal/platform/apperr"
	"github.com/healthmate/api/internal/platform/metrics"
)

// DoctorDirectory resolves the doctor being booked.
type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
}

type Service struct {
	repo    Repository
	doctors DoctorDirectory
	now     func() time.Time
}

func NewService(repo Repository, doctors DoctorDirectory) *Service {
	return &Service{repo: repo, doctors: doctors, now: time.Now}
}

// Book creates a pending appointment with the doctor's current fee. The
// doctor must be accepting bookings and the slot must be free.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, a *Appointment) (*Appointment, error) {
	a.PatientID = patientID
	a.Status = StatusPending
	if err := a.Validate(); err != nil {
		return nil, apperr.InvalidInput(err.Error())
	}
	if !a.ScheduledAt.After(s.now()) {
		return nil, apperr.InvalidInput("scheduled_at must be in the future")
	}

	doc, err := s.doctors.GetDoctor(ctx, a.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doc.Available {
		return nil, apperr.Conflict("doctor is not accepting appointments")
	}
	a.Fees = doc.Fees

	if err := s.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, apperr.Conflict("slot not available")
		}
		return nil, err
	}
	metrics.RecordAppointmentBooked(StatusPending)
	return a, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("appointment", id.String())
	}
	return a, err
}

// Get returns the appointment when the actor is its patient or its doctor.
func (s *Service) Get(ctx context.Context, actorID uuid.UUID, asDoctor bool, id uuid.UUID) (*Appointment, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if asDoctor && a.DoctorID == actorID {
		return a, nil
	}
	if !asDoctor && a.PatientID == actorID {
		return a, nil
	}
	return nil, apperr.NotFound("appointment", id.String())
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListForDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByDoctor(ctx, doctorID, limit, offset)
}

// UpdateStatus moves the appointment along its lifecycle. Doctors confirm
// and complete their own appointments; either side may cancel. Transitions
// out of a terminal status are conflicts.
func (s *Service) UpdateStatus(ctx context.Context, actorID uuid.UUID, asDoctor bool, id uuid.UUID, status string) (*Appointment, error) {
	if !ValidStatus(status) {
		return nil, apperr.InvalidInputf("invalid status %q", status)
	}

	a, err := s.Get(ctx, actorID, asDoctor, id)
	if err != nil {
		return nil, err
	}

	if (status == StatusConfirmed || status == StatusCompleted) && !asDoctor {
		return nil, apperr.Forbidden("only the doctor can confirm or complete an appointment")
	}
	if !a.CanTransition(status) {
		return nil, apperr.Conflict("appointment is already " + a.Status)
	}

	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("appointment", id.String())
		}
		return nil, err
	}
	a.Status = status
	metrics.RecordAppointmentBooked(status)
	return a, nil
}

// Cancel releases the slot. Cancelling an already cancelled or completed
// appointment is a conflict.
func (s *Service) Cancel(ctx context.Context, actorID uuid.UUID, asDoctor bool, id uuid.UUID) error {
	_, err := s.UpdateStatus(ctx, actorID, asDoctor, id, StatusCancelled)
	return err
}
