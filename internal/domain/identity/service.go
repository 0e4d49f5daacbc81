package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/healthmate/api/internal/platform/apperr"
)

type Service struct {
	patients PatientRepository
	doctors  DoctorRepository
}

func NewService(patients PatientRepository, doctors DoctorRepository) *Service {
	return &Service{patients: patients, doctors: doctors}
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("patient", id.String())
	}
	return p, err
}

// SavePatient writes the caller's profile. The first save creates the row,
// later saves replace it.
func (s *Service) SavePatient(ctx context.Context, id uuid.UUID, p *Patient) (*Patient, error) {
	p.ID = id
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	if err := p.Validate(); err != nil {
		return nil, apperr.InvalidInput(err.Error())
	}
	if err := s.patients.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("doctor", id.String())
	}
	return d, err
}

func (s *Service) ListDoctors(ctx context.Context, availableOnly bool, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, availableOnly, limit, offset)
}

// SetDoctorAvailability toggles whether a doctor accepts new bookings.
func (s *Service) SetDoctorAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	err := s.doctors.SetAvailability(ctx, id, available)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("doctor", id.String())
	}
	return err
}
