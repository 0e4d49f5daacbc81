package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// PatientRepository persists patient profiles keyed by the auth subject.
type PatientRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)
	Upsert(ctx context.Context, p *Patient) error
}

// DoctorRepository reads the practitioner directory.
type DoctorRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	List(ctx context.Context, availableOnly bool, limit, offset int) ([]*Doctor, int, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) error
}
