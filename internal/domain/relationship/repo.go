package relationship

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists the relationship. Returns ErrDuplicateRelationship
	// when an active relationship already exists for the (patient, doctor)
	// pair; the check and the insert are atomic.
	Create(ctx context.Context, r *Relationship) error
	GetByID(ctx context.Context, id uuid.UUID) (*Relationship, error)
	GetActivePair(ctx context.Context, patientID, doctorID uuid.UUID) (*Relationship, error)
	Update(ctx context.Context, r *Relationship) error
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID) ([]*Relationship, error)
	ListActiveByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Relationship, error)
}
