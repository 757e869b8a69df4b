package relationship

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("relationship not found")

	// ErrDuplicateRelationship is returned when an active relationship
	// already exists for the (patient, doctor) pair. Enforced by a partial
	// unique index, so concurrent creates resolve to exactly one winner.
	ErrDuplicateRelationship = errors.New("an active relationship already exists for this patient and doctor")

	// ErrAlreadyInactive is returned by End on an ended relationship.
	// Ending is terminal; a new relationship must be created instead.
	ErrAlreadyInactive = errors.New("relationship is already inactive")

	// ErrEntityNotFound is returned when one of the referenced patient,
	// doctor or hospital identities does not resolve.
	ErrEntityNotFound = errors.New("referenced entity not found")
)

// Relationship types mirror the care-team roles a doctor can hold for a
// patient.
const (
	TypePrimaryCare = "primary_care"
	TypeSpecialist  = "specialist"
	TypeConsultant  = "consultant"
	TypeEmergency   = "emergency"
)

func validType(s string) bool {
	switch s {
	case TypePrimaryCare, TypeSpecialist, TypeConsultant, TypeEmergency:
		return true
	}
	return false
}

// Relationship is a care association between a patient, a doctor and the
// hospital it was established under. ContentHash covers the identifying
// triple, the type and the creation timestamp.
type Relationship struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID         uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	HospitalID       uuid.UUID  `db:"hospital_id" json:"hospital_id"`
	RelationshipType string     `db:"relationship_type" json:"relationship_type"`
	Notes            *string    `db:"notes" json:"notes,omitempty"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	StartDate        time.Time  `db:"start_date" json:"start_date"`
	EndDate          *time.Time `db:"end_date" json:"end_date,omitempty"`
	ContentHash      string     `db:"content_hash" json:"content_hash"`
	LedgerTxID       *string    `db:"ledger_tx_id" json:"ledger_tx_id"`
	LedgerMirrored   bool       `db:"ledger_mirrored" json:"ledger_mirrored"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

func (r *Relationship) hashPayload() map[string]interface{} {
	return map[string]interface{}{
		"patientId":  r.PatientID.String(),
		"doctorId":   r.DoctorID.String(),
		"hospitalId": r.HospitalID.String(),
		"type":       r.RelationshipType,
		"startDate":  r.StartDate.UTC().Format(time.RFC3339),
	}
}
