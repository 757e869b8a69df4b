package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrForbidden is returned when no authorization rule permits the access.
	ErrForbidden = errors.New("access denied")

	// ErrConsentRequired is returned when cross-entity access to patient data
	// lacks an active consent grant.
	ErrConsentRequired = errors.New("no consent to access patient data")
)

// ConsentScopeMedicalRecords is the scope the guard checks for cross-entity
// access to clinical data.
const ConsentScopeMedicalRecords = "medical_records"

// Access levels a resource can carry. Private restricts reads to the owning
// entities, public waives the consent requirement, anything else (the
// restricted default) goes through the consent check.
const (
	AccessLevelPrivate = "private"
	AccessLevelPublic  = "public"
)

// ConsentChecker is implemented by the consent engine. Defined here so the
// guard does not import the consent domain package.
type ConsentChecker interface {
	Check(ctx context.Context, patientAddress, requesterAddress, scope string) (bool, error)
}

// Resource identifies the entities a record belongs to, for ownership and
// consent evaluation.
type Resource struct {
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	HospitalID uuid.UUID

	// PatientAddress is the wallet address consent grants are keyed by.
	// Falls back to the patient id string when the patient has no wallet.
	PatientAddress string

	// AccessLevel is set on read paths only. Writes always go through the
	// ownership/consent rules regardless of the stored level.
	AccessLevel string
}

// Guard evaluates whether a caller may access a patient-linked resource.
// Rules, in precedence order: admin role, resource ownership, access level,
// consent grant.
type Guard struct {
	consents ConsentChecker
}

func NewGuard(consents ConsentChecker) *Guard {
	return &Guard{consents: consents}
}

// Authorize returns nil when access is permitted, ErrConsentRequired when a
// doctor or hospital lacks consent, and ErrForbidden otherwise.
func (g *Guard) Authorize(ctx context.Context, caller *Identity, res Resource) error {
	if caller == nil {
		return ErrForbidden
	}

	if caller.Role == RoleAdmin {
		return nil
	}

	// Resource-owner match against the caller's bound entity.
	switch caller.Role {
	case RolePatient:
		if caller.EntityID != uuid.Nil && caller.EntityID == res.PatientID {
			return nil
		}
	case RoleDoctor:
		if caller.EntityID != uuid.Nil && caller.EntityID == res.DoctorID {
			return nil
		}
	case RoleHospital:
		if caller.EntityID != uuid.Nil && caller.EntityID == res.HospitalID {
			return nil
		}
	default:
		return ErrForbidden
	}

	// The stored access level overrides the consent path for non-owners:
	// private never falls through to consent, public never requires it.
	switch res.AccessLevel {
	case AccessLevelPrivate:
		return ErrForbidden
	case AccessLevelPublic:
		return nil
	}

	// Cross-entity access to patient data requires consent.
	if caller.Role == RoleDoctor || caller.Role == RoleHospital {
		requester := caller.WalletAddress
		if requester == "" {
			requester = caller.EntityID.String()
		}
		patient := res.PatientAddress
		if patient == "" {
			patient = res.PatientID.String()
		}
		allowed, err := g.consents.Check(ctx, patient, requester, ConsentScopeMedicalRecords)
		if err != nil {
			return fmt.Errorf("consent check: %w", err)
		}
		if allowed {
			return nil
		}
		return ErrConsentRequired
	}

	return ErrForbidden
}
