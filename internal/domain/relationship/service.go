package relationship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/domain/identity"
	"github.com/medledger/medledger/internal/domain/records"
	"github.com/medledger/medledger/internal/platform/auth"
	"github.com/medledger/medledger/internal/platform/hashing"
	"github.com/medledger/medledger/internal/platform/ledger"
)

// EntityDirectory resolves the identities a relationship references.
// Implemented by the identity service.
type EntityDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
	GetHospital(ctx context.Context, id uuid.UUID) (*identity.Hospital, error)
}

// RecordSource and ReportSource feed the per-pair data bundles. Implemented
// by the records repositories.
type RecordSource interface {
	ListByPatientDoctor(ctx context.Context, patientID, doctorID uuid.UUID) ([]*records.MedicalRecord, error)
}

type ReportSource interface {
	ListByPatientDoctor(ctx context.Context, patientID, doctorID uuid.UUID) ([]*records.Report, error)
}

// Service owns the care-relationship lifecycle. Ledger mirroring here goes
// through a stub gateway that fabricates transaction ids; it is wired behind
// the same Gateway interface so a real contract can replace it without
// touching this package.
type Service struct {
	repo      Repository
	directory EntityDirectory
	records   RecordSource
	reports   ReportSource
	guard     *auth.Guard
	gateway   ledger.Gateway
	cap       config.Capability
	logger    zerolog.Logger
}

func NewService(
	repo Repository,
	directory EntityDirectory,
	recordSource RecordSource,
	reportSource ReportSource,
	guard *auth.Guard,
	gateway ledger.Gateway,
	cap config.Capability,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		records:   recordSource,
		reports:   reportSource,
		guard:     guard,
		gateway:   gateway,
		cap:       cap,
		logger:    logger,
	}
}

// Create establishes an active relationship for the (patient, doctor) pair.
// All three referenced entities must resolve; at most one active
// relationship may exist per pair.
func (s *Service) Create(ctx context.Context, r *Relationship, signer *ledger.Signer) (string, error) {
	if r.PatientID == uuid.Nil || r.DoctorID == uuid.Nil || r.HospitalID == uuid.Nil {
		return "", fmt.Errorf("patient_id, doctor_id and hospital_id are required")
	}
	if !validType(r.RelationshipType) {
		return "", fmt.Errorf("invalid relationship_type %q", r.RelationshipType)
	}

	if err := s.resolveEntities(ctx, r); err != nil {
		return "", err
	}

	r.IsActive = true
	r.StartDate = time.Now().UTC()

	hash, err := hashing.Fingerprint(r.hashPayload())
	if err != nil {
		return "", fmt.Errorf("fingerprint relationship: %w", err)
	}
	r.ContentHash = hash

	var txID string
	if s.cap.Blockchain {
		txID, err = s.gateway.Submit(ctx, "registerRelationship", signer, hash)
		if err != nil {
			return "", fmt.Errorf("register relationship on ledger: %w", err)
		}
		r.LedgerTxID = &txID
		r.LedgerMirrored = true
	}

	if err := s.repo.Create(ctx, r); err != nil {
		return txID, err
	}
	return txID, nil
}

func (s *Service) resolveEntities(ctx context.Context, r *Relationship) error {
	if _, err := s.directory.GetPatient(ctx, r.PatientID); err != nil {
		return entityError("patient", r.PatientID, err)
	}
	if _, err := s.directory.GetDoctor(ctx, r.DoctorID); err != nil {
		return entityError("doctor", r.DoctorID, err)
	}
	if _, err := s.directory.GetHospital(ctx, r.HospitalID); err != nil {
		return entityError("hospital", r.HospitalID, err)
	}
	return nil
}

func entityError(kind string, id uuid.UUID, err error) error {
	if errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrEntityNotFound, kind, id)
	}
	return fmt.Errorf("resolve %s %s: %w", kind, id, err)
}

// End deactivates the relationship. Terminal: ending an already-inactive
// relationship fails ErrAlreadyInactive.
func (s *Service) End(ctx context.Context, id uuid.UUID, signer *ledger.Signer) (*Relationship, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsActive {
		return nil, ErrAlreadyInactive
	}

	if s.cap.Blockchain {
		txID, err := s.gateway.Submit(ctx, "endRelationship", signer, r.ContentHash)
		if err != nil {
			return nil, fmt.Errorf("end relationship on ledger: %w", err)
		}
		r.LedgerTxID = &txID
	}

	now := time.Now().UTC()
	r.IsActive = false
	r.EndDate = &now

	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateNotes replaces the free-text notes. No invariant beyond existence.
func (s *Service) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) (*Relationship, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Notes = &notes
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Relationship, error) {
	return s.repo.GetByID(ctx, id)
}

// PatientDoctors lists the patient's active relationships. The caller must
// be authorized for the patient's data.
func (s *Service) PatientDoctors(ctx context.Context, caller *auth.Identity, patientID uuid.UUID) ([]*Relationship, error) {
	if err := s.authorizePatient(ctx, caller, patientID); err != nil {
		return nil, err
	}
	return s.repo.ListActiveByPatient(ctx, patientID)
}

// DoctorPatients lists the doctor's active relationships. Restricted to the
// doctor themselves or an admin.
func (s *Service) DoctorPatients(ctx context.Context, caller *auth.Identity, doctorID uuid.UUID) ([]*Relationship, error) {
	if caller == nil {
		return nil, auth.ErrForbidden
	}
	if caller.Role != auth.RoleAdmin && !(caller.Role == auth.RoleDoctor && caller.EntityID == doctorID) {
		return nil, auth.ErrForbidden
	}
	return s.repo.ListActiveByDoctor(ctx, doctorID)
}

// Bundle joins the active relationship for a (patient, doctor) pair with
// the clinical documents the pair shares.
type Bundle struct {
	Relationship *Relationship            `json:"relationship"`
	Records      []*records.MedicalRecord `json:"records"`
	Reports      []*records.Report        `json:"reports"`
}

func (s *Service) PairBundle(ctx context.Context, caller *auth.Identity, patientID, doctorID uuid.UUID) (*Bundle, error) {
	if err := s.authorizePatient(ctx, caller, patientID); err != nil {
		return nil, err
	}

	rel, err := s.repo.GetActivePair(ctx, patientID, doctorID)
	if err != nil {
		return nil, err
	}

	recs, err := s.records.ListByPatientDoctor(ctx, patientID, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load pair records: %w", err)
	}
	reps, err := s.reports.ListByPatientDoctor(ctx, patientID, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load pair reports: %w", err)
	}

	return &Bundle{Relationship: rel, Records: recs, Reports: reps}, nil
}

func (s *Service) authorizePatient(ctx context.Context, caller *auth.Identity, patientID uuid.UUID) error {
	res := auth.Resource{PatientID: patientID}
	if p, err := s.directory.GetPatient(ctx, patientID); err == nil && p.WalletAddress != nil {
		res.PatientAddress = *p.WalletAddress
	}
	return s.guard.Authorize(ctx, caller, res)
}
