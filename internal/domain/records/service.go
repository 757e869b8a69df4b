package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/domain/identity"
	"github.com/medledger/medledger/internal/platform/auth"
	"github.com/medledger/medledger/internal/platform/hashing"
	"github.com/medledger/medledger/internal/platform/ledger"
)

// PatientDirectory resolves patients so the guard can key consent checks by
// wallet address. Implemented by the identity service.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// Service owns the clinical document lifecycle. Writes are database-first:
// the row is durable before the ledger mirror is attempted, and a failed
// mirror marks the row reconciliation_pending instead of failing the
// request. A missing signer while the ledger is active is still an error,
// surfaced before anything is persisted.
type Service struct {
	records  RecordRepository
	reports  ReportRepository
	patients PatientDirectory
	guard    *auth.Guard
	gateway  ledger.Gateway
	cap      config.Capability
	logger   zerolog.Logger
}

func NewService(
	records RecordRepository,
	reports ReportRepository,
	patients PatientDirectory,
	guard *auth.Guard,
	gateway ledger.Gateway,
	cap config.Capability,
	logger zerolog.Logger,
) *Service {
	return &Service{
		records:  records,
		reports:  reports,
		patients: patients,
		guard:    guard,
		gateway:  gateway,
		cap:      cap,
		logger:   logger,
	}
}

// resource maps a record to the guard's view of it, resolving the patient's
// wallet address when one is on file.
func (s *Service) resource(ctx context.Context, patientID, doctorID uuid.UUID, hospitalID *uuid.UUID) auth.Resource {
	res := auth.Resource{PatientID: patientID, DoctorID: doctorID}
	if hospitalID != nil {
		res.HospitalID = *hospitalID
	}
	if p, err := s.patients.GetPatient(ctx, patientID); err == nil && p.WalletAddress != nil {
		res.PatientAddress = *p.WalletAddress
	}
	return res
}

// mirror submits the content hash after the database write. Best-effort: a
// ledger failure is logged and reported via the reconciliation flag, never
// surfaced to the caller.
func (s *Service) mirror(ctx context.Context, op string, signer *ledger.Signer, hash string, txField **string, mirrored, pending *bool) string {
	txID, err := s.gateway.Submit(ctx, op, signer, hash)
	if err != nil {
		s.logger.Warn().Err(err).Str("op", op).Str("content_hash", hash).
			Msg("ledger mirror failed, row marked for reconciliation")
		*pending = true
		return ""
	}
	*mirrored = true
	*txField = &txID
	return txID
}

// -- Medical records --

func (s *Service) CreateRecord(ctx context.Context, caller *auth.Identity, r *MedicalRecord, signer *ledger.Signer) (string, error) {
	if r.PatientID == uuid.Nil || r.DoctorID == uuid.Nil {
		return "", fmt.Errorf("patient_id and doctor_id are required")
	}
	if r.RecordType == "" || r.Title == "" {
		return "", fmt.Errorf("record_type and title are required")
	}
	if r.AccessLevel == "" {
		r.AccessLevel = AccessLevelRestricted
	}
	if !validAccessLevel(r.AccessLevel) {
		return "", fmt.Errorf("invalid access_level %q", r.AccessLevel)
	}
	if s.cap.Blockchain && signer == nil {
		return "", ledger.ErrMissingSigner
	}

	if err := s.guard.Authorize(ctx, caller, s.resource(ctx, r.PatientID, r.DoctorID, r.HospitalID)); err != nil {
		return "", err
	}

	hash, err := hashing.Fingerprint(r.hashPayload())
	if err != nil {
		return "", fmt.Errorf("fingerprint record: %w", err)
	}
	r.ContentHash = hash
	r.CreatedBy = caller.UserID

	if err := s.records.Create(ctx, r); err != nil {
		return "", fmt.Errorf("persist record: %w", err)
	}

	var txID string
	if s.cap.Blockchain {
		txID = s.mirror(ctx, "addRecord", signer, hash, &r.LedgerTxID, &r.LedgerMirrored, &r.ReconciliationPending)
		if err := s.records.Update(ctx, r); err != nil {
			s.logger.Error().Err(err).Str("record_id", r.ID.String()).Msg("failed to stamp ledger state on record")
		}
	}
	return txID, nil
}

func (s *Service) GetRecord(ctx context.Context, caller *auth.Identity, id uuid.UUID) (*MedicalRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := s.resource(ctx, r.PatientID, r.DoctorID, r.HospitalID)
	res.AccessLevel = r.AccessLevel
	if err := s.guard.Authorize(ctx, caller, res); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) ListPatientRecords(ctx context.Context, caller *auth.Identity, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	if err := s.guard.Authorize(ctx, caller, s.resource(ctx, patientID, uuid.Nil, nil)); err != nil {
		return nil, 0, err
	}
	return s.records.ListByPatient(ctx, patientID, limit, offset)
}

// UpdateRecord applies the given field updates. The content hash is
// recomputed only when a clinically meaningful field changed; an unchanged
// hash skips the ledger mirror entirely.
func (s *Service) UpdateRecord(ctx context.Context, caller *auth.Identity, id uuid.UUID, updates map[string]interface{}, signer *ledger.Signer) (*MedicalRecord, error) {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(ctx, caller, s.resource(ctx, r.PatientID, r.DoctorID, r.HospitalID)); err != nil {
		return nil, err
	}

	for k, v := range updates {
		switch k {
		case "recordType":
			if sv, ok := v.(string); ok {
				r.RecordType = sv
			}
		case "title":
			if sv, ok := v.(string); ok {
				r.Title = sv
			}
		case "diagnosis":
			applyOptString(&r.Diagnosis, v)
		case "prescription":
			applyOptString(&r.Prescription, v)
		case "notes":
			applyOptString(&r.Notes, v)
		case "accessLevel":
			if sv, ok := v.(string); ok {
				if !validAccessLevel(sv) {
					return nil, fmt.Errorf("invalid access_level %q", sv)
				}
				r.AccessLevel = sv
			}
		case "isCritical":
			if bv, ok := v.(bool); ok {
				r.IsCritical = bv
			}
		}
	}

	hash, err := hashing.Fingerprint(r.hashPayload())
	if err != nil {
		return nil, fmt.Errorf("fingerprint record: %w", err)
	}
	if hash != r.ContentHash {
		r.ContentHash = hash
		if s.cap.Blockchain {
			if signer == nil {
				return nil, ledger.ErrMissingSigner
			}
			r.LedgerMirrored = false
			r.ReconciliationPending = false
			s.mirror(ctx, "addRecord", signer, hash, &r.LedgerTxID, &r.LedgerMirrored, &r.ReconciliationPending)
		}
	}

	if err := s.records.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteRecord is restricted to admins and the original creator.
func (s *Service) DeleteRecord(ctx context.Context, caller *auth.Identity, id uuid.UUID) error {
	r, err := s.records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if caller.Role != auth.RoleAdmin && r.CreatedBy != caller.UserID {
		return auth.ErrForbidden
	}
	return s.records.Delete(ctx, id)
}

// -- Reports --

func (s *Service) CreateReport(ctx context.Context, caller *auth.Identity, r *Report, signer *ledger.Signer) (string, error) {
	if r.PatientID == uuid.Nil || r.DoctorID == uuid.Nil {
		return "", fmt.Errorf("patient_id and doctor_id are required")
	}
	if r.ReportType == "" || r.Title == "" {
		return "", fmt.Errorf("report_type and title are required")
	}
	if r.AccessLevel == "" {
		r.AccessLevel = AccessLevelRestricted
	}
	if !validAccessLevel(r.AccessLevel) {
		return "", fmt.Errorf("invalid access_level %q", r.AccessLevel)
	}
	if r.RecordID != nil {
		if _, err := s.records.GetByID(ctx, *r.RecordID); err != nil {
			return "", fmt.Errorf("linked record: %w", err)
		}
	}
	if s.cap.Blockchain && signer == nil {
		return "", ledger.ErrMissingSigner
	}

	if err := s.guard.Authorize(ctx, caller, s.resource(ctx, r.PatientID, r.DoctorID, nil)); err != nil {
		return "", err
	}

	hash, err := hashing.Fingerprint(r.hashPayload())
	if err != nil {
		return "", fmt.Errorf("fingerprint report: %w", err)
	}
	r.ContentHash = hash
	r.CreatedBy = caller.UserID

	if err := s.reports.Create(ctx, r); err != nil {
		return "", fmt.Errorf("persist report: %w", err)
	}

	var txID string
	if s.cap.Blockchain {
		txID = s.mirror(ctx, "addRecord", signer, hash, &r.LedgerTxID, &r.LedgerMirrored, &r.ReconciliationPending)
		if err := s.reports.Update(ctx, r); err != nil {
			s.logger.Error().Err(err).Str("report_id", r.ID.String()).Msg("failed to stamp ledger state on report")
		}
	}
	return txID, nil
}

func (s *Service) GetReport(ctx context.Context, caller *auth.Identity, id uuid.UUID) (*Report, error) {
	r, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := s.resource(ctx, r.PatientID, r.DoctorID, nil)
	res.AccessLevel = r.AccessLevel
	if err := s.guard.Authorize(ctx, caller, res); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) ListPatientReports(ctx context.Context, caller *auth.Identity, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	if err := s.guard.Authorize(ctx, caller, s.resource(ctx, patientID, uuid.Nil, nil)); err != nil {
		return nil, 0, err
	}
	return s.reports.ListByPatient(ctx, patientID, limit, offset)
}

// ListRecordReports returns the reports linked to a record the caller may
// read.
func (s *Service) ListRecordReports(ctx context.Context, caller *auth.Identity, recordID uuid.UUID) ([]*Report, error) {
	r, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	res := s.resource(ctx, r.PatientID, r.DoctorID, r.HospitalID)
	res.AccessLevel = r.AccessLevel
	if err := s.guard.Authorize(ctx, caller, res); err != nil {
		return nil, err
	}
	return s.reports.ListByRecord(ctx, recordID)
}

func (s *Service) UpdateReport(ctx context.Context, caller *auth.Identity, id uuid.UUID, updates map[string]interface{}, signer *ledger.Signer) (*Report, error) {
	r, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Authorize(ctx, caller, s.resource(ctx, r.PatientID, r.DoctorID, nil)); err != nil {
		return nil, err
	}

	for k, v := range updates {
		switch k {
		case "reportType":
			if sv, ok := v.(string); ok {
				r.ReportType = sv
			}
		case "title":
			if sv, ok := v.(string); ok {
				r.Title = sv
			}
		case "findings":
			applyOptString(&r.Findings, v)
		case "accessLevel":
			if sv, ok := v.(string); ok {
				if !validAccessLevel(sv) {
					return nil, fmt.Errorf("invalid access_level %q", sv)
				}
				r.AccessLevel = sv
			}
		case "isCritical":
			if bv, ok := v.(bool); ok {
				r.IsCritical = bv
			}
		}
	}

	hash, err := hashing.Fingerprint(r.hashPayload())
	if err != nil {
		return nil, fmt.Errorf("fingerprint report: %w", err)
	}
	if hash != r.ContentHash {
		r.ContentHash = hash
		if s.cap.Blockchain {
			if signer == nil {
				return nil, ledger.ErrMissingSigner
			}
			r.LedgerMirrored = false
			r.ReconciliationPending = false
			s.mirror(ctx, "addRecord", signer, hash, &r.LedgerTxID, &r.LedgerMirrored, &r.ReconciliationPending)
		}
	}

	if err := s.reports.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) DeleteReport(ctx context.Context, caller *auth.Identity, id uuid.UUID) error {
	r, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if caller.Role != auth.RoleAdmin && r.CreatedBy != caller.UserID {
		return auth.ErrForbidden
	}
	return s.reports.Delete(ctx, id)
}

func applyOptString(dst **string, v interface{}) {
	if sv, ok := v.(string); ok {
		*dst = &sv
	}
}
