package records

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Access levels gate who may read a clinical document beyond its owners.
const (
	AccessLevelPrivate    = "private"
	AccessLevelRestricted = "restricted"
	AccessLevelPublic     = "public"
)

func validAccessLevel(s string) bool {
	switch s {
	case AccessLevelPrivate, AccessLevelRestricted, AccessLevelPublic:
		return true
	}
	return false
}

// MedicalRecord is a clinical document linked to a patient, the authoring
// doctor and optionally a hospital. ContentHash covers the clinically
// meaningful fields and is recomputed whenever one of them changes.
// ReconciliationPending marks records whose ledger mirror failed after the
// database write succeeded.
type MedicalRecord struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	PatientID             uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID              uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	HospitalID            *uuid.UUID `db:"hospital_id" json:"hospital_id,omitempty"`
	RecordType            string     `db:"record_type" json:"record_type"`
	Title                 string     `db:"title" json:"title"`
	Diagnosis             *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	Prescription          *string    `db:"prescription" json:"prescription,omitempty"`
	Notes                 *string    `db:"notes" json:"notes,omitempty"`
	AccessLevel           string     `db:"access_level" json:"access_level"`
	IsCritical            bool       `db:"is_critical" json:"is_critical"`
	ContentHash           string     `db:"content_hash" json:"content_hash"`
	LedgerTxID            *string    `db:"ledger_tx_id" json:"ledger_tx_id"`
	LedgerMirrored        bool       `db:"ledger_mirrored" json:"ledger_mirrored"`
	ReconciliationPending bool       `db:"reconciliation_pending" json:"reconciliation_pending"`
	CreatedBy             uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Report is a diagnostic report, optionally linked to the medical record it
// elaborates on.
type Report struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	RecordID              *uuid.UUID `db:"record_id" json:"record_id,omitempty"`
	PatientID             uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID              uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	ReportType            string     `db:"report_type" json:"report_type"`
	Title                 string     `db:"title" json:"title"`
	Findings              *string    `db:"findings" json:"findings,omitempty"`
	AccessLevel           string     `db:"access_level" json:"access_level"`
	IsCritical            bool       `db:"is_critical" json:"is_critical"`
	ContentHash           string     `db:"content_hash" json:"content_hash"`
	LedgerTxID            *string    `db:"ledger_tx_id" json:"ledger_tx_id"`
	LedgerMirrored        bool       `db:"ledger_mirrored" json:"ledger_mirrored"`
	ReconciliationPending bool       `db:"reconciliation_pending" json:"reconciliation_pending"`
	CreatedBy             uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// hashPayload returns the clinically meaningful fields: identifiers plus the
// medical content. Access metadata and notes are excluded so permission
// changes never invalidate the fingerprint.
func (r *MedicalRecord) hashPayload() map[string]interface{} {
	m := map[string]interface{}{
		"patientId":  r.PatientID.String(),
		"doctorId":   r.DoctorID.String(),
		"recordType": r.RecordType,
		"title":      r.Title,
	}
	if r.Diagnosis != nil {
		m["diagnosis"] = *r.Diagnosis
	}
	if r.Prescription != nil {
		m["prescription"] = *r.Prescription
	}
	return m
}

func (r *Report) hashPayload() map[string]interface{} {
	m := map[string]interface{}{
		"patientId":  r.PatientID.String(),
		"doctorId":   r.DoctorID.String(),
		"reportType": r.ReportType,
		"title":      r.Title,
	}
	if r.Findings != nil {
		m["findings"] = *r.Findings
	}
	return m
}
