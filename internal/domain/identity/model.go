package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("entity not found")
	ErrDuplicateEntity = errors.New("entity already exists")
)

// EmergencyContact is embedded in the patient record.
type EmergencyContact struct {
	Name     string `json:"name,omitempty"`
	Relation string `json:"relation,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Patient maps to the patient table. ContentHash is stamped at registration
// from the full registration payload and recomputed whenever a public field
// changes.
type Patient struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	FullName         string           `db:"full_name" json:"full_name"`
	DOB              time.Time        `db:"dob" json:"dob"`
	Gender           *string          `db:"gender" json:"gender,omitempty"`
	BloodGroup       *string          `db:"blood_group" json:"blood_group,omitempty"`
	ContactNumber    *string          `db:"contact_number" json:"contact_number,omitempty"`
	Email            string           `db:"email" json:"email"`
	Address          *string          `db:"address" json:"address,omitempty"`
	EmergencyContact EmergencyContact `db:"emergency_contact" json:"emergency_contact"`
	WalletAddress    *string          `db:"wallet_address" json:"wallet_address,omitempty"`
	ContentHash      string           `db:"content_hash" json:"content_hash"`
	LedgerTxID       *string          `db:"ledger_tx_id" json:"ledger_tx_id"`
	LedgerMirrored   bool             `db:"ledger_mirrored" json:"ledger_mirrored"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Doctor maps to the doctor table. Only the license number and email feed
// the content hash, so demographic updates do not invalidate it.
type Doctor struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	FullName          string     `db:"full_name" json:"full_name"`
	Specialization    *string    `db:"specialization" json:"specialization,omitempty"`
	Qualification     *string    `db:"qualification" json:"qualification,omitempty"`
	LicenseNumber     string     `db:"license_number" json:"license_number"`
	ContactNumber     *string    `db:"contact_number" json:"contact_number,omitempty"`
	Email             string     `db:"email" json:"email"`
	HospitalID        *uuid.UUID `db:"hospital_id" json:"hospital_id,omitempty"`
	YearsOfExperience *int       `db:"years_of_experience" json:"years_of_experience,omitempty"`
	WalletAddress     *string    `db:"wallet_address" json:"wallet_address,omitempty"`
	ContentHash       string     `db:"content_hash" json:"content_hash"`
	LedgerTxID        *string    `db:"ledger_tx_id" json:"ledger_tx_id"`
	LedgerMirrored    bool       `db:"ledger_mirrored" json:"ledger_mirrored"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Hospital maps to the hospital table. Registration number and email feed
// the content hash.
type Hospital struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	Type               *string   `db:"type" json:"type,omitempty"`
	RegistrationNumber string    `db:"registration_number" json:"registration_number"`
	ContactNumber      *string   `db:"contact_number" json:"contact_number,omitempty"`
	Email              string    `db:"email" json:"email"`
	Address            *string   `db:"address" json:"address,omitempty"`
	WalletAddress      *string   `db:"wallet_address" json:"wallet_address,omitempty"`
	ContentHash        string    `db:"content_hash" json:"content_hash"`
	LedgerTxID         *string   `db:"ledger_tx_id" json:"ledger_tx_id"`
	LedgerMirrored     bool      `db:"ledger_mirrored" json:"ledger_mirrored"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// hashPayload returns the fields the patient content hash is computed over:
// the entire registration payload plus a fixed role tag.
func (p *Patient) hashPayload() map[string]interface{} {
	m := map[string]interface{}{
		"fullName": p.FullName,
		"dob":      p.DOB.Format("2006-01-02"),
		"email":    p.Email,
		"role":     "Patient",
	}
	if p.Gender != nil {
		m["gender"] = *p.Gender
	}
	if p.BloodGroup != nil {
		m["bloodGroup"] = *p.BloodGroup
	}
	if p.ContactNumber != nil {
		m["contactNumber"] = *p.ContactNumber
	}
	if p.Address != nil {
		m["address"] = *p.Address
	}
	if p.WalletAddress != nil {
		m["walletAddress"] = *p.WalletAddress
	}
	return m
}

// hashPayload is intentionally narrow so re-registering demographic fields
// never re-hashes the doctor.
func (d *Doctor) hashPayload() map[string]interface{} {
	return map[string]interface{}{
		"licenseNumber": d.LicenseNumber,
		"email":         d.Email,
	}
}

func (h *Hospital) hashPayload() map[string]interface{} {
	return map[string]interface{}{
		"regNo": h.RegistrationNumber,
		"email": h.Email,
	}
}
