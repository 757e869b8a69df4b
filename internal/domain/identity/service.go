package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/platform/hashing"
	"github.com/medledger/medledger/internal/platform/ledger"
)

// Service registers patient, doctor and hospital identities. Every
// registration stamps a content hash over the role-specific payload subset
// and, when the identity capability is ledger-active, submits the hash to
// the identity registry contract before persisting. The ledger write and
// the database write are two separate effects; the ledger_mirrored flag is
// frozen at creation time for reconciliation.
type Service struct {
	patients  PatientRepository
	doctors   DoctorRepository
	hospitals HospitalRepository
	gateway   ledger.Gateway
	cap       config.Capability
	logger    zerolog.Logger
}

func NewService(
	patients PatientRepository,
	doctors DoctorRepository,
	hospitals HospitalRepository,
	gateway ledger.Gateway,
	cap config.Capability,
	logger zerolog.Logger,
) *Service {
	return &Service{
		patients:  patients,
		doctors:   doctors,
		hospitals: hospitals,
		gateway:   gateway,
		cap:       cap,
		logger:    logger,
	}
}

// -- Registration --

func (s *Service) RegisterPatient(ctx context.Context, p *Patient, signer *ledger.Signer) (string, error) {
	if p.FullName == "" {
		return "", fmt.Errorf("full_name is required")
	}
	if p.Email == "" {
		return "", fmt.Errorf("email is required")
	}
	if p.DOB.IsZero() {
		return "", fmt.Errorf("dob is required")
	}

	hash, err := hashing.Fingerprint(p.hashPayload())
	if err != nil {
		return "", fmt.Errorf("fingerprint patient: %w", err)
	}
	p.ContentHash = hash

	txID, err := s.mirror(ctx, "registerPatient", signer, hash)
	if err != nil {
		return "", err
	}
	stampLedger(&p.LedgerTxID, &p.LedgerMirrored, txID, s.cap.Blockchain)

	if err := s.patients.Create(ctx, p); err != nil {
		return txID, fmt.Errorf("persist patient: %w", err)
	}
	return txID, nil
}

func (s *Service) RegisterDoctor(ctx context.Context, d *Doctor, signer *ledger.Signer) (string, error) {
	if d.FullName == "" {
		return "", fmt.Errorf("full_name is required")
	}
	if d.LicenseNumber == "" {
		return "", fmt.Errorf("license_number is required")
	}
	if d.Email == "" {
		return "", fmt.Errorf("email is required")
	}

	hash, err := hashing.Fingerprint(d.hashPayload())
	if err != nil {
		return "", fmt.Errorf("fingerprint doctor: %w", err)
	}
	d.ContentHash = hash

	txID, err := s.mirror(ctx, "registerDoctor", signer, hash)
	if err != nil {
		return "", err
	}
	stampLedger(&d.LedgerTxID, &d.LedgerMirrored, txID, s.cap.Blockchain)

	if err := s.doctors.Create(ctx, d); err != nil {
		return txID, fmt.Errorf("persist doctor: %w", err)
	}
	return txID, nil
}

func (s *Service) RegisterHospital(ctx context.Context, h *Hospital, signer *ledger.Signer) (string, error) {
	if h.Name == "" {
		return "", fmt.Errorf("name is required")
	}
	if h.RegistrationNumber == "" {
		return "", fmt.Errorf("registration_number is required")
	}
	if h.Email == "" {
		return "", fmt.Errorf("email is required")
	}

	hash, err := hashing.Fingerprint(h.hashPayload())
	if err != nil {
		return "", fmt.Errorf("fingerprint hospital: %w", err)
	}
	h.ContentHash = hash

	txID, err := s.mirror(ctx, "registerHospital", signer, hash)
	if err != nil {
		return "", err
	}
	stampLedger(&h.LedgerTxID, &h.LedgerMirrored, txID, s.cap.Blockchain)

	if err := s.hospitals.Create(ctx, h); err != nil {
		return txID, fmt.Errorf("persist hospital: %w", err)
	}
	return txID, nil
}

// mirror submits the registration hash to the identity registry when the
// capability is ledger-active. Returns the transaction id, empty when the
// ledger path is inactive.
func (s *Service) mirror(ctx context.Context, op string, signer *ledger.Signer, hash string) (string, error) {
	if !s.cap.Blockchain {
		return "", nil
	}
	txID, err := s.gateway.Submit(ctx, op, signer, hash)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return txID, nil
}

func stampLedger(txField **string, mirrored *bool, txID string, active bool) {
	*mirrored = active
	if txID != "" {
		tx := txID
		*txField = &tx
	}
}

// -- Reads --

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return s.hospitals.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, limit, offset)
}

func (s *Service) ListHospitals(ctx context.Context, limit, offset int) ([]*Hospital, int, error) {
	return s.hospitals.List(ctx, limit, offset)
}

// -- Profile updates --

// UpdatePatientProfile applies the (already role-filtered) updates and
// recomputes the content hash, since the patient hash covers the full
// public payload.
func (s *Service) UpdatePatientProfile(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	for k, v := range updates {
		switch k {
		case "fullName":
			if sv, ok := v.(string); ok {
				p.FullName = sv
			}
		case "gender":
			applyOptString(&p.Gender, v)
		case "bloodGroup":
			applyOptString(&p.BloodGroup, v)
		case "contactNumber":
			applyOptString(&p.ContactNumber, v)
		case "address":
			applyOptString(&p.Address, v)
		case "emergencyContact":
			if m, ok := v.(map[string]interface{}); ok {
				if n, ok := m["name"].(string); ok {
					p.EmergencyContact.Name = n
				}
				if rel, ok := m["relation"].(string); ok {
					p.EmergencyContact.Relation = rel
				}
				if ph, ok := m["phone"].(string); ok {
					p.EmergencyContact.Phone = ph
				}
			}
		}
	}

	hash, err := hashing.Fingerprint(p.hashPayload())
	if err != nil {
		return nil, fmt.Errorf("fingerprint patient: %w", err)
	}
	p.ContentHash = hash

	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateDoctorProfile applies the filtered updates. The doctor hash covers
// only license number and email, neither of which is profile-updatable, so
// the hash is left untouched.
func (s *Service) UpdateDoctorProfile(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	for k, v := range updates {
		switch k {
		case "fullName":
			if sv, ok := v.(string); ok {
				d.FullName = sv
			}
		case "specialization":
			applyOptString(&d.Specialization, v)
		case "phone":
			applyOptString(&d.ContactNumber, v)
		case "yearsOfExperience":
			if f, ok := v.(float64); ok {
				y := int(f)
				d.YearsOfExperience = &y
			}
		}
	}

	if err := s.doctors.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) UpdateHospitalProfile(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (*Hospital, error) {
	h, err := s.hospitals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	for k, v := range updates {
		switch k {
		case "name":
			if sv, ok := v.(string); ok {
				h.Name = sv
			}
		case "type":
			applyOptString(&h.Type, v)
		case "phone":
			applyOptString(&h.ContactNumber, v)
		case "address":
			applyOptString(&h.Address, v)
		}
	}

	if err := s.hospitals.Update(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// DeleteEntity removes the entity backing a user account. Called by the
// account service as part of the user-delete cascade.
func (s *Service) DeleteEntity(ctx context.Context, entityModel string, id uuid.UUID) error {
	switch entityModel {
	case "Patient":
		return s.patients.Delete(ctx, id)
	case "Doctor":
		return s.doctors.Delete(ctx, id)
	case "Hospital":
		return s.hospitals.Delete(ctx, id)
	default:
		return fmt.Errorf("unknown entity model %q", entityModel)
	}
}

// EntityEmail returns the registered email of the entity backing a user
// account. The account service matches it against the registration email
// before binding a login to the entity.
func (s *Service) EntityEmail(ctx context.Context, entityModel string, id uuid.UUID) (string, error) {
	switch entityModel {
	case "Patient":
		p, err := s.patients.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		return p.Email, nil
	case "Doctor":
		d, err := s.doctors.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		return d.Email, nil
	case "Hospital":
		h, err := s.hospitals.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		return h.Email, nil
	default:
		return "", fmt.Errorf("unknown entity model %q", entityModel)
	}
}

func applyOptString(dst **string, v interface{}) {
	if sv, ok := v.(string); ok {
		*dst = &sv
	}
}
