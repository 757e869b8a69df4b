package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/platform/ledger"
)

// -- Mock repositories --

type mockPatientRepo struct {
	patients map[uuid.UUID]*Patient
	byEmail  map[string]uuid.UUID
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*Patient), byEmail: make(map[string]uuid.UUID)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	if _, exists := m.byEmail[p.Email]; exists {
		return ErrDuplicateEntity
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	m.byEmail[p.Email] = p.ID
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) GetByEmail(_ context.Context, email string) (*Patient, error) {
	id, ok := m.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return m.patients[id], nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	p, ok := m.patients[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byEmail, p.Email)
	delete(m.patients, id)
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var out []*Patient
	for _, p := range m.patients {
		out = append(out, p)
	}
	return out, len(out), nil
}

type mockDoctorRepo struct {
	doctors map[uuid.UUID]*Doctor
}

func newMockDoctorRepo() *mockDoctorRepo { return &mockDoctorRepo{doctors: make(map[uuid.UUID]*Doctor)} }

func (m *mockDoctorRepo) Create(_ context.Context, d *Doctor) error {
	for _, e := range m.doctors {
		if e.LicenseNumber == d.LicenseNumber {
			return ErrDuplicateEntity
		}
	}
	d.ID = uuid.New()
	m.doctors[d.ID] = d
	return nil
}

func (m *mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockDoctorRepo) GetByLicense(_ context.Context, license string) (*Doctor, error) {
	for _, d := range m.doctors {
		if d.LicenseNumber == license {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockDoctorRepo) Update(_ context.Context, d *Doctor) error {
	if _, ok := m.doctors[d.ID]; !ok {
		return ErrNotFound
	}
	m.doctors[d.ID] = d
	return nil
}

func (m *mockDoctorRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.doctors[id]; !ok {
		return ErrNotFound
	}
	delete(m.doctors, id)
	return nil
}

func (m *mockDoctorRepo) List(_ context.Context, limit, offset int) ([]*Doctor, int, error) {
	var out []*Doctor
	for _, d := range m.doctors {
		out = append(out, d)
	}
	return out, len(out), nil
}

type mockHospitalRepo struct {
	hospitals map[uuid.UUID]*Hospital
}

func newMockHospitalRepo() *mockHospitalRepo {
	return &mockHospitalRepo{hospitals: make(map[uuid.UUID]*Hospital)}
}

func (m *mockHospitalRepo) Create(_ context.Context, h *Hospital) error {
	h.ID = uuid.New()
	m.hospitals[h.ID] = h
	return nil
}

func (m *mockHospitalRepo) GetByID(_ context.Context, id uuid.UUID) (*Hospital, error) {
	h, ok := m.hospitals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

func (m *mockHospitalRepo) GetByRegistrationNumber(_ context.Context, regNo string) (*Hospital, error) {
	for _, h := range m.hospitals {
		if h.RegistrationNumber == regNo {
			return h, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockHospitalRepo) Update(_ context.Context, h *Hospital) error {
	m.hospitals[h.ID] = h
	return nil
}

func (m *mockHospitalRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.hospitals, id)
	return nil
}

func (m *mockHospitalRepo) List(_ context.Context, limit, offset int) ([]*Hospital, int, error) {
	var out []*Hospital
	for _, h := range m.hospitals {
		out = append(out, h)
	}
	return out, len(out), nil
}

// mockGateway records submissions.

type mockGateway struct {
	submits []string
	txID    string
	err     error
}

func (m *mockGateway) Submit(_ context.Context, op string, signer *ledger.Signer, _ ...interface{}) (string, error) {
	if signer == nil {
		return "", ledger.ErrMissingSigner
	}
	if m.err != nil {
		return "", m.err
	}
	m.submits = append(m.submits, op)
	return m.txID, nil
}

func (m *mockGateway) Call(context.Context, string, interface{}, ...interface{}) error {
	return ledger.ErrUnavailable
}

func newService(mode config.Mode, gw ledger.Gateway) (*Service, *mockPatientRepo) {
	patients := newMockPatientRepo()
	return NewService(patients, newMockDoctorRepo(), newMockHospitalRepo(), gw,
		mode.Capabilities().Identity, zerolog.Nop()), patients
}

func testPatient() *Patient {
	return &Patient{
		FullName: "Jane Doe",
		DOB:      time.Date(1985, 3, 2, 0, 0, 0, 0, time.UTC),
		Email:    "jane@x.com",
	}
}

func TestRegisterPatientDisabledMode(t *testing.T) {
	gw := &mockGateway{txID: "0xshouldnotappear"}
	svc, _ := newService(config.ModeDisabled, gw)

	p := testPatient()
	txID, err := svc.RegisterPatient(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if txID != "" {
		t.Errorf("expected no tx id in disabled mode, got %s", txID)
	}
	if p.LedgerMirrored {
		t.Error("ledger_mirrored should be false in disabled mode")
	}
	if p.LedgerTxID != nil {
		t.Errorf("ledger_tx_id should be nil, got %v", *p.LedgerTxID)
	}
	if len(p.ContentHash) != 66 || !strings.HasPrefix(p.ContentHash, "0x") {
		t.Errorf("expected 0x + 64 hex content hash, got %q", p.ContentHash)
	}
	if len(gw.submits) != 0 {
		t.Errorf("gateway must not be called in disabled mode, got %v", gw.submits)
	}
}

func TestRegisterPatientEnabledModeRequiresSigner(t *testing.T) {
	svc, patients := newService(config.ModeEnabled, &mockGateway{txID: "0xtx"})

	if _, err := svc.RegisterPatient(context.Background(), testPatient(), nil); !errors.Is(err, ledger.ErrMissingSigner) {
		t.Fatalf("expected ErrMissingSigner, got %v", err)
	}
	if len(patients.patients) != 0 {
		t.Error("nothing should be persisted when the ledger write fails")
	}
}

func TestRegisterPatientEnabledMode(t *testing.T) {
	gw := &mockGateway{txID: "0xdeadbeef"}
	svc, _ := newService(config.ModeEnabled, gw)

	p := testPatient()
	txID, err := svc.RegisterPatient(context.Background(), p, &ledger.Signer{PrivateKey: "0xkey"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if txID != "0xdeadbeef" {
		t.Errorf("tx id = %s", txID)
	}
	if !p.LedgerMirrored || p.LedgerTxID == nil || *p.LedgerTxID != "0xdeadbeef" {
		t.Errorf("ledger stamp missing: mirrored=%v tx=%v", p.LedgerMirrored, p.LedgerTxID)
	}
	if len(gw.submits) != 1 || gw.submits[0] != "registerPatient" {
		t.Errorf("expected one registerPatient submission, got %v", gw.submits)
	}
}

func TestRegisterPatientDuplicateEmail(t *testing.T) {
	svc, _ := newService(config.ModeDisabled, &mockGateway{})

	if _, err := svc.RegisterPatient(context.Background(), testPatient(), nil); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.RegisterPatient(context.Background(), testPatient(), nil)
	if !errors.Is(err, ErrDuplicateEntity) {
		t.Errorf("expected ErrDuplicateEntity, got %v", err)
	}
}

func TestRegisterDoctorHashSubset(t *testing.T) {
	svc, _ := newService(config.ModeDisabled, &mockGateway{})

	spec := "cardiology"
	d := &Doctor{FullName: "Dr. A", LicenseNumber: "MD-100", Email: "a@h.com", Specialization: &spec}
	if _, err := svc.RegisterDoctor(context.Background(), d, nil); err != nil {
		t.Fatalf("register doctor: %v", err)
	}
	hashBefore := d.ContentHash

	// Demographic update must not change the hash: only license + email are hashed.
	updated, err := svc.UpdateDoctorProfile(context.Background(), d.ID, map[string]interface{}{
		"specialization": "neurology",
	})
	if err != nil {
		t.Fatalf("update doctor: %v", err)
	}
	if updated.ContentHash != hashBefore {
		t.Error("doctor content hash must not change on demographic update")
	}
}

func TestUpdatePatientProfileRecomputesHash(t *testing.T) {
	svc, _ := newService(config.ModeDisabled, &mockGateway{})

	p := testPatient()
	if _, err := svc.RegisterPatient(context.Background(), p, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	hashBefore := p.ContentHash

	updated, err := svc.UpdatePatientProfile(context.Background(), p.ID, map[string]interface{}{
		"fullName": "Jane Smith",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ContentHash == hashBefore {
		t.Error("patient content hash must change when a hashed field changes")
	}
	if updated.FullName != "Jane Smith" {
		t.Errorf("full name not applied: %s", updated.FullName)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(config.ModeDisabled, &mockGateway{})

	if _, err := svc.RegisterPatient(context.Background(), &Patient{Email: "x@y.com"}, nil); err == nil {
		t.Error("expected validation error for missing full_name")
	}
	if _, err := svc.RegisterDoctor(context.Background(), &Doctor{FullName: "Dr"}, nil); err == nil {
		t.Error("expected validation error for missing license_number")
	}
	if _, err := svc.RegisterHospital(context.Background(), &Hospital{Name: "H"}, nil); err == nil {
		t.Error("expected validation error for missing registration_number")
	}
}
