package records

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/domain/identity"
	"github.com/medledger/medledger/internal/platform/auth"
	"github.com/medledger/medledger/internal/platform/ledger"
)

// -- Mocks --

type mockRecordRepo struct {
	records map[uuid.UUID]*MedicalRecord
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[uuid.UUID]*MedicalRecord)}
}

func (m *mockRecordRepo) Create(_ context.Context, r *MedicalRecord) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = time.Now()
	m.records[r.ID] = r
	return nil
}

func (m *mockRecordRepo) GetByID(_ context.Context, id uuid.UUID) (*MedicalRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockRecordRepo) Update(_ context.Context, r *MedicalRecord) error {
	if _, ok := m.records[r.ID]; !ok {
		return ErrNotFound
	}
	r.UpdatedAt = time.Now()
	m.records[r.ID] = r
	return nil
}

func (m *mockRecordRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *mockRecordRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	var out []*MedicalRecord
	for _, r := range m.records {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *mockRecordRepo) ListByPatientDoctor(_ context.Context, patientID, doctorID uuid.UUID) ([]*MedicalRecord, error) {
	var out []*MedicalRecord
	for _, r := range m.records {
		if r.PatientID == patientID && r.DoctorID == doctorID {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockReportRepo struct {
	reports map[uuid.UUID]*Report
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{reports: make(map[uuid.UUID]*Report)}
}

func (m *mockReportRepo) Create(_ context.Context, r *Report) error {
	r.ID = uuid.New()
	m.reports[r.ID] = r
	return nil
}

func (m *mockReportRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockReportRepo) Update(_ context.Context, r *Report) error {
	if _, ok := m.reports[r.ID]; !ok {
		return ErrNotFound
	}
	m.reports[r.ID] = r
	return nil
}

func (m *mockReportRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.reports[id]; !ok {
		return ErrNotFound
	}
	delete(m.reports, id)
	return nil
}

func (m *mockReportRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	var out []*Report
	for _, r := range m.reports {
		if r.PatientID == patientID {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *mockReportRepo) ListByRecord(_ context.Context, recordID uuid.UUID) ([]*Report, error) {
	var out []*Report
	for _, r := range m.reports {
		if r.RecordID != nil && *r.RecordID == recordID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockReportRepo) ListByPatientDoctor(_ context.Context, patientID, doctorID uuid.UUID) ([]*Report, error) {
	var out []*Report
	for _, r := range m.reports {
		if r.PatientID == patientID && r.DoctorID == doctorID {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockPatientDirectory struct {
	patients map[uuid.UUID]*identity.Patient
}

func (m *mockPatientDirectory) GetPatient(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	if p, ok := m.patients[id]; ok {
		return p, nil
	}
	return nil, identity.ErrNotFound
}

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

type allowAllConsent struct{ allowed bool }

func (a allowAllConsent) Check(context.Context, string, string, string) (bool, error) {
	return a.allowed, nil
}

// -- Fixtures --

var (
	patientID = uuid.New()
	doctorID  = uuid.New()
)

func doctorCaller() *auth.Identity {
	return &auth.Identity{UserID: uuid.New(), Role: auth.RoleDoctor, EntityID: doctorID}
}

func testRecord() *MedicalRecord {
	diag := "hypertension stage 1"
	return &MedicalRecord{
		PatientID:  patientID,
		DoctorID:   doctorID,
		RecordType: "diagnosis",
		Title:      "Annual checkup",
		Diagnosis:  &diag,
	}
}

func newTestService(mode config.Mode, gw ledger.Gateway, consent auth.ConsentChecker) (*Service, *mockRecordRepo, *mockReportRepo) {
	records := newMockRecordRepo()
	reports := newMockReportRepo()
	dir := &mockPatientDirectory{patients: map[uuid.UUID]*identity.Patient{
		patientID: {ID: patientID, FullName: "Jane Doe"},
	}}
	svc := NewService(records, reports, dir, auth.NewGuard(consent), gw,
		mode.Capabilities().Records, zerolog.Nop())
	return svc, records, reports
}

// -- Tests --

func TestCreateRecordDisabledMode(t *testing.T) {
	gw := &mockGateway{txID: "0xshouldnotappear"}
	svc, _, _ := newTestService(config.ModeDisabled, gw, allowAllConsent{})

	r := testRecord()
	txID, err := svc.CreateRecord(context.Background(), doctorCaller(), r, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if txID != "" {
		t.Errorf("expected no tx id in disabled mode, got %s", txID)
	}
	if r.LedgerMirrored || r.ReconciliationPending {
		t.Errorf("unexpected ledger state: %+v", r)
	}
	if len(r.ContentHash) != 66 || !strings.HasPrefix(r.ContentHash, "0x") {
		t.Errorf("expected 0x + 64 hex content hash, got %q", r.ContentHash)
	}
	if r.AccessLevel != AccessLevelRestricted {
		t.Errorf("access level should default to restricted, got %q", r.AccessLevel)
	}
	if len(gw.submits) != 0 {
		t.Errorf("gateway must not be called in disabled mode, got %v", gw.submits)
	}
}

func TestCreateRecordEnabledModeRequiresSigner(t *testing.T) {
	svc, records, _ := newTestService(config.ModeEnabled, &mockGateway{txID: "0xtx"}, allowAllConsent{})

	if _, err := svc.CreateRecord(context.Background(), doctorCaller(), testRecord(), nil); !errors.Is(err, ledger.ErrMissingSigner) {
		t.Fatalf("expected ErrMissingSigner, got %v", err)
	}
	if len(records.records) != 0 {
		t.Error("nothing should be persisted without a signer")
	}
}

func TestCreateRecordEnabledMode(t *testing.T) {
	gw := &mockGateway{txID: "0xrec"}
	svc, _, _ := newTestService(config.ModeEnabled, gw, allowAllConsent{})

	r := testRecord()
	txID, err := svc.CreateRecord(context.Background(), doctorCaller(), r, &ledger.Signer{PrivateKey: "0xk"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if txID != "0xrec" {
		t.Errorf("tx id = %s", txID)
	}
	if !r.LedgerMirrored || r.LedgerTxID == nil || *r.LedgerTxID != "0xrec" {
		t.Errorf("ledger stamp missing: %+v", r)
	}
	if r.ReconciliationPending {
		t.Error("reconciliation flag must be clear after a successful mirror")
	}
}

func TestCreateRecordMirrorFailureIsBestEffort(t *testing.T) {
	gw := &mockGateway{err: ledger.ErrUnavailable}
	svc, records, _ := newTestService(config.ModeHybrid, gw, allowAllConsent{})

	r := testRecord()
	txID, err := svc.CreateRecord(context.Background(), doctorCaller(), r, &ledger.Signer{PrivateKey: "0xk"})
	if err != nil {
		t.Fatalf("a failed mirror must not fail the request: %v", err)
	}
	if txID != "" {
		t.Errorf("no tx id expected on mirror failure, got %s", txID)
	}
	if !r.ReconciliationPending {
		t.Error("row must be marked reconciliation_pending after a failed mirror")
	}
	if r.LedgerMirrored {
		t.Error("ledger_mirrored must stay false after a failed mirror")
	}
	if len(records.records) != 1 {
		t.Error("the database write must survive the mirror failure")
	}
}

func TestUpdateRecordHashRecompute(t *testing.T) {
	svc, _, _ := newTestService(config.ModeDisabled, &mockGateway{}, allowAllConsent{})

	r := testRecord()
	if _, err := svc.CreateRecord(context.Background(), doctorCaller(), r, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	hashBefore := r.ContentHash

	// Access metadata is not part of the hash.
	updated, err := svc.UpdateRecord(context.Background(), doctorCaller(), r.ID, map[string]interface{}{
		"accessLevel": AccessLevelPrivate,
		"isCritical":  true,
	}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ContentHash != hashBefore {
		t.Error("access metadata change must not alter the content hash")
	}

	updated, err = svc.UpdateRecord(context.Background(), doctorCaller(), r.ID, map[string]interface{}{
		"diagnosis": "hypertension stage 2",
	}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ContentHash == hashBefore {
		t.Error("diagnosis change must alter the content hash")
	}
}

func TestDeleteRecordCreatorOnly(t *testing.T) {
	svc, _, _ := newTestService(config.ModeDisabled, &mockGateway{}, allowAllConsent{})

	creator := doctorCaller()
	r := testRecord()
	if _, err := svc.CreateRecord(context.Background(), creator, r, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	other := &auth.Identity{UserID: uuid.New(), Role: auth.RoleDoctor, EntityID: doctorID}
	if err := svc.DeleteRecord(context.Background(), other, r.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Errorf("non-creator delete should be forbidden, got %v", err)
	}

	admin := &auth.Identity{UserID: uuid.New(), Role: auth.RoleAdmin}
	if err := svc.DeleteRecord(context.Background(), admin, r.ID); err != nil {
		t.Errorf("admin delete: %v", err)
	}
}

func TestGetRecordConsentGate(t *testing.T) {
	svc, _, _ := newTestService(config.ModeDisabled, &mockGateway{}, allowAllConsent{allowed: false})

	creator := doctorCaller()
	r := testRecord()
	if _, err := svc.CreateRecord(context.Background(), creator, r, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Another doctor, no consent grant.
	stranger := &auth.Identity{UserID: uuid.New(), Role: auth.RoleDoctor, EntityID: uuid.New()}
	if _, err := svc.GetRecord(context.Background(), stranger, r.ID); !errors.Is(err, auth.ErrConsentRequired) {
		t.Errorf("expected ErrConsentRequired, got %v", err)
	}

	// The record's patient reads their own data.
	patient := &auth.Identity{UserID: uuid.New(), Role: auth.RolePatient, EntityID: patientID}
	if _, err := svc.GetRecord(context.Background(), patient, r.ID); err != nil {
		t.Errorf("patient read: %v", err)
	}
}

func TestGetRecordAccessLevelOverridesConsent(t *testing.T) {
	svc, records, _ := newTestService(config.ModeDisabled, &mockGateway{}, allowAllConsent{allowed: false})

	public := testRecord()
	if _, err := svc.CreateRecord(context.Background(), doctorCaller(), public, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	records.records[public.ID].AccessLevel = AccessLevelPublic

	// No consent grant, but the record is public.
	stranger := &auth.Identity{UserID: uuid.New(), Role: auth.RoleDoctor, EntityID: uuid.New()}
	if _, err := svc.GetRecord(context.Background(), stranger, public.ID); err != nil {
		t.Errorf("public record should not require consent, got %v", err)
	}

	// Private stays owner-only even when consent would allow the read.
	svc2, records2, _ := newTestService(config.ModeDisabled, &mockGateway{}, allowAllConsent{allowed: true})
	private := testRecord()
	if _, err := svc2.CreateRecord(context.Background(), doctorCaller(), private, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	records2.records[private.ID].AccessLevel = AccessLevelPrivate

	if _, err := svc2.GetRecord(context.Background(), stranger, private.ID); !errors.Is(err, auth.ErrForbidden) {
		t.Errorf("expected ErrForbidden for private record, got %v", err)
	}
	owner := &auth.Identity{UserID: uuid.New(), Role: auth.RolePatient, EntityID: patientID}
	if _, err := svc2.GetRecord(context.Background(), owner, private.ID); err != nil {
		t.Errorf("patient read of own private record: %v", err)
	}
}

func TestCreateReportLinkedRecordMustExist(t *testing.T) {
	svc, _, _ := newTestService(config.ModeDisabled, &mockGateway{}, allowAllConsent{})

	missing := uuid.New()
	rep := &Report{
		RecordID:   &missing,
		PatientID:  patientID,
		DoctorID:   doctorID,
		ReportType: "lab",
		Title:      "CBC panel",
	}
	if _, err := svc.CreateReport(context.Background(), doctorCaller(), rep, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for dangling record link, got %v", err)
	}
}

func TestListRecordReports(t *testing.T) {
	svc, _, _ := newTestService(config.ModeDisabled, &mockGateway{}, allowAllConsent{})

	creator := doctorCaller()
	r := testRecord()
	if _, err := svc.CreateRecord(context.Background(), creator, r, nil); err != nil {
		t.Fatalf("create record: %v", err)
	}

	rep := &Report{RecordID: &r.ID, PatientID: patientID, DoctorID: doctorID, ReportType: "lab", Title: "CBC panel"}
	if _, err := svc.CreateReport(context.Background(), creator, rep, nil); err != nil {
		t.Fatalf("create report: %v", err)
	}

	reports, err := svc.ListRecordReports(context.Background(), creator, r.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(reports) != 1 || reports[0].ID != rep.ID {
		t.Errorf("unexpected reports: %+v", reports)
	}
}
