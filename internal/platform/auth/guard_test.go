package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type mockConsentChecker struct {
	allowed map[string]bool
	err     error
}

func (m *mockConsentChecker) Check(_ context.Context, patient, requester, scope string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.allowed[patient+":"+requester+":"+scope], nil
}

func TestGuardAdminBypass(t *testing.T) {
	g := NewGuard(&mockConsentChecker{})
	caller := &Identity{UserID: uuid.New(), Role: RoleAdmin}
	if err := g.Authorize(context.Background(), caller, Resource{PatientID: uuid.New()}); err != nil {
		t.Errorf("admin should have unconditional access, got %v", err)
	}
}

func TestGuardOwnerMatch(t *testing.T) {
	g := NewGuard(&mockConsentChecker{})
	patientID := uuid.New()
	doctorID := uuid.New()
	hospitalID := uuid.New()
	res := Resource{PatientID: patientID, DoctorID: doctorID, HospitalID: hospitalID}

	cases := []struct {
		role     string
		entityID uuid.UUID
	}{
		{RolePatient, patientID},
		{RoleDoctor, doctorID},
		{RoleHospital, hospitalID},
	}
	for _, tc := range cases {
		caller := &Identity{UserID: uuid.New(), Role: tc.role, EntityID: tc.entityID}
		if err := g.Authorize(context.Background(), caller, res); err != nil {
			t.Errorf("role %s owning the resource should pass, got %v", tc.role, err)
		}
	}
}

func TestGuardPatientCannotReadOtherPatient(t *testing.T) {
	g := NewGuard(&mockConsentChecker{})
	caller := &Identity{UserID: uuid.New(), Role: RolePatient, EntityID: uuid.New()}
	err := g.Authorize(context.Background(), caller, Resource{PatientID: uuid.New()})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestGuardDoctorConsent(t *testing.T) {
	patientID := uuid.New()
	res := Resource{PatientID: patientID, DoctorID: uuid.New(), PatientAddress: "0xP"}

	checker := &mockConsentChecker{allowed: map[string]bool{
		"0xP:0xDoc:" + ConsentScopeMedicalRecords: true,
	}}
	g := NewGuard(checker)

	granted := &Identity{UserID: uuid.New(), Role: RoleDoctor, EntityID: uuid.New(), WalletAddress: "0xDoc"}
	if err := g.Authorize(context.Background(), granted, res); err != nil {
		t.Errorf("doctor with consent should pass, got %v", err)
	}

	denied := &Identity{UserID: uuid.New(), Role: RoleDoctor, EntityID: uuid.New(), WalletAddress: "0xOther"}
	if err := g.Authorize(context.Background(), denied, res); !errors.Is(err, ErrConsentRequired) {
		t.Errorf("expected ErrConsentRequired, got %v", err)
	}
}

func TestGuardPublicAccessWaivesConsent(t *testing.T) {
	g := NewGuard(&mockConsentChecker{})
	res := Resource{PatientID: uuid.New(), DoctorID: uuid.New(), AccessLevel: AccessLevelPublic}

	stranger := &Identity{UserID: uuid.New(), Role: RoleDoctor, EntityID: uuid.New(), WalletAddress: "0xOther"}
	if err := g.Authorize(context.Background(), stranger, res); err != nil {
		t.Errorf("public resource should not require consent, got %v", err)
	}

	otherPatient := &Identity{UserID: uuid.New(), Role: RolePatient, EntityID: uuid.New()}
	if err := g.Authorize(context.Background(), otherPatient, res); err != nil {
		t.Errorf("public resource should be readable by any authenticated caller, got %v", err)
	}
}

func TestGuardPrivateAccessBlocksConsentedReader(t *testing.T) {
	res := Resource{PatientID: uuid.New(), DoctorID: uuid.New(), PatientAddress: "0xP", AccessLevel: AccessLevelPrivate}

	// Consent is on file, but private never falls through to the consent path.
	checker := &mockConsentChecker{allowed: map[string]bool{
		"0xP:0xDoc:" + ConsentScopeMedicalRecords: true,
	}}
	g := NewGuard(checker)

	consented := &Identity{UserID: uuid.New(), Role: RoleDoctor, EntityID: uuid.New(), WalletAddress: "0xDoc"}
	if err := g.Authorize(context.Background(), consented, res); !errors.Is(err, ErrForbidden) {
		t.Errorf("private resource must stay owner-only, got %v", err)
	}

	// The owning entities still pass.
	owner := &Identity{UserID: uuid.New(), Role: RoleDoctor, EntityID: res.DoctorID}
	if err := g.Authorize(context.Background(), owner, res); err != nil {
		t.Errorf("owning doctor should read a private resource, got %v", err)
	}
}

func TestGuardConsentCheckError(t *testing.T) {
	g := NewGuard(&mockConsentChecker{err: errors.New("ledger down")})
	caller := &Identity{UserID: uuid.New(), Role: RoleHospital, EntityID: uuid.New(), WalletAddress: "0xH"}
	err := g.Authorize(context.Background(), caller, Resource{PatientID: uuid.New(), PatientAddress: "0xP"})
	if err == nil || errors.Is(err, ErrForbidden) || errors.Is(err, ErrConsentRequired) {
		t.Errorf("transport errors must not be flattened into a deny, got %v", err)
	}
}

func TestGuardUnknownRole(t *testing.T) {
	g := NewGuard(&mockConsentChecker{})
	caller := &Identity{UserID: uuid.New(), Role: "auditor", EntityID: uuid.New()}
	if err := g.Authorize(context.Background(), caller, Resource{PatientID: uuid.New()}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for unknown role, got %v", err)
	}
}

func TestFilterProfileUpdate(t *testing.T) {
	updates := map[string]interface{}{
		"fullName":      "New Name",
		"licenseNumber": "MD-999", // not updatable by anyone
		"role":          "admin",  // never whitelisted
	}
	filtered := FilterProfileUpdate(RoleDoctor, updates)
	if _, ok := filtered["fullName"]; !ok {
		t.Error("fullName should survive doctor profile filtering")
	}
	if _, ok := filtered["licenseNumber"]; ok {
		t.Error("licenseNumber must not be updatable")
	}
	if _, ok := filtered["role"]; ok {
		t.Error("role must not be updatable")
	}
}

func TestTokenIssueVerifyRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", 0)
	id := &Identity{
		UserID:        uuid.New(),
		Email:         "jane@x.com",
		Role:          RolePatient,
		EntityID:      uuid.New(),
		EntityModel:   "Patient",
		WalletAddress: "0xP",
	}
	token, err := issuer.Issue(id)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.UserID != id.UserID || got.Role != id.Role || got.EntityID != id.EntityID || got.WalletAddress != id.WalletAddress {
		t.Errorf("identity mismatch after round trip: %+v vs %+v", got, id)
	}

	other := NewTokenIssuer("different-secret", 0)
	if _, err := other.Verify(token); err == nil {
		t.Error("token signed with another secret must not verify")
	}
}
