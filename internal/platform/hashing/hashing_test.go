package hashing

import (
	"strings"
	"testing"
)

func TestFingerprintKeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"fullName": "Jane Doe", "dob": "1985-03-02", "email": "jane@x.com"}
	b := map[string]interface{}{"email": "jane@x.com", "dob": "1985-03-02", "fullName": "Jane Doe"}

	ha, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	hb, err := Fingerprint(b)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if ha != hb {
		t.Errorf("fingerprints differ for identical payloads: %s vs %s", ha, hb)
	}
}

func TestFingerprintFormat(t *testing.T) {
	h, err := Fingerprint(map[string]interface{}{"role": "Patient"})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if len(h) != 66 {
		t.Errorf("expected 66-character hash, got %d: %s", len(h), h)
	}
	if !strings.HasPrefix(h, "0x") {
		t.Errorf("expected 0x prefix: %s", h)
	}
	for _, c := range h[2:] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("non-hex character %q in %s", c, h)
		}
	}
}

func TestFingerprintChangesWithFields(t *testing.T) {
	base := map[string]interface{}{"licenseNumber": "MD-100", "email": "a@b.com"}
	changed := map[string]interface{}{"licenseNumber": "MD-101", "email": "a@b.com"}

	hb, _ := Fingerprint(base)
	hc, _ := Fingerprint(changed)
	if hb == hc {
		t.Error("fingerprint did not change when a hashed field changed")
	}
}

func TestFingerprintEmptyPayload(t *testing.T) {
	h, err := Fingerprint(map[string]interface{}{})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if len(h) != 66 {
		t.Errorf("expected 66-character hash for empty payload, got %s", h)
	}
}

func TestIDDeterministic(t *testing.T) {
	a := ID("medical_records")
	b := ID("medical_records")
	if a != b {
		t.Errorf("ID is not deterministic: %s vs %s", a, b)
	}
	if a == ID("lab_results") {
		t.Error("distinct scopes hashed to the same id")
	}
	if len(a) != 66 || !strings.HasPrefix(a, "0x") {
		t.Errorf("unexpected id format: %s", a)
	}
}
