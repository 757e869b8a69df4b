package consent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/platform/kv"
	"github.com/medledger/medledger/internal/platform/ledger"
)

type mockGateway struct {
	mu      sync.Mutex
	submits []string
	allowed bool
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
	m.mu.Lock()
	m.submits = append(m.submits, op)
	m.mu.Unlock()
	return m.txID, nil
}

func (m *mockGateway) Call(_ context.Context, op string, out interface{}, _ ...interface{}) error {
	if m.err != nil {
		return m.err
	}
	if b, ok := out.(*bool); ok {
		*b = m.allowed
	}
	return nil
}

func newEngine(mode config.Mode, gw ledger.Gateway) *Engine {
	return NewEngine(kv.NewMemoryStore(), gw, mode.Capabilities().Consent, zerolog.Nop())
}

func TestGrantThenCheck(t *testing.T) {
	e := newEngine(config.ModeDisabled, &mockGateway{})

	grant, err := e.Grant(context.Background(), "0xP", "0xG", "medical_records", 30, nil)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if grant.LedgerMirrored || grant.LedgerTxID != nil {
		t.Errorf("disabled mode must not stamp ledger fields: %+v", grant)
	}
	if want := grant.GrantedAt.AddDate(0, 0, 30); !grant.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", grant.ExpiresAt, want)
	}

	allowed, err := e.Check(context.Background(), "0xP", "0xG", "medical_records")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !allowed {
		t.Error("check should return true immediately after grant")
	}

	// Different scope, different grantee: no consent.
	if allowed, _ := e.Check(context.Background(), "0xP", "0xG", "lab_results"); allowed {
		t.Error("scope must be part of the consent key")
	}
	if allowed, _ := e.Check(context.Background(), "0xP", "0xH", "medical_records"); allowed {
		t.Error("grantee must be part of the consent key")
	}
}

func TestLazyExpiry(t *testing.T) {
	e := newEngine(config.ModeDisabled, &mockGateway{})

	if _, err := e.Grant(context.Background(), "0xP", "0xG", "medical_records", 30, nil); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// Advance the clock 31 days.
	e.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }

	allowed, err := e.Check(context.Background(), "0xP", "0xG", "medical_records")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if allowed {
		t.Error("check must return false past expiry")
	}

	// The expired entry was deleted lazily; listing excludes it.
	grants, err := e.ListAll(context.Background(), "0xP")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(grants) != 0 {
		t.Errorf("expected no grants after expiry, got %d", len(grants))
	}
}

func TestGrantOverwritesExistingKey(t *testing.T) {
	e := newEngine(config.ModeDisabled, &mockGateway{})

	if _, err := e.Grant(context.Background(), "0xP", "0xG", "medical_records", 1, nil); err != nil {
		t.Fatalf("grant: %v", err)
	}
	second, err := e.Grant(context.Background(), "0xP", "0xG", "medical_records", 90, nil)
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}

	grants, err := e.ListAll(context.Background(), "0xP")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected 1 grant after overwrite, got %d", len(grants))
	}
	if grants[0].DurationDays != second.DurationDays {
		t.Errorf("grant was not overwritten: %+v", grants[0])
	}
}

func TestRevoke(t *testing.T) {
	e := newEngine(config.ModeDisabled, &mockGateway{})

	if _, err := e.Grant(context.Background(), "0xP", "0xG", "medical_records", 30, nil); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := e.Revoke(context.Background(), "0xP", "0xG", "medical_records", nil); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if allowed, _ := e.Check(context.Background(), "0xP", "0xG", "medical_records"); allowed {
		t.Error("check must return false immediately after revoke")
	}

	// Revoking an absent grant is not an error.
	if _, err := e.Revoke(context.Background(), "0xP", "0xG", "medical_records", nil); err != nil {
		t.Errorf("revoke of absent grant: %v", err)
	}
}

func TestLedgerActiveGrantRequiresSigner(t *testing.T) {
	gw := &mockGateway{txID: "0xtx"}
	e := newEngine(config.ModeEnabled, gw)

	if _, err := e.Grant(context.Background(), "0xP", "0xG", "medical_records", 30, nil); !errors.Is(err, ledger.ErrMissingSigner) {
		t.Fatalf("expected ErrMissingSigner, got %v", err)
	}
	if _, err := e.Revoke(context.Background(), "0xP", "0xG", "medical_records", nil); !errors.Is(err, ledger.ErrMissingSigner) {
		t.Fatalf("expected ErrMissingSigner on revoke, got %v", err)
	}
}

func TestLedgerActiveGrant(t *testing.T) {
	gw := &mockGateway{txID: "0xtx1"}
	e := newEngine(config.ModeHybrid, gw)

	grant, err := e.Grant(context.Background(), "0xP", "0xG", "medical_records", 30, &ledger.Signer{PrivateKey: "k"})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !grant.LedgerMirrored || grant.LedgerTxID == nil || *grant.LedgerTxID != "0xtx1" {
		t.Errorf("ledger stamp missing: %+v", grant)
	}
	if len(gw.submits) != 1 || gw.submits[0] != "grantConsent" {
		t.Errorf("submits = %v", gw.submits)
	}
}

func TestLedgerActiveCheckIsAuthoritative(t *testing.T) {
	gw := &mockGateway{allowed: true}
	e := newEngine(config.ModeEnabled, gw)

	// Nothing in the local store; the ledger answer wins.
	allowed, err := e.Check(context.Background(), "0xP", "0xG", "medical_records")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !allowed {
		t.Error("ledger-active check should return the contract's answer")
	}

	gw.allowed = false
	if allowed, _ := e.Check(context.Background(), "0xP", "0xG", "medical_records"); allowed {
		t.Error("ledger-active check should return false when the contract denies")
	}
}

func TestListAllLedgerActiveFailsLoudly(t *testing.T) {
	e := newEngine(config.ModeEnabled, &mockGateway{})
	if _, err := e.ListAll(context.Background(), "0xP"); !errors.Is(err, ErrLedgerEnumeration) {
		t.Errorf("expected ErrLedgerEnumeration, got %v", err)
	}
}

func TestListAllScopedToPatient(t *testing.T) {
	e := newEngine(config.ModeDisabled, &mockGateway{})

	e.Grant(context.Background(), "0xP", "0xG", "medical_records", 30, nil)
	e.Grant(context.Background(), "0xP", "0xH", "lab_results", 10, nil)
	e.Grant(context.Background(), "0xQ", "0xG", "medical_records", 30, nil)

	grants, err := e.ListAll(context.Background(), "0xP")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(grants) != 2 {
		t.Errorf("expected 2 grants for 0xP, got %d", len(grants))
	}
	for _, g := range grants {
		if g.PatientAddress != "0xP" {
			t.Errorf("foreign grant leaked into listing: %+v", g)
		}
	}
}

func TestStatusBundlesGrant(t *testing.T) {
	e := newEngine(config.ModeDisabled, &mockGateway{})

	e.Grant(context.Background(), "0xP", "0xG", "medical_records", 30, nil)

	status, err := e.Status(context.Background(), "0xP", "0xG", "medical_records")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Allowed || status.Grant == nil || status.LedgerBacked {
		t.Errorf("unexpected status: %+v", status)
	}

	status, err = e.Status(context.Background(), "0xP", "0xZ", "medical_records")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Allowed || status.Grant != nil {
		t.Errorf("expected empty status for unknown grantee: %+v", status)
	}
}

func TestConcurrentGrantRevokeSameKey(t *testing.T) {
	e := newEngine(config.ModeDisabled, &mockGateway{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			e.Grant(context.Background(), "0xP", "0xG", "medical_records", 30, nil)
		}()
		go func() {
			defer wg.Done()
			e.Revoke(context.Background(), "0xP", "0xG", "medical_records", nil)
		}()
		go func() {
			defer wg.Done()
			e.Check(context.Background(), "0xP", "0xG", "medical_records")
		}()
	}
	wg.Wait()
}
