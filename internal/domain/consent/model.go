package consent

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrLedgerEnumeration is returned by ListAll while the ledger owns the
	// authoritative consent state. The contract exposes no enumeration, so
	// rather than returning a misleading empty list the engine refuses.
	ErrLedgerEnumeration = errors.New("consent enumeration is not available while the ledger is active")
)

// Grant is a time-bounded permission for a grantee to access a scope of a
// patient's data. The composite key (patient, grantee, scope) is unique; a
// new grant for the same key overwrites the previous one.
type Grant struct {
	PatientAddress string    `json:"patient_address"`
	GranteeAddress string    `json:"grantee_address"`
	Scope          string    `json:"scope"`
	DurationDays   int       `json:"duration_days"`
	GrantedAt      time.Time `json:"granted_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LedgerTxID     *string   `json:"ledger_tx_id"`
	LedgerMirrored bool      `json:"ledger_mirrored"`
}

// Expired reports whether the grant has passed its expiry at the given time.
func (g *Grant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

func grantKey(patient, grantee, scope string) string {
	return strings.Join([]string{patient, grantee, scope}, ":")
}

func patientPrefix(patient string) string {
	return patient + ":"
}
