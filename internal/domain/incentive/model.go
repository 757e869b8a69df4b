package incentive

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownRule is returned when a payout references a rule id that is
	// not in the rule table.
	ErrUnknownRule = errors.New("unknown incentive rule")
)

// DefaultRules maps rule ids to token amounts. The table is deliberately
// static configuration; amounts change by deployment, not at runtime.
func DefaultRules() map[string]float64 {
	return map[string]float64{
		"record_created":    5,
		"consent_granted":   10,
		"checkup_completed": 20,
		"survey_completed":  15,
	}
}

// Payout records a single incentive payment. Append-only: payouts are never
// updated or deleted, only written and queried.
type Payout struct {
	PatientAddress string    `json:"patient_address"`
	RuleID         string    `json:"rule_id"`
	Amount         float64   `json:"amount"`
	IssuedAt       time.Time `json:"issued_at"`
	LedgerTxID     *string   `json:"ledger_tx_id"`
	LedgerMirrored bool      `json:"ledger_mirrored"`
}

// payoutKey is unique per payment event: the same rule can pay the same
// patient repeatedly, distinguished by timestamp.
func payoutKey(patient, ruleID string, issuedAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", patient, ruleID, issuedAt.UnixNano())
}

func patientPrefix(patient string) string {
	return patient + ":"
}
