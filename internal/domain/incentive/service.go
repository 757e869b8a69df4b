package incentive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/platform/hashing"
	"github.com/medledger/medledger/internal/platform/kv"
	"github.com/medledger/medledger/internal/platform/ledger"
)

// Service issues incentive payouts. Ledger payouts are signed by the
// hospital's operational key from configuration, not by the caller: the
// hospital funds the incentive vault, so its credential authorizes the
// transfer regardless of who triggered the rule.
type Service struct {
	store          kv.Store
	gateway        ledger.Gateway
	cap            config.Capability
	rules          map[string]float64
	hospitalSigner *ledger.Signer
	logger         zerolog.Logger
	now            func() time.Time
}

func NewService(
	store kv.Store,
	gateway ledger.Gateway,
	cap config.Capability,
	rules map[string]float64,
	hospitalSigner *ledger.Signer,
	logger zerolog.Logger,
) *Service {
	return &Service{
		store:          store,
		gateway:        gateway,
		cap:            cap,
		rules:          rules,
		hospitalSigner: hospitalSigner,
		logger:         logger,
		now:            time.Now,
	}
}

// Payout issues a payment to the patient under the given rule. Ledger-first
// when active: the vault transaction must confirm before the payout is
// recorded.
func (s *Service) Payout(ctx context.Context, patient, ruleID string) (*Payout, error) {
	if patient == "" {
		return nil, fmt.Errorf("patient address is required")
	}
	amount, ok := s.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, ruleID)
	}

	var txID string
	if s.cap.Blockchain {
		var err error
		txID, err = s.gateway.Submit(ctx, "payout", s.hospitalSigner, patient, hashing.ID(ruleID))
		if err != nil {
			return nil, fmt.Errorf("payout on ledger: %w", err)
		}
	}

	payout := &Payout{
		PatientAddress: patient,
		RuleID:         ruleID,
		Amount:         amount,
		IssuedAt:       s.now(),
		LedgerMirrored: s.cap.Blockchain,
	}
	if txID != "" {
		payout.LedgerTxID = &txID
	}

	raw, err := json.Marshal(payout)
	if err != nil {
		return nil, fmt.Errorf("encode payout: %w", err)
	}
	key := payoutKey(patient, ruleID, payout.IssuedAt)
	if err := s.store.Set(key, raw); err != nil {
		return nil, fmt.Errorf("store payout %s (ledger tx %q): %w", key, txID, err)
	}

	return payout, nil
}

// Simulate resolves the amount a payout would transfer without touching the
// ledger or the store.
func (s *Service) Simulate(_ context.Context, patient, ruleID string) (*Payout, error) {
	if patient == "" {
		return nil, fmt.Errorf("patient address is required")
	}
	amount, ok := s.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, ruleID)
	}
	return &Payout{
		PatientAddress: patient,
		RuleID:         ruleID,
		Amount:         amount,
		IssuedAt:       s.now(),
	}, nil
}

// History returns the patient's payouts, oldest first (keys sort by rule
// then timestamp within the patient prefix).
func (s *Service) History(_ context.Context, patient string) ([]*Payout, error) {
	var payouts []*Payout
	err := s.store.IteratePrefix(patientPrefix(patient), func(key string, value []byte) bool {
		var p Payout
		if err := json.Unmarshal(value, &p); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skipping undecodable payout")
			return true
		}
		payouts = append(payouts, &p)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list payouts for %s: %w", patient, err)
	}
	return payouts, nil
}

// Status aggregates the patient's payout history.
type Status struct {
	PatientAddress string  `json:"patient_address"`
	TotalAmount    float64 `json:"total_amount"`
	PayoutCount    int     `json:"payout_count"`
	LedgerBacked   bool    `json:"blockchain_enabled"`
}

func (s *Service) Status(ctx context.Context, patient string) (*Status, error) {
	payouts, err := s.History(ctx, patient)
	if err != nil {
		return nil, err
	}

	status := &Status{PatientAddress: patient, LedgerBacked: s.cap.Blockchain}
	for _, p := range payouts {
		status.TotalAmount += p.Amount
		status.PayoutCount++
	}
	return status, nil
}
