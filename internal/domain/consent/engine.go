package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/config"
	"github.com/medledger/medledger/internal/platform/hashing"
	"github.com/medledger/medledger/internal/platform/kv"
	"github.com/medledger/medledger/internal/platform/ledger"
)

// lockStripes bounds the number of key mutexes; collisions only cost
// unnecessary serialization, never correctness.
const lockStripes = 64

// Engine is the consent state machine. When the consent capability is
// ledger-active the contract owns the authoritative record and the local
// store is a cache/fallback; otherwise the local store is the record.
// Grant, revoke and expiry-delete on the same key are serialized through a
// striped mutex. Ledger submissions run outside the key lock because they
// block on transaction confirmation.
type Engine struct {
	store   kv.Store
	gateway ledger.Gateway
	cap     config.Capability
	logger  zerolog.Logger
	now     func() time.Time
	locks   [lockStripes]sync.Mutex
}

func NewEngine(store kv.Store, gateway ledger.Gateway, cap config.Capability, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		gateway: gateway,
		cap:     cap,
		logger:  logger,
		now:     time.Now,
	}
}

func (e *Engine) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &e.locks[h.Sum32()%lockStripes]
}

// Grant records permission for grantee to access scope of the patient's
// data for durationDays. When ledger-active the contract transaction is
// submitted first and a signer is required; the local grant is upserted
// regardless of mode, overwriting any prior grant for the same key.
func (e *Engine) Grant(ctx context.Context, patient, grantee, scope string, durationDays int, signer *ledger.Signer) (*Grant, error) {
	if patient == "" || grantee == "" || scope == "" {
		return nil, fmt.Errorf("patient, grantee and scope are required")
	}
	if durationDays <= 0 {
		return nil, fmt.Errorf("duration_days must be positive")
	}

	var txID string
	if e.cap.Blockchain {
		var err error
		txID, err = e.gateway.Submit(ctx, "grantConsent", signer, grantee, hashing.ID(scope), durationDays)
		if err != nil {
			return nil, fmt.Errorf("grant consent on ledger: %w", err)
		}
	}

	now := e.now()
	grant := &Grant{
		PatientAddress: patient,
		GranteeAddress: grantee,
		Scope:          scope,
		DurationDays:   durationDays,
		GrantedAt:      now,
		ExpiresAt:      now.AddDate(0, 0, durationDays),
		LedgerMirrored: e.cap.Blockchain,
	}
	if txID != "" {
		grant.LedgerTxID = &txID
	}

	raw, err := json.Marshal(grant)
	if err != nil {
		return nil, fmt.Errorf("encode grant: %w", err)
	}

	key := grantKey(patient, grantee, scope)
	mu := e.keyLock(key)
	mu.Lock()
	err = e.store.Set(key, raw)
	mu.Unlock()
	if err != nil {
		// The ledger write (if any) already succeeded; surface the gap
		// instead of pretending the grant exists locally.
		return nil, fmt.Errorf("store grant %s (ledger tx %q): %w", key, txID, err)
	}

	return grant, nil
}

// Revoke removes the grant for (patient, grantee, scope). Revoking an
// absent grant is not an error. The ledger branch mirrors Grant's.
func (e *Engine) Revoke(ctx context.Context, patient, grantee, scope string, signer *ledger.Signer) (string, error) {
	if patient == "" || grantee == "" || scope == "" {
		return "", fmt.Errorf("patient, grantee and scope are required")
	}

	var txID string
	if e.cap.Blockchain {
		var err error
		txID, err = e.gateway.Submit(ctx, "revokeConsent", signer, grantee, hashing.ID(scope))
		if err != nil {
			return "", fmt.Errorf("revoke consent on ledger: %w", err)
		}
	}

	key := grantKey(patient, grantee, scope)
	mu := e.keyLock(key)
	mu.Lock()
	err := e.store.Delete(key)
	mu.Unlock()
	if err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
		return txID, fmt.Errorf("delete grant %s: %w", key, err)
	}

	return txID, nil
}

// Check reports whether requester currently holds consent for scope of the
// patient's data. Ledger-active mode queries the contract directly and is
// stateless; otherwise the local store is consulted with lazy expiry: an
// expired grant is deleted on first read and reported as absent.
func (e *Engine) Check(ctx context.Context, patient, requester, scope string) (bool, error) {
	if e.cap.Blockchain {
		var allowed bool
		if err := e.gateway.Call(ctx, "isAllowed", &allowed, patient, requester, hashing.ID(scope)); err != nil {
			return false, fmt.Errorf("check consent on ledger: %w", err)
		}
		return allowed, nil
	}

	key := grantKey(patient, requester, scope)
	mu := e.keyLock(key)
	mu.Lock()
	defer mu.Unlock()

	grant, err := e.getLocked(key)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if grant.Expired(e.now()) {
		if err := e.store.Delete(key); err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
			e.logger.Warn().Err(err).Str("key", key).Msg("failed to delete expired consent grant")
		}
		return false, nil
	}
	return true, nil
}

// ListAll enumerates the patient's non-expired grants from the local
// store. Fails with ErrLedgerEnumeration while the ledger is active.
func (e *Engine) ListAll(_ context.Context, patient string) ([]*Grant, error) {
	if e.cap.Blockchain {
		return nil, ErrLedgerEnumeration
	}

	now := e.now()
	var grants []*Grant
	var expired []string
	err := e.store.IteratePrefix(patientPrefix(patient), func(key string, value []byte) bool {
		var g Grant
		if err := json.Unmarshal(value, &g); err != nil {
			e.logger.Warn().Err(err).Str("key", key).Msg("skipping undecodable consent grant")
			return true
		}
		if g.Expired(now) {
			expired = append(expired, key)
			return true
		}
		grants = append(grants, &g)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list grants for %s: %w", patient, err)
	}

	for _, key := range expired {
		mu := e.keyLock(key)
		mu.Lock()
		if g, err := e.getLocked(key); err == nil && g.Expired(now) {
			if err := e.store.Delete(key); err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
				e.logger.Warn().Err(err).Str("key", key).Msg("failed to delete expired consent grant")
			}
		}
		mu.Unlock()
	}

	return grants, nil
}

// Status bundles the boolean check with the underlying grant when the
// local store holds one.
type Status struct {
	Allowed      bool   `json:"allowed"`
	Grant        *Grant `json:"consent,omitempty"`
	LedgerBacked bool   `json:"blockchain_enabled"`
}

func (e *Engine) Status(ctx context.Context, patient, requester, scope string) (*Status, error) {
	allowed, err := e.Check(ctx, patient, requester, scope)
	if err != nil {
		return nil, err
	}

	status := &Status{Allowed: allowed, LedgerBacked: e.cap.Blockchain}
	if !e.cap.Blockchain {
		key := grantKey(patient, requester, scope)
		mu := e.keyLock(key)
		mu.Lock()
		if g, err := e.getLocked(key); err == nil {
			status.Grant = g
		}
		mu.Unlock()
	}
	return status, nil
}

// getLocked reads and decodes a grant; the caller holds the key lock.
func (e *Engine) getLocked(key string) (*Grant, error) {
	raw, err := e.store.Get(key)
	if err != nil {
		return nil, err
	}
	var g Grant
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode grant %s: %w", key, err)
	}
	return &g, nil
}
