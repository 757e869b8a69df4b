// Package ledger wraps the external distributed-ledger contract layer. The
// ledger is an opaque RPC service: every mutating call submits a contract
// invocation, blocks until the transaction is confirmed and returns its
// hash. Database writes are never transactionally linked to ledger success;
// callers treat Submit as the single point where an operation becomes
// on-chain committed.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrMissingSigner is returned when a ledger-mutating operation is
	// attempted without a signing credential.
	ErrMissingSigner = errors.New("missing signing credential for ledger operation")

	// ErrUnavailable is returned when the ledger endpoint is unreachable or
	// not configured.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrTimeout is returned when a ledger call exceeds the gateway timeout.
	ErrTimeout = errors.New("ledger call timed out")
)

// Signer carries the credential used to sign a ledger transaction on behalf
// of the caller. The raw private key convention is a development-era
// compatibility shim inherited from the x-user-private-key header; a proper
// key-custody service should replace it. The key never leaves the gateway.
type Signer struct {
	PrivateKey string
}

// SignerFromPrivateKey builds a Signer from a raw key string. Returns nil
// for an empty key so callers can pass the result straight through.
func SignerFromPrivateKey(pk string) *Signer {
	if pk == "" {
		return nil
	}
	return &Signer{PrivateKey: pk}
}

// Gateway is the contract-invocation interface consumed by the domain
// services. Implementations: RPCGateway (real endpoint), StubGateway
// (synthetic transaction ids) and NopGateway (ledger not configured).
type Gateway interface {
	// Submit invokes a mutating contract operation, waits for confirmation
	// and returns the transaction hash. Fails with ErrMissingSigner when
	// signer is nil.
	Submit(ctx context.Context, op string, signer *Signer, args ...interface{}) (string, error)

	// Call invokes a read-only contract operation and decodes the result
	// into out.
	Call(ctx context.Context, op string, out interface{}, args ...interface{}) error
}

// NopGateway rejects every call. Wired when the mode disables the ledger so
// that an accidental invocation fails loudly instead of fabricating state.
type NopGateway struct{}

func (NopGateway) Submit(context.Context, string, *Signer, ...interface{}) (string, error) {
	return "", ErrUnavailable
}

func (NopGateway) Call(context.Context, string, interface{}, ...interface{}) error {
	return ErrUnavailable
}
