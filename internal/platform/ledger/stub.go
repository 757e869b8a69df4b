package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// StubGateway returns synthetic transaction ids without contacting any
// ledger. The relationship contract does not exist yet, so relationship
// mirroring runs behind this stub until it does. The signer requirement is
// still enforced so callers exercise the same contract as the real gateway.
type StubGateway struct {
	seq atomic.Int64
}

func NewStubGateway() *StubGateway {
	return &StubGateway{}
}

func (g *StubGateway) Submit(_ context.Context, op string, signer *Signer, _ ...interface{}) (string, error) {
	if signer == nil {
		return "", ErrMissingSigner
	}
	n := g.seq.Add(1)
	return fmt.Sprintf("blockchain_hash_%d_%d", time.Now().UnixMilli(), n), nil
}

func (g *StubGateway) Call(context.Context, string, interface{}, ...interface{}) error {
	return fmt.Errorf("%w: stub gateway has no read path", ErrUnavailable)
}
