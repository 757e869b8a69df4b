package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RPCGateway invokes contract operations over JSON-RPC 2.0. One gateway is
// bound to one contract address; the server wires a gateway per contract
// (identity registry, consent manager, incentive vault).
type RPCGateway struct {
	endpoint string
	contract string
	client   *http.Client
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewRPCGateway(endpoint, contract string, timeout time.Duration, logger zerolog.Logger) *RPCGateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCGateway{
		endpoint: endpoint,
		contract: contract,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		logger:   logger,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  rpcInvocation `json:"params"`
}

type rpcInvocation struct {
	Contract string        `json:"contract"`
	Args     []interface{} `json:"args"`
	From     string        `json:"from,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type txReceipt struct {
	TxHash string `json:"txHash"`
}

func (g *RPCGateway) Submit(ctx context.Context, op string, signer *Signer, args ...interface{}) (string, error) {
	if signer == nil {
		return "", ErrMissingSigner
	}
	var receipt txReceipt
	if err := g.invoke(ctx, op, signer.PrivateKey, args, &receipt); err != nil {
		return "", err
	}
	if receipt.TxHash == "" {
		return "", fmt.Errorf("%w: %s returned no transaction hash", ErrUnavailable, op)
	}
	g.logger.Info().Str("op", op).Str("tx_hash", receipt.TxHash).Msg("ledger transaction confirmed")
	return receipt.TxHash, nil
}

func (g *RPCGateway) Call(ctx context.Context, op string, out interface{}, args ...interface{}) error {
	return g.invoke(ctx, op, "", args, out)
}

func (g *RPCGateway) invoke(ctx context.Context, op, from string, args []interface{}, out interface{}) error {
	if g.endpoint == "" || g.contract == "" {
		return fmt.Errorf("%w: ledger endpoint or contract address not configured", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      time.Now().UnixNano(),
		Method:  op,
		Params:  rpcInvocation{Contract: g.contract, Args: args, From: from},
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", ErrTimeout, op, g.timeout)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: endpoint returned %d", ErrUnavailable, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%w: %s (code %d)", ErrUnavailable, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("%w: decode result: %v", ErrUnavailable, err)
		}
	}
	return nil
}
