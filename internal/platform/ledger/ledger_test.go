package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRPCGatewaySubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "grantConsent" {
			t.Errorf("method = %s, want grantConsent", req.Method)
		}
		if req.Params.Contract != "0xCM" {
			t.Errorf("contract = %s, want 0xCM", req.Params.Contract)
		}
		if req.Params.From == "" {
			t.Error("expected signer to be forwarded")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]string{"txHash": "0xabc123"},
		})
	}))
	defer srv.Close()

	g := NewRPCGateway(srv.URL, "0xCM", 5*time.Second, zerolog.Nop())
	tx, err := g.Submit(context.Background(), "grantConsent", &Signer{PrivateKey: "0xkey"}, "0xG", "0xscope", 30)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tx != "0xabc123" {
		t.Errorf("tx = %s, want 0xabc123", tx)
	}
}

func TestRPCGatewaySubmitRequiresSigner(t *testing.T) {
	g := NewRPCGateway("http://localhost:1", "0xCM", time.Second, zerolog.Nop())
	if _, err := g.Submit(context.Background(), "grantConsent", nil); !errors.Is(err, ErrMissingSigner) {
		t.Errorf("expected ErrMissingSigner, got %v", err)
	}
}

func TestRPCGatewayNotConfigured(t *testing.T) {
	g := NewRPCGateway("", "", time.Second, zerolog.Nop())
	if _, err := g.Submit(context.Background(), "payout", &Signer{PrivateKey: "k"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestRPCGatewayRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"code": -32000, "message": "execution reverted"},
		})
	}))
	defer srv.Close()

	g := NewRPCGateway(srv.URL, "0xIR", time.Second, zerolog.Nop())
	_, err := g.Submit(context.Background(), "registerPatient", &Signer{PrivateKey: "k"}, "0xhash")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "execution reverted") {
		t.Errorf("error should carry the ledger message: %v", err)
	}
}

func TestRPCGatewayCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"result": true})
	}))
	defer srv.Close()

	g := NewRPCGateway(srv.URL, "0xCM", time.Second, zerolog.Nop())
	var allowed bool
	if err := g.Call(context.Background(), "isAllowed", &allowed, "0xP", "0xG", "0xscope"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !allowed {
		t.Error("expected allowed=true")
	}
}

func TestRPCGatewayTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewRPCGateway(srv.URL, "0xCM", 50*time.Millisecond, zerolog.Nop())
	_, err := g.Submit(context.Background(), "grantConsent", &Signer{PrivateKey: "k"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestStubGateway(t *testing.T) {
	g := NewStubGateway()

	if _, err := g.Submit(context.Background(), "createRelationship", nil); !errors.Is(err, ErrMissingSigner) {
		t.Errorf("stub should still require a signer, got %v", err)
	}

	a, err := g.Submit(context.Background(), "createRelationship", &Signer{PrivateKey: "k"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	b, _ := g.Submit(context.Background(), "createRelationship", &Signer{PrivateKey: "k"})
	if a == b {
		t.Error("stub transaction ids must be unique")
	}
	if !strings.HasPrefix(a, "blockchain_hash_") {
		t.Errorf("unexpected stub tx format: %s", a)
	}
}

func TestSignerFromPrivateKey(t *testing.T) {
	if SignerFromPrivateKey("") != nil {
		t.Error("empty key should yield nil signer")
	}
	s := SignerFromPrivateKey("0xkey")
	if s == nil || s.PrivateKey != "0xkey" {
		t.Errorf("unexpected signer: %+v", s)
	}
}
