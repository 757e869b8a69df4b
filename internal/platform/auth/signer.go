package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/medledger/medledger/internal/platform/ledger"
)

// PrivateKeyHeader carries the caller's raw signing key for ledger-mutating
// calls. Known insecure development convention kept for compatibility; a
// key-custody service should replace it before production hardening.
const PrivateKeyHeader = "x-user-private-key"

// SignerFromRequest extracts the ledger signing credential from the request
// header. Returns nil when the header is absent.
func SignerFromRequest(c echo.Context) *ledger.Signer {
	return ledger.SignerFromPrivateKey(c.Request().Header.Get(PrivateKeyHeader))
}
