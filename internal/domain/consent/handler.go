package consent

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medledger/medledger/internal/platform/auth"
	"github.com/medledger/medledger/internal/platform/ledger"
)

// TxLogger appends a ledger activity entry to the caller's account log.
// Satisfied by the account service; nil disables logging.
type TxLogger interface {
	LogTransaction(ctx context.Context, userID uuid.UUID, txType, txHash string) error
}

type Handler struct {
	engine *Engine
	txlog  TxLogger
}

func NewHandler(engine *Engine, txlog TxLogger) *Handler {
	return &Handler{engine: engine, txlog: txlog}
}

// logTx records a confirmed transaction against the caller's account.
// Best effort: a logging miss never fails the request.
func (h *Handler) logTx(c echo.Context, txType, txID string) {
	if h.txlog == nil || txID == "" {
		return
	}
	if caller := auth.IdentityFromContext(c.Request().Context()); caller != nil {
		_ = h.txlog.LogTransaction(c.Request().Context(), caller.UserID, txType, txID)
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consent/grant", h.Grant, auth.RequireRole(auth.RolePatient))
	api.POST("/consent/revoke", h.Revoke, auth.RequireRole(auth.RolePatient))
	api.GET("/consent/check", h.Check)
	api.GET("/consent/status", h.Status)
	api.GET("/consent/all/:patientAddress", h.ListAll, auth.RequireRole(auth.RolePatient, auth.RoleHospital))
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrLedgerEnumeration):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.Is(err, ledger.ErrMissingSigner):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, ledger.ErrUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

type grantRequest struct {
	PatientAddress string `json:"patient_address"`
	GranteeAddress string `json:"grantee_address"`
	Scope          string `json:"scope"`
	DurationDays   int    `json:"duration_days"`
}

func (h *Handler) Grant(c echo.Context) error {
	var req grantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientAddress == "" {
		req.PatientAddress = callerAddress(c)
	}

	grant, err := h.engine.Grant(c.Request().Context(),
		req.PatientAddress, req.GranteeAddress, req.Scope, req.DurationDays,
		auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	if grant.LedgerTxID != nil {
		h.logTx(c, "grantConsent", *grant.LedgerTxID)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"ok":      true,
		"consent": grant,
		"tx_hash": grant.LedgerTxID,
	})
}

type revokeRequest struct {
	PatientAddress string `json:"patient_address"`
	GranteeAddress string `json:"grantee_address"`
	Scope          string `json:"scope"`
}

func (h *Handler) Revoke(c echo.Context) error {
	var req revokeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientAddress == "" {
		req.PatientAddress = callerAddress(c)
	}

	txID, err := h.engine.Revoke(c.Request().Context(),
		req.PatientAddress, req.GranteeAddress, req.Scope,
		auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	h.logTx(c, "revokeConsent", txID)
	resp := map[string]interface{}{"ok": true, "revoked": true}
	if txID != "" {
		resp["tx_hash"] = txID
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Check(c echo.Context) error {
	patient := c.QueryParam("patient")
	requester := c.QueryParam("requester")
	scope := c.QueryParam("scope")
	if patient == "" || requester == "" || scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient, requester and scope are required")
	}

	allowed, err := h.engine.Check(c.Request().Context(), patient, requester, scope)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "allowed": allowed})
}

func (h *Handler) Status(c echo.Context) error {
	patient := c.QueryParam("patient")
	requester := c.QueryParam("requester")
	scope := c.QueryParam("scope")
	if patient == "" || requester == "" || scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient, requester and scope are required")
	}

	status, err := h.engine.Status(c.Request().Context(), patient, requester, scope)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func (h *Handler) ListAll(c echo.Context) error {
	grants, err := h.engine.ListAll(c.Request().Context(), c.Param("patientAddress"))
	if err != nil {
		return httpError(err)
	}
	if grants == nil {
		grants = []*Grant{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "consents": grants})
}

// callerAddress defaults the patient address to the authenticated caller's
// wallet so patients granting their own consent can omit it.
func callerAddress(c echo.Context) string {
	if id := auth.IdentityFromContext(c.Request().Context()); id != nil {
		return id.WalletAddress
	}
	return ""
}
