package incentive

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
	svc   *Service
	txlog TxLogger
}

func NewHandler(svc *Service, txlog TxLogger) *Handler {
	return &Handler{svc: svc, txlog: txlog}
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
	api.POST("/incentives/payout", h.Payout, auth.RequireRole(auth.RoleHospital, auth.RoleAdmin))
	api.POST("/incentives/simulate", h.Simulate, auth.RequireRole(auth.RoleHospital, auth.RoleAdmin))
	api.GET("/incentives/history/:patientAddress", h.History)
	api.GET("/incentives/status/:patientAddress", h.Status)
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrUnknownRule):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
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

type payoutRequest struct {
	PatientAddress string `json:"patient_address"`
	RuleID         string `json:"rule_id"`
}

func (h *Handler) Payout(c echo.Context) error {
	var req payoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	payout, err := h.svc.Payout(c.Request().Context(), req.PatientAddress, req.RuleID)
	if err != nil {
		return httpError(err)
	}
	if payout.LedgerTxID != nil {
		h.logTx(c, "payout", *payout.LedgerTxID)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"ok":      true,
		"payout":  payout,
		"tx_hash": payout.LedgerTxID,
	})
}

func (h *Handler) Simulate(c echo.Context) error {
	var req payoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	payout, err := h.svc.Simulate(c.Request().Context(), req.PatientAddress, req.RuleID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":        true,
		"simulated": true,
		"payout":    payout,
	})
}

func (h *Handler) History(c echo.Context) error {
	payouts, err := h.svc.History(c.Request().Context(), c.Param("patientAddress"))
	if err != nil {
		return httpError(err)
	}
	if payouts == nil {
		payouts = []*Payout{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "payouts": payouts})
}

func (h *Handler) Status(c echo.Context) error {
	status, err := h.svc.Status(c.Request().Context(), c.Param("patientAddress"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}
