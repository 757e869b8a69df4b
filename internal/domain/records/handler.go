package records

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medledger/medledger/internal/platform/auth"
	"github.com/medledger/medledger/internal/platform/ledger"
	"github.com/medledger/medledger/pkg/pagination"
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
	api.POST("/records", h.CreateRecord, auth.RequireRole(auth.RoleDoctor, auth.RoleHospital, auth.RoleAdmin))
	api.GET("/records/:id", h.GetRecord)
	api.GET("/records/:id/reports", h.ListRecordReports)
	api.GET("/records/patient/:patientId", h.ListPatientRecords)
	api.PUT("/records/:id", h.UpdateRecord, auth.RequireRole(auth.RoleDoctor, auth.RoleHospital, auth.RoleAdmin))
	api.DELETE("/records/:id", h.DeleteRecord, auth.RequireRole(auth.RoleDoctor, auth.RoleHospital, auth.RoleAdmin))

	api.POST("/reports", h.CreateReport, auth.RequireRole(auth.RoleDoctor, auth.RoleHospital, auth.RoleAdmin))
	api.GET("/reports/:id", h.GetReport)
	api.GET("/reports/patient/:patientId", h.ListPatientReports)
	api.PUT("/reports/:id", h.UpdateReport, auth.RequireRole(auth.RoleDoctor, auth.RoleHospital, auth.RoleAdmin))
	api.DELETE("/reports/:id", h.DeleteReport, auth.RequireRole(auth.RoleDoctor, auth.RoleHospital, auth.RoleAdmin))
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrConsentRequired):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
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

func caller(c echo.Context) (*auth.Identity, error) {
	id := auth.IdentityFromContext(c.Request().Context())
	if id == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) CreateRecord(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}

	var r MedicalRecord
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	txID, err := h.svc.CreateRecord(c.Request().Context(), id, &r, auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	h.logTx(c, "addRecord", txID)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"ok":      true,
		"record":  r,
		"tx_hash": nullable(txID),
	})
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	recordID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	r, err := h.svc.GetRecord(c.Request().Context(), id, recordID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListPatientRecords(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	records, total, err := h.svc.ListPatientRecords(c.Request().Context(), id, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	recordID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var updates map[string]interface{}
	if err := c.Bind(&updates); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	r, err := h.svc.UpdateRecord(c.Request().Context(), id, recordID, updates, auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "record": r})
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	recordID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := h.svc.DeleteRecord(c.Request().Context(), id, recordID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "deleted": true})
}

func (h *Handler) CreateReport(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}

	var r Report
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	txID, err := h.svc.CreateReport(c.Request().Context(), id, &r, auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	h.logTx(c, "addReport", txID)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"ok":      true,
		"report":  r,
		"tx_hash": nullable(txID),
	})
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	reportID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	r, err := h.svc.GetReport(c.Request().Context(), id, reportID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListPatientReports(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	reports, total, err := h.svc.ListPatientReports(c.Request().Context(), id, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(reports, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListRecordReports(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	recordID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	reports, err := h.svc.ListRecordReports(c.Request().Context(), id, recordID)
	if err != nil {
		return httpError(err)
	}
	if reports == nil {
		reports = []*Report{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "reports": reports})
}

func (h *Handler) UpdateReport(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	reportID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var updates map[string]interface{}
	if err := c.Bind(&updates); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	r, err := h.svc.UpdateReport(c.Request().Context(), id, reportID, updates, auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "report": r})
}

func (h *Handler) DeleteReport(c echo.Context) error {
	id, err := caller(c)
	if err != nil {
		return err
	}
	reportID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := h.svc.DeleteReport(c.Request().Context(), id, reportID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "deleted": true})
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
