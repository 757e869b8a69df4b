package relationship

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
	api.POST("/relationships", h.Create, auth.RequireRole(auth.RoleDoctor, auth.RoleHospital, auth.RoleAdmin))
	api.GET("/relationships/:id", h.Get)
	api.PUT("/relationships/:id/end", h.End, auth.RequireRole(auth.RoleDoctor, auth.RoleHospital, auth.RoleAdmin))
	api.PUT("/relationships/:id/notes", h.UpdateNotes, auth.RequireRole(auth.RoleDoctor, auth.RoleHospital, auth.RoleAdmin))

	api.GET("/relationships/patient/:patientId", h.PatientDoctors)
	api.GET("/relationships/doctor/:doctorId", h.DoctorPatients)
	api.GET("/relationships/bundle/:patientId/:doctorId", h.PairBundle)
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEntityNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateRelationship):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAlreadyInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
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

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var r Relationship
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	txID, err := h.svc.Create(c.Request().Context(), &r, auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	h.logTx(c, "registerRelationship", txID)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"ok":           true,
		"relationship": r,
		"tx_hash":      nullable(txID),
	})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) End(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.End(c.Request().Context(), id, auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	if r.LedgerTxID != nil {
		h.logTx(c, "endRelationship", *r.LedgerTxID)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "relationship": r})
}

type updateNotesRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) UpdateNotes(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req updateNotesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	r, err := h.svc.UpdateNotes(c.Request().Context(), id, req.Notes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "relationship": r})
}

func (h *Handler) PatientDoctors(c echo.Context) error {
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}

	relationships, err := h.svc.PatientDoctors(c.Request().Context(),
		auth.IdentityFromContext(c.Request().Context()), patientID)
	if err != nil {
		return httpError(err)
	}
	if relationships == nil {
		relationships = []*Relationship{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "relationships": relationships})
}

func (h *Handler) DoctorPatients(c echo.Context) error {
	doctorID, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}

	relationships, err := h.svc.DoctorPatients(c.Request().Context(),
		auth.IdentityFromContext(c.Request().Context()), doctorID)
	if err != nil {
		return httpError(err)
	}
	if relationships == nil {
		relationships = []*Relationship{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "relationships": relationships})
}

func (h *Handler) PairBundle(c echo.Context) error {
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	doctorID, err := pathID(c, "doctorId")
	if err != nil {
		return err
	}

	bundle, err := h.svc.PairBundle(c.Request().Context(),
		auth.IdentityFromContext(c.Request().Context()), patientID, doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bundle)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
