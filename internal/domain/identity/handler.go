package identity

import (
	"context"
	"errors"
	"net/http"
	"time"

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
	api.POST("/identity/register/patient", h.RegisterPatient, auth.RequireRole(auth.RoleAdmin, auth.RoleHospital))
	api.POST("/identity/register/doctor", h.RegisterDoctor, auth.RequireRole(auth.RoleAdmin, auth.RoleHospital))
	api.POST("/identity/register/hospital", h.RegisterHospital, auth.RequireRole(auth.RoleAdmin))

	api.GET("/identity/patients", h.ListPatients, auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor, auth.RoleHospital))
	api.GET("/identity/patients/:id", h.GetPatient)
	api.GET("/identity/doctors", h.ListDoctors)
	api.GET("/identity/doctors/:id", h.GetDoctor)
	api.GET("/identity/hospitals", h.ListHospitals)
	api.GET("/identity/hospitals/:id", h.GetHospital)

	api.PUT("/identity/patients/:id", h.UpdatePatient)
	api.PUT("/identity/doctors/:id", h.UpdateDoctor)
	api.PUT("/identity/hospitals/:id", h.UpdateHospital)
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateEntity):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
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

type registerPatientRequest struct {
	FullName         string           `json:"full_name"`
	DOB              string           `json:"dob"`
	Gender           *string          `json:"gender"`
	BloodGroup       *string          `json:"blood_group"`
	ContactNumber    *string          `json:"contact_number"`
	Email            string           `json:"email"`
	Address          *string          `json:"address"`
	EmergencyContact EmergencyContact `json:"emergency_contact"`
	WalletAddress    *string          `json:"wallet_address"`
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var req registerPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	dob, err := time.Parse("2006-01-02", req.DOB)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "dob must be YYYY-MM-DD")
	}

	p := &Patient{
		FullName:         req.FullName,
		DOB:              dob,
		Gender:           req.Gender,
		BloodGroup:       req.BloodGroup,
		ContactNumber:    req.ContactNumber,
		Email:            req.Email,
		Address:          req.Address,
		EmergencyContact: req.EmergencyContact,
		WalletAddress:    req.WalletAddress,
	}

	txID, err := h.svc.RegisterPatient(c.Request().Context(), p, auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	h.logTx(c, "registerPatient", txID)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"ok":      true,
		"patient": p,
		"tx_hash": nullable(txID),
	})
}

func (h *Handler) RegisterDoctor(c echo.Context) error {
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	txID, err := h.svc.RegisterDoctor(c.Request().Context(), &d, auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	h.logTx(c, "registerDoctor", txID)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"ok":      true,
		"doctor":  d,
		"tx_hash": nullable(txID),
	})
}

func (h *Handler) RegisterHospital(c echo.Context) error {
	var hosp Hospital
	if err := c.Bind(&hosp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	txID, err := h.svc.RegisterHospital(c.Request().Context(), &hosp, auth.SignerFromRequest(c))
	if err != nil {
		return httpError(err)
	}
	h.logTx(c, "registerHospital", txID)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"ok":       true,
		"hospital": hosp,
		"tx_hash":  nullable(txID),
	})
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetHospital(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	hosp, err := h.svc.GetHospital(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hosp)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	doctors, total, err := h.svc.ListDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(doctors, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListHospitals(c echo.Context) error {
	pg := pagination.FromContext(c)
	hospitals, total, err := h.svc.ListHospitals(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(hospitals, total, pg.Limit, pg.Offset))
}

// updateProfile binds the raw update map, filters it by the caller's role
// whitelist and enforces ownership (admin or the entity itself).
func (h *Handler) updateProfile(c echo.Context, apply func(updates map[string]interface{}) (interface{}, error)) error {
	caller := auth.IdentityFromContext(c.Request().Context())
	if caller == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if caller.Role != auth.RoleAdmin && caller.EntityID != id {
		return echo.NewHTTPError(http.StatusForbidden, "you can only update your own profile")
	}

	var updates map[string]interface{}
	if err := c.Bind(&updates); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	entity, err := apply(auth.FilterProfileUpdate(caller.Role, updates))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "entity": entity})
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	return h.updateProfile(c, func(updates map[string]interface{}) (interface{}, error) {
		id, _ := uuid.Parse(c.Param("id"))
		return h.svc.UpdatePatientProfile(c.Request().Context(), id, updates)
	})
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	return h.updateProfile(c, func(updates map[string]interface{}) (interface{}, error) {
		id, _ := uuid.Parse(c.Param("id"))
		return h.svc.UpdateDoctorProfile(c.Request().Context(), id, updates)
	})
}

func (h *Handler) UpdateHospital(c echo.Context) error {
	return h.updateProfile(c, func(updates map[string]interface{}) (interface{}, error) {
		id, _ := uuid.Parse(c.Param("id"))
		return h.svc.UpdateHospitalProfile(c.Request().Context(), id, updates)
	})
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
