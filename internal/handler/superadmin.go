package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/suteetoe/lavadero/internal/directory"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/pkg/config"
	"github.com/suteetoe/lavadero/pkg/logger"
)

// CreateTenantRequest registers a business from the console
type CreateTenantRequest struct {
	Name string `json:"name" validate:"required,max=150"`
	Plan string `json:"plan" validate:"omitempty,oneof=trial basic premium"`
}

// SetConnectionRequest sets a tenant's store address by hand
type SetConnectionRequest struct {
	Address string `json:"address" validate:"required,url"`
}

// RecordPaymentRequest records a subscription payment
type RecordPaymentRequest struct {
	Amount       float64 `json:"amount" validate:"gt=0"`
	Method       string  `json:"method" validate:"max=30"`
	Reference    string  `json:"reference" validate:"max=100"`
	Plan         string  `json:"plan" validate:"omitempty,oneof=basic premium"`
	PeriodMonths int     `json:"period_months" validate:"omitempty,min=1,max=24"`
}

// ExtendTrialRequest pushes a tenant's expiration forward
type ExtendTrialRequest struct {
	Days int `json:"days" validate:"required,min=1,max=365"`
}

// consoleTenant is the console view of a tenant. The store address is shown masked.
type consoleTenant struct {
	ID          uint       `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	State       string     `json:"state"`
	Plan        string     `json:"plan"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Expired     bool       `json:"expired"`
	Provisioned bool       `json:"provisioned"`
	Address     string     `json:"address,omitempty"`
	BranchID    *string    `json:"branch_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (h *Handler) consoleView(t *model.Tenant) consoleTenant {
	return consoleTenant{
		ID:          t.ID,
		Name:        t.Name,
		Slug:        t.Slug,
		State:       t.State,
		Plan:        t.Plan,
		ExpiresAt:   t.ExpiresAt,
		Expired:     t.Expired(h.Now()),
		Provisioned: t.Provisioned(),
		Address:     config.MaskURL(t.Address()),
		BranchID:    t.BranchID,
		CreatedAt:   t.CreatedAt,
	}
}

// ListTenants lists every registered business
func (h *Handler) ListTenants(c echo.Context) error {
	tenants, err := h.Directory.ListTenants(c.Request().Context())
	if err != nil {
		return respond(c, err)
	}

	views := make([]consoleTenant, 0, len(tenants))
	for i := range tenants {
		views = append(views, h.consoleView(&tenants[i]))
	}
	return success(c, http.StatusOK, echo.Map{"tenants": views})
}

// GetTenant returns one business with its users and payments
func (h *Handler) GetTenant(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	tenant, err := h.Directory.LookupByID(ctx, id)
	if err != nil {
		return respond(c, err)
	}
	users, err := h.Directory.ListUsers(ctx, id)
	if err != nil {
		return respond(c, err)
	}
	payments, err := h.Directory.ListPayments(ctx, id)
	if err != nil {
		return respond(c, err)
	}

	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role})
	}
	return success(c, http.StatusOK, echo.Map{
		"tenant":   h.consoleView(tenant),
		"users":    views,
		"payments": payments,
	})
}

// CreateTenant registers a business and tries to provision its store
func (h *Handler) CreateTenant(c echo.Context) error {
	var req CreateTenantRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	tenant, err := h.Directory.Register(c.Request().Context(), req.Name, req.Plan)
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusCreated, echo.Map{"tenant": h.consoleView(tenant)})
}

// ProvisionTenant retries provisioning of a business created without a store
func (h *Handler) ProvisionTenant(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	tenant, err := h.Directory.Provision(c.Request().Context(), id)
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"tenant": h.consoleView(tenant)})
}

// SetTenantConnection records a store address configured by hand
func (h *Handler) SetTenantConnection(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var req SetConnectionRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	tenant, err := h.Directory.SetConnectionAddress(c.Request().Context(), id, req.Address)
	if err != nil {
		return respond(c, err)
	}

	logger.FromContext(c).Info("Tenant store address set by hand",
		zap.Uint("tenant_id", tenant.ID),
		zap.String("address", config.MaskURL(tenant.Address())))
	return success(c, http.StatusOK, echo.Map{"tenant": h.consoleView(tenant)})
}

// ArchiveTenant archives a business and releases its store
func (h *Handler) ArchiveTenant(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	tenant, err := h.Directory.Archive(c.Request().Context(), id)
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"tenant": h.consoleView(tenant)})
}

// PurgeTenant permanently removes an archived business
func (h *Handler) PurgeTenant(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	if err := h.Directory.Purge(c.Request().Context(), id); err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"deleted": id})
}

// RecordPayment records a subscription payment and extends the paid period
func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var req RecordPaymentRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	payment, err := h.Directory.RecordPayment(c.Request().Context(), id, directory.PaymentInput{
		Amount:       req.Amount,
		Method:       req.Method,
		Reference:    req.Reference,
		Plan:         req.Plan,
		PeriodMonths: req.PeriodMonths,
	})
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusCreated, echo.Map{"payment": payment})
}

// ListTenantPayments lists the payments of a business
func (h *Handler) ListTenantPayments(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	payments, err := h.Directory.ListPayments(c.Request().Context(), id)
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"payments": payments})
}

// ExtendTrial pushes the expiration of a business forward
func (h *Handler) ExtendTrial(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var req ExtendTrialRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	tenant, err := h.Directory.ExtendTrial(c.Request().Context(), id, req.Days)
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"tenant": h.consoleView(tenant)})
}
