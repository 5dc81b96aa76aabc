package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/suteetoe/lavadero/internal/apperr"
)

// GetBilling returns the subscription status and payments of the current business. The
// legacy deployment has no subscription.
func (h *Handler) GetBilling(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	if !store.IsTenant() {
		return respond(c, apperr.NotFound("subscription"))
	}

	status, err := h.Directory.Billing(c.Request().Context(), *store.TenantID)
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"billing": status})
}
