// Package handler serves the HTTP API. Every store-backed handler reads and writes only the
// store that the store middleware resolved for the request.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/directory"
	"github.com/suteetoe/lavadero/internal/middleware"
	"github.com/suteetoe/lavadero/internal/resolver"
	"github.com/suteetoe/lavadero/internal/validation"
	"github.com/suteetoe/lavadero/pkg/config"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
)

// Handler holds the dependencies shared by the API handlers
type Handler struct {
	Tokens     *jwtutil.JWTUtil
	Directory  *directory.Service
	Stores     middleware.Resolver
	SuperAdmin config.SuperAdminConfig
	Now        func() time.Time
}

// New creates a Handler
func New(tokens *jwtutil.JWTUtil, dir *directory.Service, stores middleware.Resolver, superAdmin config.SuperAdminConfig) *Handler {
	return &Handler{
		Tokens:     tokens,
		Directory:  dir,
		Stores:     stores,
		SuperAdmin: superAdmin,
		Now:        time.Now,
	}
}

// success writes the success envelope with payload merged into it
func success(c echo.Context, status int, payload echo.Map) error {
	if payload == nil {
		payload = echo.Map{}
	}
	payload["success"] = true
	return c.JSON(status, payload)
}

// respond writes the error envelope, reporting a connection lost mid-request against the
// store the request was bound to.
func respond(c echo.Context, err error) error {
	return apperr.Respond(c, apperr.Classify(err, middleware.StoreFromContext(c).IsTenant()))
}

// bind decodes and validates the request body into req
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return apperr.Validation("invalid request body")
		}
		return apperr.Wrapf(err, "bind request")
	}
	return validation.ValidateStruct(req)
}

// paramID parses a positive numeric path parameter
func paramID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation(name + " must be a positive number")
	}
	return uint(id), nil
}

// currentStore returns the store bound to the request
func currentStore(c echo.Context) (*resolver.Store, error) {
	store := middleware.StoreFromContext(c)
	if store == nil || store.DB == nil {
		return nil, errors.New("request has no resolved store")
	}
	return store, nil
}

// currentUserID returns the id of the signed-in user, or 0
func currentUserID(c echo.Context) uint {
	if store := middleware.StoreFromContext(c); store.Authenticated() {
		return store.Claims.UserID
	}
	return 0
}

func normalizePlate(plate string) string {
	return strings.ToUpper(strings.Join(strings.Fields(plate), ""))
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return nil, apperr.Validation("dates must use the YYYY-MM-DD format")
	}
	return &t, nil
}

// HealthCheck reports that the service is running
func (h *Handler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status": "ok",
		"time":   h.Now().UTC().Format(time.RFC3339),
	})
}
