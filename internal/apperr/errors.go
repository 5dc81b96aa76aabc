package apperr

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/pkg/logger"
)

var (
	// ErrTenantNotProvisioned is returned when a tenant request carries no dedicated store address
	ErrTenantNotProvisioned = errors.New("tenant store not provisioned")
	// ErrTenantStoreUnreachable is returned when a tenant's dedicated store cannot be reached
	ErrTenantStoreUnreachable = errors.New("tenant store unreachable")
	// ErrStoreUnavailable is returned when the shared legacy store cannot be used
	ErrStoreUnavailable = errors.New("legacy store unavailable")

	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// Error codes returned in API responses
const (
	CodeTenantNotProvisioned = "TENANT_NOT_PROVISIONED"
	CodeTenantUnreachable    = "TENANT_STORE_UNREACHABLE"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
	CodeValidation           = "VALIDATION_ERROR"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeConflict             = "CONFLICT"
	CodeInternal             = "INTERNAL_ERROR"
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Validation builds a validation error carrying a user-facing message
func Validation(message string) error {
	return &publicError{kind: ErrValidation, message: message}
}

// NotFound builds a not-found error for the named entity
func NotFound(entity string) error {
	return &publicError{kind: ErrNotFound, message: entity + " not found"}
}

// Conflict builds a conflict error carrying a user-facing message
func Conflict(message string) error {
	return &publicError{kind: ErrConflict, message: message}
}

// Unauthorized builds an authentication error carrying a user-facing message
func Unauthorized(message string) error {
	return &publicError{kind: ErrUnauthorized, message: message}
}

// Forbidden builds an authorization error carrying a user-facing message
func Forbidden(message string) error {
	return &publicError{kind: ErrForbidden, message: message}
}

// publicError pairs a taxonomy sentinel with a message that is safe to show to the caller.
type publicError struct {
	kind    error
	message string
}

func (e *publicError) Error() string { return e.message }

func (e *publicError) Unwrap() error { return e.kind }

// connectionLost reports whether err means the store stopped answering, as opposed to the
// store rejecting the statement.
func connectionLost(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) || pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify turns a lost connection to the request's store into ErrTenantStoreUnreachable for
// tenant stores and ErrStoreUnavailable for the legacy store. Other errors are returned as is.
func Classify(err error, tenant bool) error {
	if err == nil || errors.Is(err, ErrTenantStoreUnreachable) || errors.Is(err, ErrStoreUnavailable) || !connectionLost(err) {
		return err
	}
	if tenant {
		return Wrapf(errors.Join(ErrTenantStoreUnreachable, err), "tenant store query")
	}
	return Wrapf(errors.Join(ErrStoreUnavailable, err), "legacy store query")
}

// Status maps an error to its HTTP status code
func Status(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTenantNotProvisioned), errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict
	case errors.Is(err, ErrTenantStoreUnreachable), errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code maps an error to its API error code
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrTenantNotProvisioned):
		return CodeTenantNotProvisioned
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		return CodeConflict
	case errors.Is(err, ErrTenantStoreUnreachable):
		return CodeTenantUnreachable
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	default:
		return CodeInternal
	}
}

// Message returns the text shown to the caller. Unexpected errors never leak their cause.
func Message(err error) string {
	var pub *publicError
	if errors.As(err, &pub) {
		return pub.message
	}

	switch {
	case errors.Is(err, ErrTenantNotProvisioned):
		return "your account is not set up yet; contact support to finish its configuration"
	case errors.Is(err, ErrTenantStoreUnreachable):
		return "we could not reach your data right now; please try again in a few minutes"
	case errors.Is(err, ErrStoreUnavailable):
		return "the service is temporarily unavailable; please try again in a few minutes"
	case errors.Is(err, ErrUnauthorized):
		return "authentication required"
	case errors.Is(err, ErrForbidden):
		return "you do not have permission to perform this action"
	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return "resource not found"
	case errors.Is(err, ErrConflict), errors.Is(err, gorm.ErrDuplicatedKey):
		return "resource already exists"
	case errors.Is(err, ErrValidation):
		return "invalid request"
	default:
		return "internal server error"
	}
}

// Respond writes the error envelope for err. Server errors are logged with their cause.
func Respond(c echo.Context, err error) error {
	status := Status(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c).Error("Request failed", zap.Int("status", status), zap.Error(err))
	}

	body := echo.Map{
		"success": false,
		"error":   Message(err),
		"code":    Code(err),
	}

	var verr interface{ Fields() map[string]string }
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields()
	}

	return c.JSON(status, body)
}
