package apperr

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestStatusAndCode(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ErrTenantNotProvisioned, http.StatusForbidden, CodeTenantNotProvisioned},
		{fmt.Errorf("%w: dial tcp", ErrTenantStoreUnreachable), http.StatusServiceUnavailable, CodeTenantUnreachable},
		{Validation("name is required"), http.StatusBadRequest, CodeValidation},
		{ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{Forbidden("admins only"), http.StatusForbidden, CodeForbidden},
		{NotFound("registration"), http.StatusNotFound, CodeNotFound},
		{gorm.ErrRecordNotFound, http.StatusNotFound, CodeNotFound},
		{Wrapf(gorm.ErrDuplicatedKey, "create user"), http.StatusConflict, CodeConflict},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, Status(tc.err), tc.err.Error())
		assert.Equal(t, tc.code, Code(tc.err), tc.err.Error())
	}
}

func TestMessagesDistinguishTenantFailures(t *testing.T) {
	notProvisioned := Message(ErrTenantNotProvisioned)
	unreachable := Message(Wrapf(ErrTenantStoreUnreachable, "open store"))

	assert.NotEqual(t, notProvisioned, unreachable)
	assert.Contains(t, notProvisioned, "not set up")
	assert.Contains(t, unreachable, "could not reach")
}

func TestMessageDoesNotLeakCauses(t *testing.T) {
	err := Wrapf(errors.New(`pq: relation "secret_table" does not exist`), "list")
	assert.Equal(t, "internal server error", Message(err))
	assert.Equal(t, "registration not found", Message(NotFound("registration")))
}

func TestWrapfNil(t *testing.T) {
	assert.NoError(t, Wrapf(nil, "ignored"))
}

func TestRespond(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, Respond(c, ErrTenantNotProvisioned))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, CodeTenantNotProvisioned, body["code"])
}

func TestClassifyLostConnections(t *testing.T) {
	lost := []error{
		&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")},
		fmt.Errorf("list registrations: %w", driver.ErrBadConn),
		&pgconn.ConnectError{Config: &pgconn.Config{}},
	}
	for _, err := range lost {
		tenant := Classify(err, true)
		assert.ErrorIs(t, tenant, ErrTenantStoreUnreachable)
		assert.Equal(t, CodeTenantUnreachable, Code(tenant))
		assert.Equal(t, http.StatusServiceUnavailable, Status(tenant))

		legacy := Classify(err, false)
		assert.ErrorIs(t, legacy, ErrStoreUnavailable)
		assert.NotErrorIs(t, legacy, ErrTenantStoreUnreachable)
		assert.Equal(t, CodeStoreUnavailable, Code(legacy))
		assert.Equal(t, http.StatusServiceUnavailable, Status(legacy))
	}
}

func TestClassifyKeepsOtherErrors(t *testing.T) {
	assert.NoError(t, Classify(nil, true))

	syntax := &pgconn.PgError{Code: "42601", Message: "syntax error"}
	assert.Same(t, syntax, Classify(syntax, true))
	assert.Equal(t, http.StatusInternalServerError, Status(Classify(syntax, true)))

	notFound := NotFound("registration")
	assert.Equal(t, notFound, Classify(notFound, false))

	already := fmt.Errorf("%w: dial tcp", ErrTenantStoreUnreachable)
	assert.Equal(t, already, Classify(already, false))
}
