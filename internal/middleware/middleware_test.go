package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/resolver"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
)

type resolverFunc func(ctx context.Context, rawToken string) (*resolver.Store, error)

func (f resolverFunc) Resolve(ctx context.Context, rawToken string) (*resolver.Store, error) {
	return f(ctx, rawToken)
}

func serve(t *testing.T, e *echo.Echo, header string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func storeEcho(r Resolver, mws ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	chain := append([]echo.MiddlewareFunc{StoreMiddleware(r)}, mws...)
	e.GET("/", func(c echo.Context) error {
		store := StoreFromContext(c)
		return c.JSON(http.StatusOK, echo.Map{"success": true, "legacy": store.Legacy, "address": store.Address})
	}, chain...)
	return e
}

func TestStoreMiddlewarePassesBearerToken(t *testing.T) {
	var got string
	r := resolverFunc(func(ctx context.Context, rawToken string) (*resolver.Store, error) {
		got = rawToken
		return &resolver.Store{Address: "legacy", Legacy: true}, nil
	})

	rec, body := serve(t, storeEcho(r), "Bearer abc.def.ghi")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc.def.ghi", got)
	assert.Equal(t, true, body["legacy"])

	_, _ = serve(t, storeEcho(r), "")
	assert.Equal(t, "", got)
}

func TestStoreMiddlewareTenantFailures(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.Wrapf(apperr.ErrTenantNotProvisioned, "tenant 9"), http.StatusForbidden, apperr.CodeTenantNotProvisioned},
		{apperr.Wrapf(apperr.ErrTenantStoreUnreachable, "tenant 5"), http.StatusServiceUnavailable, apperr.CodeTenantUnreachable},
	}

	for _, tc := range cases {
		r := resolverFunc(func(ctx context.Context, rawToken string) (*resolver.Store, error) {
			return nil, tc.err
		})

		rec, body := serve(t, storeEcho(r), "Bearer token")
		assert.Equal(t, tc.status, rec.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, tc.code, body["code"])
	}
}

func TestRequireAuth(t *testing.T) {
	legacy := resolverFunc(func(ctx context.Context, rawToken string) (*resolver.Store, error) {
		return &resolver.Store{Legacy: true}, nil
	})
	rec, body := serve(t, storeEcho(legacy, RequireAuth), "Bearer expired")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeUnauthorized, body["code"])

	signedIn := resolverFunc(func(ctx context.Context, rawToken string) (*resolver.Store, error) {
		return &resolver.Store{Legacy: true, Claims: &jwtutil.Claims{UserID: 1, Role: jwtutil.RoleOperator}}, nil
	})
	rec, _ = serve(t, storeEcho(signedIn, RequireAuth), "Bearer ok")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole(t *testing.T) {
	operator := resolverFunc(func(ctx context.Context, rawToken string) (*resolver.Store, error) {
		return &resolver.Store{Claims: &jwtutil.Claims{UserID: 1, Role: jwtutil.RoleOperator}}, nil
	})
	rec, body := serve(t, storeEcho(operator, RequireAuth, RequireRole(jwtutil.RoleAdmin)), "Bearer ok")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperr.CodeForbidden, body["code"])

	rec, _ = serve(t, storeEcho(operator, RequireAuth, RequireRole(jwtutil.RoleAdmin, jwtutil.RoleOperator)), "Bearer ok")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSuperAdmin(t *testing.T) {
	codec := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "secret", TTL: time.Hour})
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		claims := c.Get(ClaimsKey).(*jwtutil.Claims)
		return c.JSON(http.StatusOK, echo.Map{"email": claims.Email})
	}, RequireSuperAdmin(codec))

	root, err := codec.Encode(jwtutil.Claims{Email: "root@example.com", Role: jwtutil.RoleSuperAdmin})
	require.NoError(t, err)
	admin, err := codec.Encode(jwtutil.Claims{Email: "a@sol.com", Role: jwtutil.RoleAdmin})
	require.NoError(t, err)

	rec, body := serve(t, e, "Bearer "+root)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "root@example.com", body["email"])

	rec, _ = serve(t, e, "Bearer "+admin)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = serve(t, e, "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, e, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(RequestIDMiddleware)
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Request().Header.Get(RequestIDKey))
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := rec.Header().Get(RequestIDKey)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDKey, "abc-123")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDKey))
}
