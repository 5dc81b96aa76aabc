package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suteetoe/lavadero/internal/directory"
	"github.com/suteetoe/lavadero/internal/directory/repofakes"
	"github.com/suteetoe/lavadero/internal/handler"
	"github.com/suteetoe/lavadero/internal/middleware"
	"github.com/suteetoe/lavadero/internal/provisioner"
	"github.com/suteetoe/lavadero/internal/resolver"
	"github.com/suteetoe/lavadero/pkg/config"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
)

type stubProvisioner struct {
	err error
}

func (p stubProvisioner) Provision(ctx context.Context, slug string) (*provisioner.Branch, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &provisioner.Branch{ID: "br-" + slug, ConnectionURI: "postgres://" + slug + ".db.example.com/neondb"}, nil
}

func (p stubProvisioner) Delete(ctx context.Context, branchID string) error {
	return p.err
}

// stubStores hands out a fixed store and records the tokens it was asked to resolve
type stubStores struct {
	store  *resolver.Store
	err    error
	tokens []string
}

func (s *stubStores) Resolve(ctx context.Context, rawToken string) (*resolver.Store, error) {
	s.tokens = append(s.tokens, rawToken)
	if s.err != nil {
		return nil, s.err
	}
	return s.store, nil
}

type fixture struct {
	e      *echo.Echo
	h      *handler.Handler
	tokens *jwtutil.JWTUtil
	dir    *directory.Service
	stores *stubStores
}

func newFixture(t *testing.T, prov provisioner.Provisioner) *fixture {
	t.Helper()

	tokens := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test-signing-key", TTL: time.Hour})
	dir := directory.NewService(repofakes.NewFakeDirectoryRepo(), prov)
	stores := &stubStores{}
	h := handler.New(tokens, dir, stores, config.SuperAdminConfig{})

	e := echo.New()
	e.POST("/auth/login", h.Login)
	e.POST("/auth/signup", h.Signup)
	e.POST("/auth/refresh", h.Refresh)
	e.POST("/superadmin/login", h.SuperAdminLogin)

	return &fixture{e: e, h: h, tokens: tokens, dir: dir, stores: stores}
}

// withStore mounts a route whose requests are bound to store
func (f *fixture) withStore(method, path string, fn echo.HandlerFunc, store *resolver.Store) {
	f.stores.store = store
	f.e.Add(method, path, fn, middleware.StoreMiddleware(f.stores))
}

func (f *fixture) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return rec, payload
}

func TestSignupThenLogin(t *testing.T) {
	f := newFixture(t, stubProvisioner{})

	rec, body := f.do(t, http.MethodPost, "/auth/signup",
		`{"business":"Lavadero Sol","name":"Ana","email":"Ana@Example.com","password":"secreto1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["needs_setup"])

	claims, err := f.tokens.Decode(body["token"].(string))
	require.NoError(t, err)
	require.True(t, claims.HasTenant())
	assert.Equal(t, "lavadero-sol", claims.TenantSlug)
	assert.Equal(t, "postgres://lavadero-sol.db.example.com/neondb", claims.BranchURL)
	assert.Equal(t, jwtutil.RoleAdmin, claims.Role)

	rec, body = f.do(t, http.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"secreto1"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	claims, err = f.tokens.Decode(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "lavadero-sol", claims.TenantSlug)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.Empty(t, f.stores.tokens, "tenant logins never touch the legacy store")
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	f := newFixture(t, stubProvisioner{})
	_, _, err := f.dir.Signup(context.Background(), directory.SignupInput{Business: "Sol", Email: "ana@example.com", Password: "secreto1"})
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodPost, "/auth/login", `{"email":"ana@example.com","password":"nope-nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
	assert.Equal(t, false, body["success"])
}

func TestSignupWithoutStoreNeedsSetup(t *testing.T) {
	f := newFixture(t, stubProvisioner{err: errors.New("provider down")})

	rec, body := f.do(t, http.MethodPost, "/auth/signup",
		`{"business":"Lavadero Luna","email":"luna@example.com","password":"secreto1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["needs_setup"])

	claims, err := f.tokens.Decode(body["token"].(string))
	require.NoError(t, err)
	assert.True(t, claims.HasTenant())
	assert.Empty(t, claims.BranchURL)
}

func TestSignupValidatesBody(t *testing.T) {
	f := newFixture(t, stubProvisioner{})

	rec, body := f.do(t, http.MethodPost, "/auth/signup", `{"business":"","email":"not-an-email","password":"1"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
	assert.Contains(t, body, "fields")
}

func TestRefreshKeepsClaims(t *testing.T) {
	f := newFixture(t, stubProvisioner{})

	tenantID := uint(9)
	token, err := f.tokens.Encode(jwtutil.Claims{
		TenantID:   &tenantID,
		TenantSlug: "sol",
		UserID:     4,
		Email:      "ana@example.com",
		Role:       jwtutil.RoleOperator,
		BranchURL:  "postgres://sol.db.example.com/neondb",
	})
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodPost, "/auth/refresh", "", token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	claims, err := f.tokens.Decode(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, tenantID, *claims.TenantID)
	assert.Equal(t, "sol", claims.TenantSlug)
	assert.Equal(t, uint(4), claims.UserID)
	assert.Equal(t, "postgres://sol.db.example.com/neondb", claims.BranchURL)

	rec, _ = f.do(t, http.MethodPost, "/auth/refresh", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
