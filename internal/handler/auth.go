package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/directory"
	"github.com/suteetoe/lavadero/internal/middleware"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
	"github.com/suteetoe/lavadero/pkg/logger"
	"github.com/suteetoe/lavadero/pkg/password"
	"github.com/suteetoe/lavadero/prometheus"
)

// LoginRequest is the body of the login endpoints
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignupRequest registers a new business
type SignupRequest struct {
	Business string `json:"business" validate:"required,max=150"`
	Name     string `json:"name" validate:"max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type userView struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

type tenantView struct {
	ID         uint   `json:"id"`
	Name       string `json:"name,omitempty"`
	Slug       string `json:"slug"`
	Plan       string `json:"plan,omitempty"`
	NeedsSetup bool   `json:"needs_setup"`
}

func viewTenant(t *model.Tenant) *tenantView {
	return &tenantView{
		ID:         t.ID,
		Name:       t.Name,
		Slug:       t.Slug,
		Plan:       t.Plan,
		NeedsSetup: !t.Provisioned(),
	}
}

// tenantClaims builds the claims of a tenant login. The store address is copied into the
// token so that resolving later requests needs no directory lookup.
func tenantClaims(user *model.SystemUser, tenant *model.Tenant) jwtutil.Claims {
	tenantID := tenant.ID
	return jwtutil.Claims{
		TenantID:   &tenantID,
		TenantSlug: tenant.Slug,
		UserID:     user.ID,
		Email:      user.Email,
		Role:       user.Role,
		BranchURL:  tenant.Address(),
	}
}

// Login authenticates a control-plane user first and falls back to the users of the legacy
// store when the email is unknown to the control plane.
func (h *Handler) Login(c echo.Context) error {
	log := logger.FromContext(c)
	ctx := c.Request().Context()

	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	user, tenant, err := h.Directory.Authenticate(ctx, req.Email, req.Password)
	switch {
	case err == nil:
		token, err := h.Tokens.Encode(tenantClaims(user, tenant))
		if err != nil {
			return respond(c, apperr.Wrapf(err, "sign token"))
		}
		if !tenant.Provisioned() {
			log.Warn("Login to tenant without store", zap.Uint("tenant_id", tenant.ID))
		}
		prometheus.RecordLogin("tenant")
		return success(c, http.StatusOK, echo.Map{
			"token":  token,
			"user":   userView{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role},
			"tenant": viewTenant(tenant),
		})
	case errors.Is(err, apperr.ErrNotFound):
		return h.legacyLogin(c, req)
	default:
		prometheus.RecordAuthError("invalid_credentials")
		return respond(c, err)
	}
}

func (h *Handler) legacyLogin(c echo.Context, req LoginRequest) error {
	store, err := h.Stores.Resolve(c.Request().Context(), "")
	if err != nil {
		return respond(c, err)
	}

	var user model.User
	err = store.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return respond(c, apperr.Wrapf(err, "find legacy user"))
	}
	if err != nil || !password.Check(req.Password, user.PasswordHash) {
		prometheus.RecordAuthError("invalid_credentials")
		return respond(c, directory.ErrInvalidCredentials)
	}
	if !user.Active {
		return respond(c, apperr.Forbidden("this user has been disabled"))
	}

	token, err := h.Tokens.Encode(jwtutil.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		return respond(c, apperr.Wrapf(err, "sign token"))
	}

	prometheus.RecordLogin("legacy")
	return success(c, http.StatusOK, echo.Map{
		"token": token,
		"user":  userView{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role},
	})
}

// Signup registers a business, provisions its store and signs in its administrator. When
// provisioning fails the business is still created and reported with needs_setup.
func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	tenant, admin, err := h.Directory.Signup(c.Request().Context(), directory.SignupInput{
		Business: req.Business,
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return respond(c, err)
	}

	token, err := h.Tokens.Encode(tenantClaims(admin, tenant))
	if err != nil {
		return respond(c, apperr.Wrapf(err, "sign token"))
	}

	logger.FromContext(c).Info("Business registered",
		zap.Uint("tenant_id", tenant.ID),
		zap.String("slug", tenant.Slug),
		zap.Bool("provisioned", tenant.Provisioned()))
	prometheus.RecordLogin("tenant")

	return success(c, http.StatusCreated, echo.Map{
		"token":       token,
		"user":        userView{ID: admin.ID, Email: admin.Email, Name: admin.Name, Role: admin.Role},
		"tenant":      viewTenant(tenant),
		"needs_setup": !tenant.Provisioned(),
	})
}

// Refresh reissues the bearer token with identical claims and a new validity window
func (h *Handler) Refresh(c echo.Context) error {
	rawToken := jwtutil.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	claims, err := h.Tokens.Decode(rawToken)
	if err != nil {
		prometheus.RecordAuthError("invalid_token")
		return respond(c, apperr.Unauthorized("please sign in again"))
	}

	token, err := h.Tokens.Refresh(claims)
	if err != nil {
		return respond(c, apperr.Wrapf(err, "sign token"))
	}
	return success(c, http.StatusOK, echo.Map{"token": token})
}

// Me describes the signed-in user and the store serving them
func (h *Handler) Me(c echo.Context) error {
	store := middleware.StoreFromContext(c)
	claims := store.Claims

	payload := echo.Map{
		"user":   userView{ID: claims.UserID, Email: claims.Email, Role: claims.Role},
		"legacy": store.Legacy,
	}
	if store.IsTenant() {
		payload["tenant"] = tenantView{ID: *store.TenantID, Slug: store.TenantSlug}
	}
	return success(c, http.StatusOK, payload)
}

// SuperAdminLogin signs in the platform console with the configured credentials
func (h *Handler) SuperAdminLogin(c echo.Context) error {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	if h.SuperAdmin.Email == "" || h.SuperAdmin.PasswordHash == "" ||
		!strings.EqualFold(strings.TrimSpace(req.Email), h.SuperAdmin.Email) ||
		!password.Check(req.Password, h.SuperAdmin.PasswordHash) {
		logger.FromContext(c).Warn("Console login failed", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_credentials")
		return respond(c, directory.ErrInvalidCredentials)
	}

	token, err := h.Tokens.Encode(jwtutil.Claims{Email: h.SuperAdmin.Email, Role: jwtutil.RoleSuperAdmin})
	if err != nil {
		return respond(c, apperr.Wrapf(err, "sign token"))
	}

	prometheus.RecordLogin("superadmin")
	return success(c, http.StatusOK, echo.Map{"token": token})
}
