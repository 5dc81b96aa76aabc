// Package server assembles the echo instance: global middleware, route groups and the
// middleware that binds each request to its store.
package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/handler"
	"github.com/suteetoe/lavadero/internal/middleware"
	"github.com/suteetoe/lavadero/internal/resolver"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
	"github.com/suteetoe/lavadero/pkg/logger"
	"github.com/suteetoe/lavadero/prometheus"
)

// StoreResolver resolves stores from session tokens and from public slugs
type StoreResolver interface {
	Resolve(ctx context.Context, rawToken string) (*resolver.Store, error)
	ResolveSlug(ctx context.Context, slug string) (*resolver.Store, error)
}

// Options configures the server
type Options struct {
	// AuthRateLimit is the number of requests per second each client may send to the login
	// endpoints. Zero disables the limit.
	AuthRateLimit float64
}

// New builds the echo instance serving the API
func New(h *handler.Handler, stores StoreResolver, tokens *jwtutil.JWTUtil, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = JSONSerializer{}
	e.HTTPErrorHandler = errorHandler

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", h.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(prometheus.GetPrometheusHandler()))

	limiter := rateLimiter(opts.AuthRateLimit)

	auth := e.Group("/auth", limiter...)
	auth.POST("/login", h.Login)
	auth.POST("/signup", h.Signup)
	auth.POST("/refresh", h.Refresh)

	// Survey links sent to customers. Tenant links name the business by slug; legacy links
	// resolve to the legacy store.
	public := e.Group("/public")
	tenantStore := middleware.SlugStoreMiddleware(stores, "slug")
	public.GET("/:slug/surveys/:token", h.PublicGetSurvey, tenantStore)
	public.POST("/:slug/surveys/:token", h.PublicAnswerSurvey, tenantStore)
	legacyStore := middleware.StoreMiddleware(stores)
	public.GET("/surveys/:token", h.PublicGetSurvey, legacyStore)
	public.POST("/surveys/:token", h.PublicAnswerSurvey, legacyStore)

	// API routes - bound to the caller's store and require a session
	api := e.Group("/api", middleware.StoreMiddleware(stores), middleware.RequireAuth)
	adminOnly := middleware.RequireRole(jwtutil.RoleAdmin)

	api.GET("/me", h.Me)
	api.GET("/billing", h.GetBilling)

	registrations := api.Group("/registrations")
	registrations.GET("", h.ListRegistrations)
	registrations.POST("", h.CreateRegistration)
	registrations.GET("/:id", h.GetRegistration)
	registrations.PATCH("/:id/status", h.UpdateRegistrationStatus)
	registrations.POST("/:id/cancel", h.CancelRegistration)
	registrations.POST("/:id/survey", h.CreateSurvey)
	registrations.DELETE("/:id", h.DeleteRegistration, adminOnly)

	api.GET("/prices/quote", h.QuotePrice)
	priceLists := api.Group("/price-lists")
	priceLists.GET("", h.ListPriceLists)
	priceLists.POST("", h.CreatePriceList, adminOnly)
	priceLists.PUT("/:id/prices", h.UpsertPrice, adminOnly)
	priceLists.POST("/:id/default", h.SetDefaultPriceList, adminOnly)

	accounts := api.Group("/accounts")
	accounts.GET("", h.ListAccounts)
	accounts.POST("", h.CreateAccount)
	accounts.GET("/:id", h.GetAccount)
	accounts.POST("/:id/funds", h.AddFunds)
	accounts.PATCH("/:id/active", h.SetAccountActive, adminOnly)

	surveys := api.Group("/surveys")
	surveys.GET("", h.ListSurveys)
	surveys.GET("/stats", h.GetSurveyStats)

	users := api.Group("/users", adminOnly)
	users.GET("", h.ListUsers)
	users.POST("", h.CreateUser)
	users.PATCH("/:id/role", h.UpdateUserRole)
	users.DELETE("/:id", h.DeleteUser)

	promotions := api.Group("/promotions")
	promotions.GET("", h.ListPromotions)
	promotions.POST("", h.CreatePromotion, adminOnly)
	promotions.GET("/stats", h.GetVisitStats)
	promotions.PATCH("/offers/:offerID", h.UpdateOffer)
	promotions.PUT("/:id", h.UpdatePromotion, adminOnly)
	promotions.DELETE("/:id", h.DeletePromotion, adminOnly)
	promotions.GET("/:id/eligibility", h.CheckEligibility)
	promotions.POST("/:id/offers", h.CreateOffer)
	promotions.GET("/:id/offers/summary", h.GetOfferSummary)

	// Platform console - never touches a tenant or legacy store
	e.POST("/superadmin/login", h.SuperAdminLogin, limiter...)
	console := e.Group("/superadmin/tenants", middleware.RequireSuperAdmin(tokens))
	console.GET("", h.ListTenants)
	console.POST("", h.CreateTenant)
	console.GET("/:id", h.GetTenant)
	console.POST("/:id/provision", h.ProvisionTenant)
	console.PUT("/:id/connection", h.SetTenantConnection)
	console.POST("/:id/archive", h.ArchiveTenant)
	console.DELETE("/:id", h.PurgeTenant)
	console.GET("/:id/payments", h.ListTenantPayments)
	console.POST("/:id/payments", h.RecordPayment)
	console.POST("/:id/trial", h.ExtendTrial)

	return e
}

// rateLimiter limits each client IP to perSecond requests, allowing short bursts
func rateLimiter(perSecond float64) []echo.MiddlewareFunc {
	if perSecond <= 0 {
		return nil
	}

	store := echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
		Rate:  rate.Limit(perSecond),
		Burst: int(2*perSecond) + 1,
	})
	return []echo.MiddlewareFunc{echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			prometheus.RecordAuthError("rate_limited")
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"success": false,
				"error":   "too many attempts, please wait a moment",
				"code":    "RATE_LIMITED",
			})
		},
	})}
}

// errorHandler writes echo's own errors (unknown routes, malformed bodies, panics) in the
// API error envelope.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	he, ok := err.(*echo.HTTPError)
	if !ok {
		_ = apperr.Respond(c, err)
		return
	}

	message := http.StatusText(he.Code)
	if m, ok := he.Message.(string); ok && he.Code < http.StatusInternalServerError {
		message = m
	}

	code := apperr.CodeInternal
	switch he.Code {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		code = apperr.CodeValidation
	case http.StatusUnauthorized:
		code = apperr.CodeUnauthorized
	case http.StatusForbidden:
		code = apperr.CodeForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		code = apperr.CodeNotFound
	}
	if he.Code >= http.StatusInternalServerError {
		logger.FromContext(c).Error("Request failed", zap.Int("status", he.Code), zap.Error(err))
	}

	_ = c.JSON(he.Code, echo.Map{"success": false, "error": message, "code": code})
}
