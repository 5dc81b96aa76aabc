package middleware

import (
	"context"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/resolver"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
	"github.com/suteetoe/lavadero/pkg/logger"
)

// Context keys set by the store middlewares
const (
	StoreKey    = "store"
	TenantIDKey = "tenant_id"
	UserIDKey   = "user_id"
	UserRoleKey = "user_role"
)

// Resolver picks the store of a request from its bearer token
type Resolver interface {
	Resolve(ctx context.Context, rawToken string) (*resolver.Store, error)
}

// SlugResolver picks a tenant's store from its public slug
type SlugResolver interface {
	ResolveSlug(ctx context.Context, slug string) (*resolver.Store, error)
}

// StoreMiddleware resolves the store of every request and puts it in the context. Missing or
// invalid tokens resolve to the legacy store; tenant resolution failures end the request.
func StoreMiddleware(r Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rawToken := jwtutil.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			store, err := r.Resolve(c.Request().Context(), rawToken)
			if err != nil {
				return apperr.Respond(c, err)
			}

			setStore(c, store)
			return next(c)
		}
	}
}

// SlugStoreMiddleware resolves the store of the tenant named by the path parameter param
func SlugStoreMiddleware(r SlugResolver, param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			store, err := r.ResolveSlug(c.Request().Context(), c.Param(param))
			if err != nil {
				return apperr.Respond(c, err)
			}
			setStore(c, store)
			return next(c)
		}
	}
}

func setStore(c echo.Context, store *resolver.Store) {
	c.Set(StoreKey, store)

	if store.Claims != nil {
		c.Set(UserIDKey, store.Claims.UserID)
		c.Set(UserRoleKey, store.Claims.Role)
	}
	if store.TenantID != nil {
		c.Set(TenantIDKey, *store.TenantID)
		logger.FromContext(c).Debug("Request bound to tenant store",
			zap.Uint("tenant_id", *store.TenantID),
			zap.String("tenant_slug", store.TenantSlug))
	}
}

// StoreFromContext returns the store resolved for the request, or nil outside the store
// middlewares.
func StoreFromContext(c echo.Context) *resolver.Store {
	store, _ := c.Get(StoreKey).(*resolver.Store)
	return store
}
