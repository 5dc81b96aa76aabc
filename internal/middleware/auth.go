package middleware

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
	"github.com/suteetoe/lavadero/pkg/logger"
	"github.com/suteetoe/lavadero/prometheus"
)

// ClaimsKey holds the verified claims of super-admin requests
const ClaimsKey = "claims"

// Decoder verifies session tokens
type Decoder interface {
	Decode(rawToken string) (*jwtutil.Claims, error)
}

// RequireAuth rejects requests that reached their store without a valid token. It must run
// after StoreMiddleware.
func RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		store := StoreFromContext(c)
		if !store.Authenticated() {
			reason := "invalid_token"
			if c.Request().Header.Get(echo.HeaderAuthorization) == "" {
				reason = "missing_token"
			}
			logger.FromContext(c).Info("Unauthenticated request rejected", zap.String("reason", reason))
			prometheus.RecordAuthError(reason)
			return apperr.Respond(c, apperr.Unauthorized("please sign in again"))
		}
		// console tokens carry no tenant and would otherwise read the legacy store
		if store.Claims.Role == jwtutil.RoleSuperAdmin {
			prometheus.RecordAuthError("insufficient_role")
			return apperr.Respond(c, apperr.Forbidden("console sessions cannot access business data"))
		}
		return next(c)
	}
}

// RequireRole only lets through users holding one of roles. It must run after RequireAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			store := StoreFromContext(c)
			if store.Authenticated() {
				for _, role := range roles {
					if store.Claims.Role == role {
						return next(c)
					}
				}
			}

			prometheus.RecordAuthError("insufficient_role")
			return apperr.Respond(c, apperr.Forbidden("you do not have permission to perform this action"))
		}
	}
}

// RequireSuperAdmin verifies the bearer token itself and only lets through the platform
// console. These requests never touch a tenant or legacy store.
func RequireSuperAdmin(tokens Decoder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			rawToken := jwtutil.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if rawToken == "" {
				prometheus.RecordAuthError("missing_token")
				return apperr.Respond(c, apperr.ErrUnauthorized)
			}

			claims, err := tokens.Decode(rawToken)
			if err != nil {
				log.Info("Invalid console token", zap.Error(err))
				prometheus.RecordAuthError("invalid_token")
				return apperr.Respond(c, apperr.Unauthorized("please sign in again"))
			}
			if claims.Role != jwtutil.RoleSuperAdmin {
				log.Warn("Console access denied", zap.String("email", claims.Email), zap.String("role", claims.Role))
				prometheus.RecordAuthError("insufficient_role")
				return apperr.Respond(c, apperr.ErrForbidden)
			}

			c.Set(ClaimsKey, claims)
			return next(c)
		}
	}
}
