package jwtutil

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in session tokens.
const (
	RoleAdmin      = "admin"
	RoleOperator   = "operador"
	RoleSuperAdmin = "superadmin"
)

// ErrInvalidToken is returned for every decode failure: missing, malformed, badly signed or
// expired tokens are indistinguishable to callers.
var ErrInvalidToken = errors.New("invalid or expired token")

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey string
	TTL        time.Duration
}

// Claims are the verified contents of a session token. A nil TenantID means the token belongs
// to the legacy single-tenant deployment.
type Claims struct {
	TenantID   *uint  `json:"tenant_id,omitempty"`
	TenantSlug string `json:"tenant_slug,omitempty"`
	UserID     uint   `json:"user_id"`
	Email      string `json:"email"`
	Role       string `json:"role,omitempty"`
	// BranchURL is the dedicated store address, copied from the directory at login so that
	// resolving a request needs no directory round trip.
	BranchURL string `json:"branch_url,omitempty"`
	jwt.RegisteredClaims
}

// HasTenant reports whether the claims identify a tenant
func (c *Claims) HasTenant() bool {
	return c != nil && c.TenantID != nil
}

// JWTUtil encodes and decodes session tokens
type JWTUtil struct {
	config *JWTConfig
	now    func() time.Time
}

// NewJWTUtil creates a new JWT utility with the given configuration
func NewJWTUtil(config *JWTConfig) *JWTUtil {
	return &JWTUtil{
		config: config,
		now:    time.Now,
	}
}

// WithClock returns a copy of the utility reading time from now. Used by tests.
func (j *JWTUtil) WithClock(now func() time.Time) *JWTUtil {
	return &JWTUtil{config: j.config, now: now}
}

// Encode signs a token for the given claims. Registered claims are overwritten so every token
// carries the configured validity window.
func (j *JWTUtil) Encode(claims Claims) (string, error) {
	if j.config == nil || j.config.SigningKey == "" {
		return "", errors.New("JWT configuration not provided")
	}

	issuedAt := j.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(j.config.TTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.config.SigningKey))
}

// Refresh reissues a token with identical claims and a new validity window
func (j *JWTUtil) Refresh(claims *Claims) (string, error) {
	if claims == nil {
		return "", ErrInvalidToken
	}
	return j.Encode(*claims)
}

// Decode verifies the signature and expiry of rawToken and returns its claims
func (j *JWTUtil) Decode(rawToken string) (*Claims, error) {
	if j.config == nil || j.config.SigningKey == "" || strings.TrimSpace(rawToken) == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(
		rawToken,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(j.config.SigningKey), nil
		},
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// IsTenantRequest reports whether rawToken decodes and carries a tenant id
func (j *JWTUtil) IsTenantRequest(rawToken string) bool {
	claims, err := j.Decode(rawToken)
	return err == nil && claims.HasTenant()
}

// BearerToken extracts the token from an Authorization header value. A missing or malformed
// header yields "".
func BearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
