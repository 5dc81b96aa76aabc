// Package resolver routes every request to the store it must read and write.
//
// Routing follows a fixed order. A missing or undecodable token, or a token without a tenant
// id, selects the shared legacy store; that path never checks reachability, so an outage of
// the legacy store surfaces on the first query and not as a resolution error. A tenant token selects the dedicated store named by its
// branch_url claim and never falls back: an empty address is ErrTenantNotProvisioned and an
// address that cannot be reached is ErrTenantStoreUnreachable.
package resolver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
	"github.com/suteetoe/lavadero/pkg/logger"
	"github.com/suteetoe/lavadero/prometheus"
)

// Decoder verifies session tokens
type Decoder interface {
	Decode(rawToken string) (*jwtutil.Claims, error)
}

// Connector hands out handles for connection addresses. Get checks the store answers, Handle
// only builds or reuses the handle.
type Connector interface {
	Get(ctx context.Context, address string) (*gorm.DB, error)
	Handle(address string) (*gorm.DB, error)
}

// Directory finds tenants by slug for requests that carry no token
type Directory interface {
	LookupBySlug(ctx context.Context, slug string) (*model.Tenant, error)
}

// Store is the store bound to one request
type Store struct {
	DB      *gorm.DB
	Address string
	Legacy  bool

	// Claims is nil when the request carried no valid token
	Claims *jwtutil.Claims

	TenantID   *uint
	TenantSlug string
}

// IsTenant reports whether the store is a tenant's dedicated store
func (s *Store) IsTenant() bool {
	return s != nil && !s.Legacy && s.TenantID != nil
}

// Authenticated reports whether the request carried a valid token
func (s *Store) Authenticated() bool {
	return s != nil && s.Claims != nil
}

// Resolver picks the store for a request
type Resolver struct {
	tokens        Decoder
	stores        Connector
	directory     Directory
	legacyAddress string
	timeout       time.Duration
}

// Option configures a Resolver
type Option func(*Resolver)

// WithTimeout bounds how long reaching a store may take
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithDirectory enables ResolveSlug
func WithDirectory(d Directory) Option {
	return func(r *Resolver) { r.directory = d }
}

// New creates a resolver. legacyAddress is the shared store used for requests without a tenant.
func New(tokens Decoder, stores Connector, legacyAddress string, opts ...Option) *Resolver {
	r := &Resolver{
		tokens:        tokens,
		stores:        stores,
		legacyAddress: legacyAddress,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the store for rawToken. An empty rawToken means no token was sent.
func (r *Resolver) Resolve(ctx context.Context, rawToken string) (*Store, error) {
	log := logger.FromCtx(ctx)

	if rawToken == "" {
		prometheus.RecordResolution(prometheus.ResolvedLegacyNoToken)
		return r.legacy(ctx, nil)
	}

	claims, err := r.tokens.Decode(rawToken)
	if err != nil {
		log.Debug("Token rejected, using legacy store", zap.Error(err))
		prometheus.RecordResolution(prometheus.ResolvedLegacyInvalidToken)
		return r.legacy(ctx, nil)
	}

	if !claims.HasTenant() {
		prometheus.RecordResolution(prometheus.ResolvedLegacyNoTenant)
		return r.legacy(ctx, claims)
	}

	if claims.BranchURL == "" {
		log.Warn("Tenant token without store address",
			zap.Uint("tenant_id", *claims.TenantID),
			zap.String("tenant_slug", claims.TenantSlug))
		prometheus.RecordResolution(prometheus.ResolvedNotProvisioned)
		return nil, apperr.Wrapf(apperr.ErrTenantNotProvisioned, "tenant %d", *claims.TenantID)
	}

	db, err := r.open(ctx, claims.BranchURL)
	if err != nil {
		log.Error("Tenant store unreachable",
			zap.Uint("tenant_id", *claims.TenantID),
			zap.String("tenant_slug", claims.TenantSlug),
			zap.Error(err))
		prometheus.RecordResolution(prometheus.ResolvedUnreachable)
		return nil, unreachable(err, *claims.TenantID)
	}

	prometheus.RecordResolution(prometheus.ResolvedTenant)
	return &Store{
		DB:         db,
		Address:    claims.BranchURL,
		Claims:     claims,
		TenantID:   claims.TenantID,
		TenantSlug: claims.TenantSlug,
	}, nil
}

// ResolveSlug returns the dedicated store of the tenant published under slug. It serves
// unauthenticated links and never falls back to the legacy store.
func (r *Resolver) ResolveSlug(ctx context.Context, slug string) (*Store, error) {
	if r.directory == nil {
		return nil, errors.New("resolver has no tenant directory")
	}

	tenant, err := r.directory.LookupBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if tenant.Archived() {
		return nil, apperr.NotFound("business")
	}
	if !tenant.Provisioned() {
		prometheus.RecordResolution(prometheus.ResolvedNotProvisioned)
		return nil, apperr.Wrapf(apperr.ErrTenantNotProvisioned, "tenant %s", tenant.Slug)
	}

	db, err := r.open(ctx, tenant.Address())
	if err != nil {
		logger.FromCtx(ctx).Error("Tenant store unreachable",
			zap.Uint("tenant_id", tenant.ID),
			zap.String("tenant_slug", tenant.Slug),
			zap.Error(err))
		prometheus.RecordResolution(prometheus.ResolvedUnreachable)
		return nil, unreachable(err, tenant.ID)
	}

	prometheus.RecordResolution(prometheus.ResolvedTenant)
	id := tenant.ID
	return &Store{
		DB:         db,
		Address:    tenant.Address(),
		TenantID:   &id,
		TenantSlug: tenant.Slug,
	}, nil
}

// legacy binds the request to the shared store. Only a misconfigured address fails here.
func (r *Resolver) legacy(ctx context.Context, claims *jwtutil.Claims) (*Store, error) {
	db, err := r.stores.Handle(r.legacyAddress)
	if err != nil {
		return nil, apperr.Wrapf(errors.Join(apperr.ErrStoreUnavailable, err), "open legacy store")
	}
	return &Store{
		DB:      db.WithContext(ctx),
		Address: r.legacyAddress,
		Legacy:  true,
		Claims:  claims,
	}, nil
}

// open reaches address within the configured timeout and returns a handle bound to ctx
func (r *Resolver) open(ctx context.Context, address string) (*gorm.DB, error) {
	connectCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	db, err := r.stores.Get(connectCtx, address)
	if err != nil {
		return nil, err
	}
	return db.WithContext(ctx), nil
}

func unreachable(cause error, tenantID uint) error {
	if errors.Is(cause, apperr.ErrTenantStoreUnreachable) {
		return cause
	}
	return apperr.Wrapf(errors.Join(apperr.ErrTenantStoreUnreachable, cause), "tenant %d", tenantID)
}
