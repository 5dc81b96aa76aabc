// Package directory is the control plane: it maps each tenant to its dedicated store and keeps
// the tenant's lifecycle, logins and payments.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/internal/provisioner"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
	"github.com/suteetoe/lavadero/pkg/logger"
	"github.com/suteetoe/lavadero/pkg/password"
	"github.com/suteetoe/lavadero/prometheus"
)

const maxSlugAttempts = 5

// Evictor drops cached handles of a store address
type Evictor interface {
	Evict(address string)
}

// Initializer prepares a freshly provisioned store, typically by creating its schema
type Initializer interface {
	InitStore(ctx context.Context, address string) error
}

// InitializerFunc adapts a function to Initializer
type InitializerFunc func(ctx context.Context, address string) error

// InitStore calls f
func (f InitializerFunc) InitStore(ctx context.Context, address string) error {
	return f(ctx, address)
}

// Service implements the tenant directory
type Service struct {
	repo        Repo
	provisioner provisioner.Provisioner
	evictor     Evictor
	initializer Initializer
	trialDays   int
	now         func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithEvictor closes cached connections when a tenant's address changes or is removed
func WithEvictor(e Evictor) Option {
	return func(s *Service) { s.evictor = e }
}

// WithInitializer runs i on every newly provisioned store
func WithInitializer(i Initializer) Option {
	return func(s *Service) { s.initializer = i }
}

// WithTrialDays sets the trial length of new tenants
func WithTrialDays(days int) Option {
	return func(s *Service) { s.trialDays = days }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a directory service
func NewService(repo Repo, p provisioner.Provisioner, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		provisioner: p,
		trialDays:   15,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LookupBySlug returns the tenant published under slug
func (s *Service) LookupBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	return s.repo.GetTenantBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
}

// LookupByID returns the tenant with id
func (s *Service) LookupByID(ctx context.Context, id uint) (*model.Tenant, error) {
	return s.repo.GetTenant(ctx, id)
}

// ListTenants returns every tenant, newest first
func (s *Service) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	return s.repo.ListTenants(ctx)
}

// Create registers a tenant under a unique slug derived from name. The tenant has no store
// address until it is provisioned.
func (s *Service) Create(ctx context.Context, name, plan string) (*model.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("business name is required")
	}
	if plan == "" {
		plan = model.PlanTrial
	}

	base := Slugify(name)
	expires := s.now().AddDate(0, 0, s.trialDays)

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		taken, err := s.repo.SlugsLike(ctx, base)
		if err != nil {
			return nil, apperr.Wrapf(err, "list slugs")
		}

		tenant := &model.Tenant{
			Name:      name,
			Slug:      nextFreeSlug(base, taken),
			State:     model.TenantActive,
			Plan:      plan,
			ExpiresAt: &expires,
		}
		err = s.repo.CreateTenant(ctx, tenant)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.FromCtx(ctx).Info("Slug taken concurrently, retrying", zap.String("slug", tenant.Slug))
			continue
		}
		if err != nil {
			return nil, apperr.Wrapf(err, "create tenant")
		}

		prometheus.RecordTenantOperation("create")
		return tenant, nil
	}

	return nil, apperr.Conflict("could not allocate a unique name for this business, please try again")
}

// Provision asks the provisioner for a dedicated store and records its address. The tenant is
// left unchanged when provisioning fails.
func (s *Service) Provision(ctx context.Context, id uint) (*model.Tenant, error) {
	tenant, err := s.repo.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenant.Archived() {
		return nil, apperr.Conflict("business is archived")
	}

	branch, err := s.provisioner.Provision(ctx, tenant.Slug)
	if err != nil {
		return nil, apperr.Wrapf(err, "provision tenant %s", tenant.Slug)
	}

	tenant.BranchURL = &branch.ConnectionURI
	tenant.BranchID = &branch.ID
	if err := s.repo.UpdateTenant(ctx, tenant); err != nil {
		logger.FromCtx(ctx).Error("Provisioned store not recorded; manual follow-up required",
			zap.Uint("tenant_id", tenant.ID),
			zap.String("branch_id", branch.ID),
			zap.Error(err))
		return nil, apperr.Wrapf(err, "record store address")
	}
	prometheus.RecordTenantOperation("provision")

	if s.initializer != nil {
		if err := s.initializer.InitStore(ctx, branch.ConnectionURI); err != nil {
			logger.FromCtx(ctx).Warn("Store schema initialization failed",
				zap.Uint("tenant_id", tenant.ID),
				zap.Error(err))
		}
	}

	return tenant, nil
}

// Register creates a tenant and provisions its store in the same call. A provisioning failure
// is logged and the tenant is returned without an address so it can be configured by hand.
func (s *Service) Register(ctx context.Context, name, plan string) (*model.Tenant, error) {
	tenant, err := s.Create(ctx, name, plan)
	if err != nil {
		return nil, err
	}

	provisioned, err := s.Provision(ctx, tenant.ID)
	if err != nil {
		logger.FromCtx(ctx).Warn("Tenant created without a dedicated store; needs manual configuration",
			zap.Uint("tenant_id", tenant.ID),
			zap.String("slug", tenant.Slug),
			zap.Error(err))
		return tenant, nil
	}
	return provisioned, nil
}

// SignupInput describes a new business and its first administrator
type SignupInput struct {
	Business string
	Name     string
	Email    string
	Password string
}

// Signup registers a business and its admin login
func (s *Service) Signup(ctx context.Context, in SignupInput) (*model.Tenant, *model.SystemUser, error) {
	email := normalizeEmail(in.Email)
	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return nil, nil, apperr.Conflict("an account with this email already exists")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, err
	}

	hash, err := password.Hash(in.Password)
	if errors.Is(err, password.ErrTooShort) {
		return nil, nil, apperr.Validation("password must be at least 6 characters")
	}
	if err != nil {
		return nil, nil, apperr.Wrapf(err, "hash password")
	}

	tenant, err := s.Register(ctx, in.Business, model.PlanTrial)
	if err != nil {
		return nil, nil, err
	}

	user := &model.SystemUser{
		TenantID:     tenant.ID,
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         jwtutil.RoleAdmin,
		Active:       true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, nil, apperr.Conflict("an account with this email already exists")
		}
		return nil, nil, apperr.Wrapf(err, "create admin user")
	}

	return tenant, user, nil
}

// SetConnectionAddress records a store address set by an operator
func (s *Service) SetConnectionAddress(ctx context.Context, id uint, address string) (*model.Tenant, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, apperr.Validation("connection address is required")
	}

	tenant, err := s.repo.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenant.Archived() {
		return nil, apperr.Conflict("business is archived")
	}

	previous := tenant.Address()
	tenant.BranchURL = &address
	if err := s.repo.UpdateTenant(ctx, tenant); err != nil {
		return nil, apperr.Wrapf(err, "update tenant %d", id)
	}

	if previous != "" && previous != address && s.evictor != nil {
		s.evictor.Evict(previous)
	}
	prometheus.RecordTenantOperation("set_address")
	return tenant, nil
}

// Archive clears the tenant's store address and marks it archived, then asks the provisioner
// to delete the store. A failed deletion does not undo the archive; the branch id is kept on
// the record for manual cleanup.
func (s *Service) Archive(ctx context.Context, id uint) (*model.Tenant, error) {
	log := logger.FromCtx(ctx)

	tenant, err := s.repo.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if tenant.Archived() {
		return tenant, nil
	}

	address := tenant.Address()
	tenant.BranchURL = nil
	tenant.State = model.TenantArchived
	if err := s.repo.UpdateTenant(ctx, tenant); err != nil {
		return nil, apperr.Wrapf(err, "archive tenant %d", id)
	}
	prometheus.RecordTenantOperation("archive")

	if address != "" && s.evictor != nil {
		s.evictor.Evict(address)
	}

	if tenant.BranchID == nil || *tenant.BranchID == "" {
		return tenant, nil
	}

	branchID := *tenant.BranchID
	if err := s.provisioner.Delete(ctx, branchID); err != nil {
		log.Warn("Archived tenant but could not delete its store; manual cleanup required",
			zap.Uint("tenant_id", tenant.ID),
			zap.String("slug", tenant.Slug),
			zap.String("branch_id", branchID),
			zap.Error(err))
		return tenant, nil
	}

	tenant.BranchID = nil
	if err := s.repo.UpdateTenant(ctx, tenant); err != nil {
		log.Warn("Store deleted but branch id not cleared",
			zap.Uint("tenant_id", tenant.ID),
			zap.String("branch_id", branchID),
			zap.Error(err))
	}
	return tenant, nil
}

// Purge permanently removes an archived tenant with its logins and payments
func (s *Service) Purge(ctx context.Context, id uint) error {
	tenant, err := s.repo.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	if !tenant.Archived() {
		return apperr.Conflict("only archived businesses can be purged")
	}

	if err := s.repo.DeleteTenant(ctx, id); err != nil {
		return apperr.Wrapf(err, "purge tenant %d", id)
	}
	logger.FromCtx(ctx).Warn("Tenant purged", zap.Uint("tenant_id", id), zap.String("slug", tenant.Slug))
	prometheus.RecordTenantOperation("purge")
	return nil
}

// ExtendTrial pushes the expiration of the tenant forward by days, counting from now when the
// tenant has already expired.
func (s *Service) ExtendTrial(ctx context.Context, id uint, days int) (*model.Tenant, error) {
	if days <= 0 {
		return nil, apperr.Validation("days must be greater than 0")
	}

	tenant, err := s.repo.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	expires := s.periodStart(tenant).AddDate(0, 0, days)
	tenant.ExpiresAt = &expires
	if err := s.repo.UpdateTenant(ctx, tenant); err != nil {
		return nil, apperr.Wrapf(err, "extend trial of tenant %d", id)
	}
	prometheus.RecordTenantOperation("extend_trial")
	return tenant, nil
}

func (s *Service) periodStart(tenant *model.Tenant) time.Time {
	now := s.now()
	if tenant.ExpiresAt != nil && tenant.ExpiresAt.After(now) {
		return *tenant.ExpiresAt
	}
	return now
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
