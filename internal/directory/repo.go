package directory

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/prometheus"
)

// Repo persists the control plane: tenants, their system users and their payments.
// Lookups of missing rows return apperr not-found errors; unique violations return
// gorm.ErrDuplicatedKey.
type Repo interface {
	GetTenant(ctx context.Context, id uint) (*model.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	// SlugsLike returns base and every slug of the form base-*
	SlugsLike(ctx context.Context, base string) ([]string, error)
	CreateTenant(ctx context.Context, tenant *model.Tenant) error
	UpdateTenant(ctx context.Context, tenant *model.Tenant) error
	// DeleteTenant removes the tenant with its users and payments
	DeleteTenant(ctx context.Context, id uint) error

	GetUser(ctx context.Context, id uint) (*model.SystemUser, error)
	GetUserByEmail(ctx context.Context, email string) (*model.SystemUser, error)
	ListUsers(ctx context.Context, tenantID uint) ([]model.SystemUser, error)
	CreateUser(ctx context.Context, user *model.SystemUser) error
	UpdateUser(ctx context.Context, user *model.SystemUser) error
	DeleteUser(ctx context.Context, id uint) error

	// SavePayment stores payment and the tenant's new plan and expiration together
	SavePayment(ctx context.Context, payment *model.Payment, tenant *model.Tenant) error
	ListPayments(ctx context.Context, tenantID uint) ([]model.Payment, error)
}

type gormRepo struct {
	db *gorm.DB
}

// NewGormRepo returns a Repo backed by the control-plane store
func NewGormRepo(db *gorm.DB) Repo {
	return &gormRepo{db: db}
}

func notFound(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(entity)
	}
	return err
}

func (r *gormRepo) GetTenant(ctx context.Context, id uint) (*model.Tenant, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var tenant model.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		return nil, notFound(err, "business")
	}
	return &tenant, nil
}

func (r *gormRepo) GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var tenant model.Tenant
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&tenant).Error; err != nil {
		return nil, notFound(err, "business")
	}
	return &tenant, nil
}

func (r *gormRepo) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var tenants []model.Tenant
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

func (r *gormRepo) SlugsLike(ctx context.Context, base string) ([]string, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var slugs []string
	err := r.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("slug = ? OR slug LIKE ?", base, base+"-%").
		Pluck("slug", &slugs).Error
	return slugs, err
}

func (r *gormRepo) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	return r.db.WithContext(ctx).Create(tenant).Error
}

func (r *gormRepo) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	defer prometheus.TrackDBOperation("update")(time.Now())
	return r.db.WithContext(ctx).Save(tenant).Error
}

func (r *gormRepo) DeleteTenant(ctx context.Context, id uint) error {
	defer prometheus.TrackDBOperation("delete")(time.Now())

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", id).Delete(&model.SystemUser{}).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ?", id).Delete(&model.Payment{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.Tenant{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.NotFound("business")
		}
		return nil
	})
}

func (r *gormRepo) GetUser(ctx context.Context, id uint) (*model.SystemUser, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var user model.SystemUser
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (r *gormRepo) GetUserByEmail(ctx context.Context, email string) (*model.SystemUser, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var user model.SystemUser
	if err := r.db.WithContext(ctx).Preload("Tenant").Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

func (r *gormRepo) ListUsers(ctx context.Context, tenantID uint) ([]model.SystemUser, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var users []model.SystemUser
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at ASC").Find(&users).Error
	return users, err
}

func (r *gormRepo) CreateUser(ctx context.Context, user *model.SystemUser) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *gormRepo) UpdateUser(ctx context.Context, user *model.SystemUser) error {
	defer prometheus.TrackDBOperation("update")(time.Now())
	return r.db.WithContext(ctx).Omit("Tenant").Save(user).Error
}

func (r *gormRepo) DeleteUser(ctx context.Context, id uint) error {
	defer prometheus.TrackDBOperation("delete")(time.Now())

	result := r.db.WithContext(ctx).Delete(&model.SystemUser{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *gormRepo) SavePayment(ctx context.Context, payment *model.Payment, tenant *model.Tenant) error {
	defer prometheus.TrackDBOperation("insert")(time.Now())

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payment).Error; err != nil {
			return err
		}
		return tx.Model(&model.Tenant{}).Where("id = ?", tenant.ID).Updates(map[string]interface{}{
			"plan":       tenant.Plan,
			"expires_at": tenant.ExpiresAt,
		}).Error
	})
}

func (r *gormRepo) ListPayments(ctx context.Context, tenantID uint) ([]model.Payment, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var payments []model.Payment
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Find(&payments).Error
	return payments, err
}
