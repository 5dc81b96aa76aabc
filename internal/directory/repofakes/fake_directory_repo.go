// Package repofakes holds an in-memory directory.Repo for tests.
package repofakes

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/directory"
	"github.com/suteetoe/lavadero/internal/model"
)

var _ directory.Repo = (*FakeDirectoryRepo)(nil)

type FakeDirectoryRepo struct {
	tenants  map[uint]model.Tenant
	users    map[uint]model.SystemUser
	payments []model.Payment
	nextID   uint
	lock     sync.RWMutex

	// StaleSlugReads makes the next SlugsLike calls report no taken slugs, as a concurrent
	// signup would.
	StaleSlugReads int
}

func NewFakeDirectoryRepo() *FakeDirectoryRepo {
	return &FakeDirectoryRepo{
		tenants: make(map[uint]model.Tenant),
		users:   make(map[uint]model.SystemUser),
	}
}

func (r *FakeDirectoryRepo) id() uint {
	r.nextID++
	return r.nextID
}

func (r *FakeDirectoryRepo) GetTenant(ctx context.Context, id uint) (*model.Tenant, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	tenant, ok := r.tenants[id]
	if !ok {
		return nil, apperr.NotFound("business")
	}
	return &tenant, nil
}

func (r *FakeDirectoryRepo) GetTenantBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for _, tenant := range r.tenants {
		if tenant.Slug == slug {
			return &tenant, nil
		}
	}
	return nil, apperr.NotFound("business")
}

func (r *FakeDirectoryRepo) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	tenants := make([]model.Tenant, 0, len(r.tenants))
	for _, tenant := range r.tenants {
		tenants = append(tenants, tenant)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].ID > tenants[j].ID })
	return tenants, nil
}

func (r *FakeDirectoryRepo) SlugsLike(ctx context.Context, base string) ([]string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.StaleSlugReads > 0 {
		r.StaleSlugReads--
		return nil, nil
	}

	var slugs []string
	for _, tenant := range r.tenants {
		if tenant.Slug == base || strings.HasPrefix(tenant.Slug, base+"-") {
			slugs = append(slugs, tenant.Slug)
		}
	}
	return slugs, nil
}

func (r *FakeDirectoryRepo) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, existing := range r.tenants {
		if existing.Slug == tenant.Slug {
			return gorm.ErrDuplicatedKey
		}
	}

	tenant.ID = r.id()
	tenant.CreatedAt = time.Now()
	tenant.UpdatedAt = tenant.CreatedAt
	r.tenants[tenant.ID] = *tenant
	return nil
}

func (r *FakeDirectoryRepo) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.tenants[tenant.ID]; !ok {
		return apperr.NotFound("business")
	}
	tenant.UpdatedAt = time.Now()
	r.tenants[tenant.ID] = *tenant
	return nil
}

func (r *FakeDirectoryRepo) DeleteTenant(ctx context.Context, id uint) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.tenants[id]; !ok {
		return apperr.NotFound("business")
	}
	delete(r.tenants, id)
	for userID, user := range r.users {
		if user.TenantID == id {
			delete(r.users, userID)
		}
	}
	kept := r.payments[:0]
	for _, p := range r.payments {
		if p.TenantID != id {
			kept = append(kept, p)
		}
	}
	r.payments = kept
	return nil
}

func (r *FakeDirectoryRepo) GetUser(ctx context.Context, id uint) (*model.SystemUser, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return &user, nil
}

func (r *FakeDirectoryRepo) GetUserByEmail(ctx context.Context, email string) (*model.SystemUser, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for _, user := range r.users {
		if user.Email == email {
			if tenant, ok := r.tenants[user.TenantID]; ok {
				user.Tenant = &tenant
			}
			return &user, nil
		}
	}
	return nil, apperr.NotFound("user")
}

func (r *FakeDirectoryRepo) ListUsers(ctx context.Context, tenantID uint) ([]model.SystemUser, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var users []model.SystemUser
	for _, user := range r.users {
		if user.TenantID == tenantID {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *FakeDirectoryRepo) CreateUser(ctx context.Context, user *model.SystemUser) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, existing := range r.users {
		if existing.Email == user.Email {
			return gorm.ErrDuplicatedKey
		}
	}

	user.ID = r.id()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	stored.Tenant = nil
	r.users[user.ID] = stored
	return nil
}

func (r *FakeDirectoryRepo) UpdateUser(ctx context.Context, user *model.SystemUser) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return apperr.NotFound("user")
	}
	user.UpdatedAt = time.Now()
	stored := *user
	stored.Tenant = nil
	r.users[user.ID] = stored
	return nil
}

func (r *FakeDirectoryRepo) DeleteUser(ctx context.Context, id uint) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.users[id]; !ok {
		return apperr.NotFound("user")
	}
	delete(r.users, id)
	return nil
}

func (r *FakeDirectoryRepo) SavePayment(ctx context.Context, payment *model.Payment, tenant *model.Tenant) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	stored, ok := r.tenants[tenant.ID]
	if !ok {
		return apperr.NotFound("business")
	}
	stored.Plan = tenant.Plan
	stored.ExpiresAt = tenant.ExpiresAt
	r.tenants[tenant.ID] = stored

	payment.ID = r.id()
	payment.CreatedAt = time.Now()
	r.payments = append(r.payments, *payment)
	return nil
}

func (r *FakeDirectoryRepo) ListPayments(ctx context.Context, tenantID uint) ([]model.Payment, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var payments []model.Payment
	for i := len(r.payments) - 1; i >= 0; i-- {
		if r.payments[i].TenantID == tenantID {
			payments = append(payments, r.payments[i])
		}
	}
	return payments, nil
}
