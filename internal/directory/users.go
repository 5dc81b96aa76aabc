package directory

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
	"github.com/suteetoe/lavadero/pkg/password"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a wrong password
var ErrInvalidCredentials = apperr.Unauthorized("invalid email or password")

// UserInput describes a login of a tenant
type UserInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Authenticate checks a control-plane login. It returns an apperr not-found error when no
// system user has the email, so callers can try other user stores.
func (s *Service) Authenticate(ctx context.Context, email, plain string) (*model.SystemUser, *model.Tenant, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, nil, err
	}
	if !password.Check(plain, user.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, nil, apperr.Forbidden("this user has been disabled")
	}

	tenant := user.Tenant
	if tenant == nil {
		if tenant, err = s.repo.GetTenant(ctx, user.TenantID); err != nil {
			return nil, nil, err
		}
	}
	if tenant.Archived() {
		return nil, nil, apperr.Forbidden("this business has been archived")
	}

	return user, tenant, nil
}

// ListUsers returns the logins of a tenant
func (s *Service) ListUsers(ctx context.Context, tenantID uint) ([]model.SystemUser, error) {
	return s.repo.ListUsers(ctx, tenantID)
}

// CreateUser adds a login to a tenant
func (s *Service) CreateUser(ctx context.Context, tenantID uint, in UserInput) (*model.SystemUser, error) {
	role, err := checkRole(in.Role)
	if err != nil {
		return nil, err
	}

	hash, err := password.Hash(in.Password)
	if errors.Is(err, password.ErrTooShort) {
		return nil, apperr.Validation("password must be at least 6 characters")
	}
	if err != nil {
		return nil, apperr.Wrapf(err, "hash password")
	}

	user := &model.SystemUser{
		TenantID:     tenantID,
		Email:        normalizeEmail(in.Email),
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("a user with this email already exists")
		}
		return nil, apperr.Wrapf(err, "create user")
	}
	return user, nil
}

// UpdateUserRole changes the role of a login that belongs to tenantID
func (s *Service) UpdateUserRole(ctx context.Context, tenantID, userID uint, role string) (*model.SystemUser, error) {
	role, err := checkRole(role)
	if err != nil {
		return nil, err
	}

	user, err := s.tenantUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	user.Role = role
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, apperr.Wrapf(err, "update user %d", userID)
	}
	return user, nil
}

// DeleteUser removes a login that belongs to tenantID
func (s *Service) DeleteUser(ctx context.Context, tenantID, userID uint) error {
	if _, err := s.tenantUser(ctx, tenantID, userID); err != nil {
		return err
	}
	return s.repo.DeleteUser(ctx, userID)
}

// tenantUser hides users of other tenants behind a not-found error
func (s *Service) tenantUser(ctx context.Context, tenantID, userID uint) (*model.SystemUser, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TenantID != tenantID {
		return nil, apperr.NotFound("user")
	}
	return user, nil
}

func checkRole(role string) (string, error) {
	switch role {
	case "":
		return jwtutil.RoleOperator, nil
	case jwtutil.RoleAdmin, jwtutil.RoleOperator:
		return role, nil
	default:
		return "", apperr.Validation("role must be admin or operador")
	}
}
