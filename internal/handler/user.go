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
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
	"github.com/suteetoe/lavadero/pkg/logger"
	"github.com/suteetoe/lavadero/pkg/password"
)

// CreateUserRequest adds a login to the current business
type CreateUserRequest struct {
	Name     string `json:"name" validate:"max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"omitempty,oneof=admin operador"`
}

// UpdateRoleRequest changes the role of a login
type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin operador"`
}

// Users of a tenant live in the control plane, users of the legacy deployment in its store.

// ListUsers lists the logins of the current business
func (h *Handler) ListUsers(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	views := []userView{}
	if store.IsTenant() {
		users, err := h.Directory.ListUsers(c.Request().Context(), *store.TenantID)
		if err != nil {
			return respond(c, err)
		}
		for _, u := range users {
			views = append(views, userView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role})
		}
	} else {
		var users []model.User
		if err := store.DB.Order("email").Find(&users).Error; err != nil {
			return respond(c, apperr.Wrapf(err, "list legacy users"))
		}
		for _, u := range users {
			views = append(views, userView{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role})
		}
	}
	return success(c, http.StatusOK, echo.Map{"users": views})
}

// CreateUser adds a login to the current business
func (h *Handler) CreateUser(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	var req CreateUserRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	var view userView
	if store.IsTenant() {
		user, err := h.Directory.CreateUser(c.Request().Context(), *store.TenantID, directory.UserInput{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Role:     req.Role,
		})
		if err != nil {
			return respond(c, err)
		}
		view = userView{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role}
	} else {
		hash, err := password.Hash(req.Password)
		if err != nil {
			return respond(c, apperr.Wrapf(err, "hash password"))
		}
		role := req.Role
		if role == "" {
			role = jwtutil.RoleOperator
		}
		user := &model.User{
			Email:        strings.ToLower(strings.TrimSpace(req.Email)),
			Name:         strings.TrimSpace(req.Name),
			PasswordHash: hash,
			Role:         role,
			Active:       true,
		}
		if err := store.DB.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return respond(c, apperr.Conflict("a user with this email already exists"))
			}
			return respond(c, apperr.Wrapf(err, "create legacy user"))
		}
		view = userView{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role}
	}

	logger.FromContext(c).Info("User created",
		zap.Uint("user_id", view.ID),
		zap.String("role", view.Role),
		zap.Bool("legacy", store.Legacy))
	return success(c, http.StatusCreated, echo.Map{"user": view})
}

// UpdateUserRole changes the role of a login of the current business
func (h *Handler) UpdateUserRole(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var req UpdateRoleRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}
	if id == currentUserID(c) && req.Role != jwtutil.RoleAdmin {
		return respond(c, apperr.Conflict("you cannot remove your own admin role"))
	}

	if store.IsTenant() {
		user, err := h.Directory.UpdateUserRole(c.Request().Context(), *store.TenantID, id, req.Role)
		if err != nil {
			return respond(c, err)
		}
		return success(c, http.StatusOK, echo.Map{"user": userView{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role}})
	}

	var user model.User
	if err := store.DB.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respond(c, apperr.NotFound("user"))
		}
		return respond(c, apperr.Wrapf(err, "find legacy user %d", id))
	}
	if err := store.DB.Model(&user).Update("role", req.Role).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "update legacy user %d", id))
	}
	return success(c, http.StatusOK, echo.Map{"user": userView{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role}})
}

// DeleteUser removes a login of the current business. Users cannot delete themselves.
func (h *Handler) DeleteUser(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	if id == currentUserID(c) {
		return respond(c, apperr.Conflict("you cannot delete your own user"))
	}

	if store.IsTenant() {
		if err := h.Directory.DeleteUser(c.Request().Context(), *store.TenantID, id); err != nil {
			return respond(c, err)
		}
	} else {
		result := store.DB.Delete(&model.User{}, id)
		if result.Error != nil {
			return respond(c, apperr.Wrapf(result.Error, "delete legacy user %d", id))
		}
		if result.RowsAffected == 0 {
			return respond(c, apperr.NotFound("user"))
		}
	}
	return success(c, http.StatusOK, echo.Map{"deleted": id})
}
