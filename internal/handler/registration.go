package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/pkg/logger"
	"github.com/suteetoe/lavadero/prometheus"
)

const maxListedRegistrations = 500

// CreateRegistrationRequest takes a vehicle in. Price defaults to the account's or the
// default price list.
type CreateRegistrationRequest struct {
	Plate       string   `json:"plate" validate:"required,max=20"`
	Brand       string   `json:"brand" validate:"max=60"`
	VehicleType string   `json:"vehicle_type" validate:"required,max=40"`
	WashType    string   `json:"wash_type" validate:"required,max=40"`
	Phone       string   `json:"phone" validate:"max=30"`
	Price       *float64 `json:"price" validate:"omitempty,gte=0"`
	AccountID   *uint    `json:"account_id"`
	Notes       string   `json:"notes" validate:"max=1000"`
}

// UpdateStatusRequest moves a registration forward. An empty status advances it one step.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=listo entregado"`
}

func findRegistration(db *gorm.DB, id uint) (*model.Registration, error) {
	var reg model.Registration
	if err := db.First(&reg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("registration")
		}
		return nil, err
	}
	return &reg, nil
}

// ListRegistrations lists registrations, newest first, filtered by status, plate and date
func (h *Handler) ListRegistrations(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	from, err := parseDate(c.QueryParam("from"))
	if err != nil {
		return respond(c, err)
	}
	to, err := parseDate(c.QueryParam("to"))
	if err != nil {
		return respond(c, err)
	}

	query := store.DB.Model(&model.Registration{})
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if plate := normalizePlate(c.QueryParam("plate")); plate != "" {
		query = query.Where("plate = ?", plate)
	}
	if c.QueryParam("include_cancelled") != "true" {
		query = query.Where("cancelled = ?", false)
	}
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at < ?", to.AddDate(0, 0, 1))
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var registrations []model.Registration
	if err := query.Order("created_at DESC").Limit(maxListedRegistrations).Find(&registrations).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "list registrations"))
	}

	return success(c, http.StatusOK, echo.Map{"registrations": registrations})
}

// GetRegistration returns one registration
func (h *Handler) GetRegistration(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	reg, err := findRegistration(store.DB, id)
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"registration": reg})
}

// CreateRegistration takes a vehicle in, charging its account when one is given
func (h *Handler) CreateRegistration(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	var req CreateRegistrationRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	reg := &model.Registration{
		Plate:       normalizePlate(req.Plate),
		Brand:       req.Brand,
		VehicleType: req.VehicleType,
		WashType:    req.WashType,
		Phone:       req.Phone,
		AccountID:   req.AccountID,
		Status:      model.StatusInProgress,
		Notes:       req.Notes,
		CreatedBy:   currentUserID(c),
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	err = store.DB.Transaction(func(tx *gorm.DB) error {
		if req.Price != nil {
			reg.Price = *req.Price
		} else {
			price, err := lookupPrice(tx, req.VehicleType, req.WashType, req.AccountID)
			if err != nil {
				return err
			}
			reg.Price = price
		}

		if err := tx.Create(reg).Error; err != nil {
			return err
		}

		if reg.AccountID != nil {
			note := fmt.Sprintf("lavado %s %s", reg.WashType, reg.Plate)
			if _, err := applyMovement(tx, *reg.AccountID, model.MovementDebit, reg.Price, &reg.ID, note, reg.CreatedBy); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return respond(c, err)
	}

	logger.FromContext(c).Info("Vehicle registered",
		zap.Uint("registration_id", reg.ID),
		zap.String("plate", reg.Plate))
	return success(c, http.StatusCreated, echo.Map{"registration": reg})
}

// UpdateRegistrationStatus moves a registration to its next status
func (h *Handler) UpdateRegistrationStatus(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var req UpdateStatusRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	reg, err := findRegistration(store.DB, id)
	if err != nil {
		return respond(c, err)
	}
	if reg.Cancelled {
		return respond(c, apperr.Conflict("registration is cancelled"))
	}

	next := model.NextStatus(reg.Status)
	if next == "" {
		return respond(c, apperr.Conflict("registration was already delivered"))
	}
	if req.Status != "" && req.Status != next {
		return respond(c, apperr.Validation(fmt.Sprintf("registration can only move from %s to %s", reg.Status, next)))
	}

	now := h.Now()
	updates := map[string]interface{}{"status": next}
	switch next {
	case model.StatusReady:
		updates["ready_at"] = now
	case model.StatusDelivered:
		updates["delivered_at"] = now
	}

	defer prometheus.TrackDBOperation("update")(time.Now())

	if err := store.DB.Model(reg).Updates(updates).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "update registration %d", id))
	}
	return success(c, http.StatusOK, echo.Map{"registration": reg})
}

// CancelRegistration marks a registration cancelled and refunds its account
func (h *Handler) CancelRegistration(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var reg *model.Registration
	err = store.DB.Transaction(func(tx *gorm.DB) error {
		reg, err = findRegistration(tx, id)
		if err != nil {
			return err
		}
		if reg.Cancelled {
			return apperr.Conflict("registration is already cancelled")
		}
		if reg.Status == model.StatusDelivered {
			return apperr.Conflict("delivered registrations cannot be cancelled")
		}

		if reg.AccountID != nil && reg.Price > 0 {
			note := fmt.Sprintf("anulación registro #%d", reg.ID)
			if _, err := applyMovement(tx, *reg.AccountID, model.MovementCredit, reg.Price, &reg.ID, note, currentUserID(c)); err != nil {
				return err
			}
		}
		return tx.Model(reg).Update("cancelled", true).Error
	})
	if err != nil {
		return respond(c, err)
	}

	return success(c, http.StatusOK, echo.Map{"registration": reg})
}

// DeleteRegistration removes a registration. When it was charged to an account, the charge is
// reversed in the same transaction as the delete.
func (h *Handler) DeleteRegistration(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())

	err = store.DB.Transaction(func(tx *gorm.DB) error {
		reg, err := findRegistration(tx, id)
		if err != nil {
			return err
		}
		if err := removeCharge(tx, reg); err != nil {
			return err
		}
		if err := tx.Where("registration_id = ?", reg.ID).Delete(&model.Survey{}).Error; err != nil {
			return err
		}
		return tx.Delete(reg).Error
	})
	if err != nil {
		return respond(c, err)
	}

	logger.FromContext(c).Info("Registration deleted", zap.Uint("registration_id", id))
	return success(c, http.StatusOK, echo.Map{"deleted": id})
}
