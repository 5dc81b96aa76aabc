package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/prometheus"
)

// CreatePriceListRequest creates a price list
type CreatePriceListRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	IsDefault bool   `json:"is_default"`
}

// UpsertPriceRequest sets the amount of one vehicle/wash combination
type UpsertPriceRequest struct {
	VehicleType string  `json:"vehicle_type" validate:"required,max=40"`
	WashType    string  `json:"wash_type" validate:"required,max=40"`
	Amount      float64 `json:"amount" validate:"gte=0"`
}

// lookupPrice returns the amount for a vehicle/wash pair from the account's price list, or
// from the default list when the account has none.
func lookupPrice(db *gorm.DB, vehicleType, washType string, accountID *uint) (float64, error) {
	var listID uint

	if accountID != nil {
		var account model.Account
		if err := db.Select("id", "price_list_id").First(&account, *accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, apperr.NotFound("account")
			}
			return 0, err
		}
		if account.PriceListID != nil {
			listID = *account.PriceListID
		}
	}

	if listID == 0 {
		var list model.PriceList
		err := db.Where("is_default = ? AND active = ?", true, true).First(&list).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperr.Validation("no default price list is configured; send a price")
		}
		if err != nil {
			return 0, err
		}
		listID = list.ID
	}

	var price model.Price
	err := db.Where("price_list_id = ? AND vehicle_type = ? AND wash_type = ?", listID, vehicleType, washType).First(&price).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperr.Validation(fmt.Sprintf("no price configured for %s / %s", vehicleType, washType))
	}
	if err != nil {
		return 0, err
	}
	return price.Amount, nil
}

// ListPriceLists returns every price list with its prices
func (h *Handler) ListPriceLists(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var lists []model.PriceList
	err = store.DB.Preload("Prices", func(db *gorm.DB) *gorm.DB {
		return db.Order("vehicle_type, wash_type")
	}).Order("is_default DESC, name").Find(&lists).Error
	if err != nil {
		return respond(c, apperr.Wrapf(err, "list price lists"))
	}
	return success(c, http.StatusOK, echo.Map{"price_lists": lists})
}

// CreatePriceList creates a price list, optionally making it the default
func (h *Handler) CreatePriceList(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	var req CreatePriceListRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	list := &model.PriceList{Name: req.Name, IsDefault: req.IsDefault, Active: true}
	err = store.DB.Transaction(func(tx *gorm.DB) error {
		if req.IsDefault {
			if err := tx.Model(&model.PriceList{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(list).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return respond(c, apperr.Conflict("a price list with this name already exists"))
		}
		return respond(c, apperr.Wrapf(err, "create price list"))
	}
	return success(c, http.StatusCreated, echo.Map{"price_list": list})
}

// SetDefaultPriceList makes one list the default
func (h *Handler) SetDefaultPriceList(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	err = store.DB.Transaction(func(tx *gorm.DB) error {
		var list model.PriceList
		if err := tx.First(&list, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("price list")
			}
			return err
		}
		if err := tx.Model(&model.PriceList{}).Where("id <> ? AND is_default = ?", id, true).Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&list).Update("is_default", true).Error
	})
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"default_price_list_id": id})
}

// UpsertPrice creates or updates the amount of one combination in a list
func (h *Handler) UpsertPrice(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var req UpsertPriceRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	var list model.PriceList
	if err := store.DB.Select("id").First(&list, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respond(c, apperr.NotFound("price list"))
		}
		return respond(c, err)
	}

	defer prometheus.TrackDBOperation("upsert")(time.Now())

	price := &model.Price{
		PriceListID: id,
		VehicleType: req.VehicleType,
		WashType:    req.WashType,
		Amount:      req.Amount,
	}
	err = store.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "price_list_id"}, {Name: "vehicle_type"}, {Name: "wash_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(price).Error
	if err != nil {
		return respond(c, apperr.Wrapf(err, "upsert price"))
	}
	return success(c, http.StatusOK, echo.Map{"price": price})
}

// QuotePrice returns what a wash would cost, taking the account's price list into account
func (h *Handler) QuotePrice(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	vehicleType, washType := c.QueryParam("vehicle_type"), c.QueryParam("wash_type")
	if vehicleType == "" || washType == "" {
		return respond(c, apperr.Validation("vehicle_type and wash_type are required"))
	}

	var accountID *uint
	if raw := c.QueryParam("account_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return respond(c, apperr.Validation("account_id must be a number"))
		}
		v := uint(id)
		accountID = &v
	}

	amount, err := lookupPrice(store.DB, vehicleType, washType, accountID)
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"amount": amount})
}
