package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/prometheus"
)

const maxListedMovements = 100

// CreateAccountRequest opens a customer account
type CreateAccountRequest struct {
	Name           string  `json:"name" validate:"required,max=150"`
	Phone          string  `json:"phone" validate:"max=30"`
	Plates         string  `json:"plates" validate:"max=200"`
	PriceListID    *uint   `json:"price_list_id"`
	InitialBalance float64 `json:"initial_balance" validate:"gte=0"`
}

// AddFundsRequest credits an account
type AddFundsRequest struct {
	Amount float64 `json:"amount" validate:"gt=0"`
	Note   string  `json:"note" validate:"max=255"`
}

// SetActiveRequest turns a record on or off
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// ListAccounts lists customer accounts by name
func (h *Handler) ListAccounts(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	query := store.DB.Model(&model.Account{})
	if c.QueryParam("active") == "true" {
		query = query.Where("active = ?", true)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var accounts []model.Account
	if err := query.Order("name").Find(&accounts).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "list accounts"))
	}
	return success(c, http.StatusOK, echo.Map{"accounts": accounts})
}

// GetAccount returns an account with its latest movements
func (h *Handler) GetAccount(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var account model.Account
	err = store.DB.Preload("Movements", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at DESC").Limit(maxListedMovements)
	}).First(&account, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respond(c, apperr.NotFound("account"))
		}
		return respond(c, apperr.Wrapf(err, "get account %d", id))
	}
	return success(c, http.StatusOK, echo.Map{"account": account})
}

// CreateAccount opens an account, crediting its initial balance as a first movement
func (h *Handler) CreateAccount(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	var req CreateAccountRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	account := &model.Account{
		Name:        strings.TrimSpace(req.Name),
		Phone:       req.Phone,
		Plates:      normalizePlates(req.Plates),
		PriceListID: req.PriceListID,
		Active:      true,
	}

	err = store.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(account).Error; err != nil {
			return err
		}
		if req.InitialBalance > 0 {
			movement, err := applyMovement(tx, account.ID, model.MovementCredit, req.InitialBalance, nil, "saldo inicial", currentUserID(c))
			if err != nil {
				return err
			}
			account.Balance = movement.BalanceAfter
		}
		return nil
	})
	if err != nil {
		return respond(c, apperr.Wrapf(err, "create account"))
	}
	return success(c, http.StatusCreated, echo.Map{"account": account})
}

// AddFunds credits an account
func (h *Handler) AddFunds(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var req AddFundsRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}
	note := req.Note
	if note == "" {
		note = "carga de saldo"
	}

	var movement *model.AccountMovement
	err = store.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		movement, err = applyMovement(tx, id, model.MovementCredit, req.Amount, nil, note, currentUserID(c))
		return err
	})
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"movement": movement, "balance": movement.BalanceAfter})
}

// SetAccountActive enables or disables an account
func (h *Handler) SetAccountActive(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var req SetActiveRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	result := store.DB.Model(&model.Account{}).Where("id = ?", id).Update("active", *req.Active)
	if result.Error != nil {
		return respond(c, apperr.Wrapf(result.Error, "update account %d", id))
	}
	if result.RowsAffected == 0 {
		return respond(c, apperr.NotFound("account"))
	}
	return success(c, http.StatusOK, echo.Map{"id": id, "active": *req.Active})
}

// normalizePlates cleans a comma separated list of plates
func normalizePlates(plates string) string {
	var out []string
	for _, p := range strings.Split(plates, ",") {
		if plate := normalizePlate(p); plate != "" {
			out = append(out, plate)
		}
	}
	return strings.Join(out, ",")
}
