package handler

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/prometheus"
)

// applyMovement adds a ledger entry to an account and moves its balance. It must run inside a
// transaction; the account row stays locked until the transaction ends.
func applyMovement(tx *gorm.DB, accountID uint, kind string, amount float64, registrationID *uint, note string, userID uint) (*model.AccountMovement, error) {
	defer prometheus.TrackDBOperation("ledger")(time.Now())

	var account model.Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("account")
		}
		return nil, err
	}

	switch kind {
	case model.MovementCredit:
		account.Balance += amount
	case model.MovementDebit:
		if !account.Active {
			return nil, apperr.Conflict("account is inactive")
		}
		account.Balance -= amount
	default:
		return nil, fmt.Errorf("unknown movement kind %q", kind)
	}

	if err := tx.Model(&account).Update("balance", account.Balance).Error; err != nil {
		return nil, err
	}

	movement := &model.AccountMovement{
		AccountID:      account.ID,
		Kind:           kind,
		Amount:         amount,
		BalanceAfter:   account.Balance,
		RegistrationID: registrationID,
		Note:           note,
		CreatedBy:      userID,
	}
	if err := tx.Create(movement).Error; err != nil {
		return nil, err
	}
	return movement, nil
}

// removeCharge undoes what a registration did to its account before the registration is
// deleted: a live charge goes back to the balance, and every ledger entry of the registration
// is removed. A cancelled registration was already refunded, so its debit and credit are only
// removed.
func removeCharge(tx *gorm.DB, reg *model.Registration) error {
	if reg.AccountID != nil && !reg.Cancelled && reg.Price != 0 {
		var account model.Account
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, *reg.AccountID).Error
		switch {
		case err == nil:
			if err := tx.Model(&account).Update("balance", account.Balance+reg.Price).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
	}
	return tx.Where("registration_id = ?", reg.ID).Delete(&model.AccountMovement{}).Error
}
