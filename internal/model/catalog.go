package model

import (
	"time"
)

// PriceList groups the prices of every vehicle and wash type combination
type PriceList struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(100);not null;uniqueIndex"`
	IsDefault bool      `json:"is_default" gorm:"default:false"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Prices []Price `json:"prices,omitempty" gorm:"foreignKey:PriceListID"`
}

// Price is the amount charged for a vehicle/wash type pair within a list
type Price struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	PriceListID uint      `json:"price_list_id" gorm:"not null;uniqueIndex:idx_price_combo"`
	VehicleType string    `json:"vehicle_type" gorm:"type:varchar(40);not null;uniqueIndex:idx_price_combo"`
	WashType    string    `json:"wash_type" gorm:"type:varchar(40);not null;uniqueIndex:idx_price_combo"`
	Amount      float64   `json:"amount" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Account movement kinds
const (
	MovementCredit = "carga"
	MovementDebit  = "consumo"
)

// Account is a customer's prepaid account (cuenta corriente)
type Account struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(150);not null"`
	Phone       string    `json:"phone" gorm:"type:varchar(30)"`
	Plates      string    `json:"plates" gorm:"type:varchar(200)"`
	Balance     float64   `json:"balance" gorm:"not null;default:0"`
	PriceListID *uint     `json:"price_list_id,omitempty"`
	Active      bool      `json:"active" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Movements []AccountMovement `json:"movements,omitempty" gorm:"foreignKey:AccountID"`
}

// AccountMovement is one ledger entry of an account
type AccountMovement struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	AccountID      uint      `json:"account_id" gorm:"index;not null"`
	Kind           string    `json:"kind" gorm:"type:varchar(20);not null"`
	Amount         float64   `json:"amount" gorm:"not null"`
	BalanceAfter   float64   `json:"balance_after" gorm:"not null"`
	RegistrationID *uint     `json:"registration_id,omitempty" gorm:"index"`
	Note           string    `json:"note" gorm:"type:varchar(255)"`
	CreatedBy      uint      `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}
