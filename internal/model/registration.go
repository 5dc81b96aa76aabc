package model

import (
	"time"
)

// Registration statuses, in the order a vehicle goes through them
const (
	StatusInProgress = "en_proceso"
	StatusReady      = "listo"
	StatusDelivered  = "entregado"
)

// NextStatus returns the status that follows current, or "" when current is terminal or unknown
func NextStatus(current string) string {
	switch current {
	case StatusInProgress:
		return StatusReady
	case StatusReady:
		return StatusDelivered
	default:
		return ""
	}
}

// Registration is a vehicle taken in for washing
type Registration struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Plate       string     `json:"plate" gorm:"type:varchar(20);index;not null"`
	Brand       string     `json:"brand" gorm:"type:varchar(60)"`
	VehicleType string     `json:"vehicle_type" gorm:"type:varchar(40);not null"`
	WashType    string     `json:"wash_type" gorm:"type:varchar(40);not null"`
	Phone       string     `json:"phone" gorm:"type:varchar(30)"`
	Price       float64    `json:"price" gorm:"not null;default:0"`
	Status      string     `json:"status" gorm:"type:varchar(20);not null;default:'en_proceso';index"`
	AccountID   *uint      `json:"account_id,omitempty" gorm:"index"`
	Cancelled   bool       `json:"cancelled" gorm:"default:false"`
	Notes       string     `json:"notes" gorm:"type:text"`
	ReadyAt     *time.Time `json:"ready_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedBy   uint       `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// User is a login stored in a tenant or legacy store
type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Email        string    `json:"email" gorm:"type:varchar(150);uniqueIndex;not null"`
	Name         string    `json:"name" gorm:"type:varchar(150)"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	Role         string    `json:"role" gorm:"type:varchar(20);not null;default:'operador'"`
	Active       bool      `json:"active" gorm:"default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TenantModels lists the tables of a tenant's dedicated store. The legacy store has the same
// schema.
func TenantModels() []interface{} {
	return []interface{}{
		&User{},
		&Registration{},
		&PriceList{},
		&Price{},
		&Account{},
		&AccountMovement{},
		&Survey{},
		&Promotion{},
		&UpsellOffer{},
	}
}
