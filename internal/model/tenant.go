package model

import (
	"time"
)

// Tenant lifecycle states
const (
	TenantActive   = "active"
	TenantArchived = "archived"
)

// Plan tiers
const (
	PlanTrial   = "trial"
	PlanBasic   = "basic"
	PlanPremium = "premium"
)

// Tenant is a car-wash business registered in the control plane. BranchURL stays nil until
// its dedicated store has been provisioned, and a tenant without one cannot serve data.
type Tenant struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	Name      string     `json:"name" gorm:"type:varchar(150);not null"`
	Slug      string     `json:"slug" gorm:"type:varchar(160);uniqueIndex;not null"`
	BranchURL *string    `json:"-" gorm:"type:text"`
	BranchID  *string    `json:"branch_id,omitempty" gorm:"type:varchar(100)"`
	State     string     `json:"state" gorm:"type:varchar(20);not null;default:'active';index"`
	Plan      string     `json:"plan" gorm:"type:varchar(20);not null;default:'trial'"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Provisioned reports whether the tenant has a dedicated store address
func (t *Tenant) Provisioned() bool {
	return t.BranchURL != nil && *t.BranchURL != ""
}

// Address returns the dedicated store address or ""
func (t *Tenant) Address() string {
	if t.BranchURL == nil {
		return ""
	}
	return *t.BranchURL
}

// Archived reports whether the tenant has been archived
func (t *Tenant) Archived() bool {
	return t.State == TenantArchived
}

// Expired reports whether the paid or trial period ended before now
func (t *Tenant) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// SystemUser is a login of a tenant, stored in the control plane
type SystemUser struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	TenantID     uint      `json:"tenant_id" gorm:"index;not null"`
	Email        string    `json:"email" gorm:"type:varchar(150);uniqueIndex;not null"`
	Name         string    `json:"name" gorm:"type:varchar(150)"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	Role         string    `json:"role" gorm:"type:varchar(20);not null;default:'operador'"`
	Active       bool      `json:"active" gorm:"default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Tenant *Tenant `json:"-" gorm:"foreignKey:TenantID"`
}

// Payment is a subscription payment made by a tenant
type Payment struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	TenantID     uint      `json:"tenant_id" gorm:"index;not null"`
	Amount       float64   `json:"amount" gorm:"not null"`
	Method       string    `json:"method" gorm:"type:varchar(30)"`
	Reference    string    `json:"reference" gorm:"type:varchar(100)"`
	Plan         string    `json:"plan" gorm:"type:varchar(20)"`
	PeriodMonths int       `json:"period_months" gorm:"not null;default:1"`
	PaidUntil    time.Time `json:"paid_until"`
	CreatedAt    time.Time `json:"created_at"`
}

// ControlPlaneModels lists the tables of the central store
func ControlPlaneModels() []interface{} {
	return []interface{}{&Tenant{}, &SystemUser{}, &Payment{}}
}
