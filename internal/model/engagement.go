package model

import (
	"time"
)

// Survey is a satisfaction survey sent for a registration. Token is the public link secret.
type Survey struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	RegistrationID uint       `json:"registration_id" gorm:"uniqueIndex;not null"`
	Token          string     `json:"token" gorm:"type:varchar(64);uniqueIndex;not null"`
	Rating         *int       `json:"rating,omitempty"`
	Comment        string     `json:"comment" gorm:"type:text"`
	WouldReturn    *bool      `json:"would_return,omitempty"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Answered reports whether the customer already replied
func (s *Survey) Answered() bool {
	return s.AnsweredAt != nil
}

// Promotion is an upselling offer presented to frequent customers. A customer qualifies when
// their visit count over the last WindowDays reaches the MinPercentile of all customers.
type Promotion struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	Name            string    `json:"name" gorm:"type:varchar(100);not null"`
	Description     string    `json:"description" gorm:"type:text"`
	WashType        string    `json:"wash_type" gorm:"type:varchar(40)"`
	DiscountPercent float64   `json:"discount_percent" gorm:"not null;default:0"`
	MinPercentile   float64   `json:"min_percentile" gorm:"not null;default:0.75"`
	WindowDays      int       `json:"window_days" gorm:"not null;default:90"`
	Active          bool      `json:"active" gorm:"default:true"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Upsell offer outcomes
const (
	OfferPending  = "ofrecida"
	OfferAccepted = "aceptada"
	OfferDeclined = "rechazada"
)

// UpsellOffer records a promotion offered to a customer at intake
type UpsellOffer struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	PromotionID    uint      `json:"promotion_id" gorm:"index;not null"`
	RegistrationID *uint     `json:"registration_id,omitempty"`
	Plate          string    `json:"plate" gorm:"type:varchar(20);index;not null"`
	Status         string    `json:"status" gorm:"type:varchar(20);not null;default:'ofrecida'"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
