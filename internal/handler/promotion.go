package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/internal/upselling"
	"github.com/suteetoe/lavadero/prometheus"
)

const defaultStatsWindowDays = 90

// PromotionRequest creates or replaces a promotion
type PromotionRequest struct {
	Name            string   `json:"name" validate:"required,max=100"`
	Description     string   `json:"description" validate:"max=2000"`
	WashType        string   `json:"wash_type" validate:"max=40"`
	DiscountPercent float64  `json:"discount_percent" validate:"gte=0,lte=100"`
	MinPercentile   *float64 `json:"min_percentile" validate:"omitempty,gte=0,lte=1"`
	WindowDays      int      `json:"window_days" validate:"omitempty,min=1,max=730"`
	Active          *bool    `json:"active"`
}

// CreateOfferRequest records that a promotion was offered to a plate
type CreateOfferRequest struct {
	Plate          string `json:"plate" validate:"required,max=20"`
	RegistrationID *uint  `json:"registration_id"`
}

// UpdateOfferRequest records the customer's answer to an offer
type UpdateOfferRequest struct {
	Status string `json:"status" validate:"required,oneof=aceptada rechazada"`
}

func (r *PromotionRequest) apply(p *model.Promotion) {
	p.Name = r.Name
	p.Description = r.Description
	p.WashType = r.WashType
	p.DiscountPercent = r.DiscountPercent
	p.MinPercentile = 0.75
	if r.MinPercentile != nil {
		p.MinPercentile = *r.MinPercentile
	}
	p.WindowDays = defaultStatsWindowDays
	if r.WindowDays > 0 {
		p.WindowDays = r.WindowDays
	}
	p.Active = r.Active == nil || *r.Active
}

func findPromotion(db *gorm.DB, id uint) (*model.Promotion, error) {
	var promo model.Promotion
	if err := db.First(&promo, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("promotion")
		}
		return nil, err
	}
	return &promo, nil
}

// ListPromotions lists promotions, active ones first
func (h *Handler) ListPromotions(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var promos []model.Promotion
	if err := store.DB.Order("active DESC, created_at DESC").Find(&promos).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "list promotions"))
	}
	return success(c, http.StatusOK, echo.Map{"promotions": promos})
}

// CreatePromotion creates a promotion
func (h *Handler) CreatePromotion(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	var req PromotionRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	promo := &model.Promotion{}
	req.apply(promo)
	if err := store.DB.Create(promo).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "create promotion"))
	}
	return success(c, http.StatusCreated, echo.Map{"promotion": promo})
}

// UpdatePromotion replaces the settings of a promotion
func (h *Handler) UpdatePromotion(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var req PromotionRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	promo, err := findPromotion(store.DB, id)
	if err != nil {
		return respond(c, err)
	}
	req.apply(promo)
	if err := store.DB.Save(promo).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "update promotion %d", id))
	}
	return success(c, http.StatusOK, echo.Map{"promotion": promo})
}

// DeletePromotion removes a promotion and its offers
func (h *Handler) DeletePromotion(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	err = store.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("promotion_id = ?", id).Delete(&model.UpsellOffer{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.Promotion{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.NotFound("promotion")
		}
		return nil
	})
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"deleted": id})
}

// GetVisitStats returns the visit distribution of customers over window_days (default 90)
func (h *Handler) GetVisitStats(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	days := defaultStatsWindowDays
	if raw := c.QueryParam("window_days"); raw != "" {
		if days, err = strconv.Atoi(raw); err != nil {
			return respond(c, apperr.Validation("window_days must be a number"))
		}
	}

	stats, err := upselling.ComputeStats(c.Request().Context(), store.DB, days)
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"stats": stats})
}

// CheckEligibility tells whether a plate qualifies for a promotion
func (h *Handler) CheckEligibility(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}
	plate := normalizePlate(c.QueryParam("plate"))
	if plate == "" {
		return respond(c, apperr.Validation("plate is required"))
	}

	promo, err := findPromotion(store.DB, id)
	if err != nil {
		return respond(c, err)
	}
	if !promo.Active {
		return success(c, http.StatusOK, echo.Map{"eligibility": upselling.Eligibility{Plate: plate}})
	}

	result, err := upselling.CheckEligibility(c.Request().Context(), store.DB, promo, plate, h.Now())
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"eligibility": result})
}

// CreateOffer records that a promotion was offered to a customer
func (h *Handler) CreateOffer(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	var req CreateOfferRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	if _, err := findPromotion(store.DB, id); err != nil {
		return respond(c, err)
	}

	offer := &model.UpsellOffer{
		PromotionID:    id,
		RegistrationID: req.RegistrationID,
		Plate:          normalizePlate(req.Plate),
		Status:         model.OfferPending,
	}
	if err := store.DB.Create(offer).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "create offer"))
	}
	return success(c, http.StatusCreated, echo.Map{"offer": offer})
}

// UpdateOffer records whether the customer accepted an offer
func (h *Handler) UpdateOffer(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "offerID")
	if err != nil {
		return respond(c, err)
	}

	var req UpdateOfferRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	var offer model.UpsellOffer
	if err := store.DB.First(&offer, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respond(c, apperr.NotFound("offer"))
		}
		return respond(c, err)
	}
	if offer.Status != model.OfferPending {
		return respond(c, apperr.Conflict("offer was already answered"))
	}

	if err := store.DB.Model(&offer).Update("status", req.Status).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "update offer %d", id))
	}
	return success(c, http.StatusOK, echo.Map{"offer": offer})
}

// GetOfferSummary counts the offers of a promotion by outcome
func (h *Handler) GetOfferSummary(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return respond(c, err)
	}

	counts, err := upselling.SummarizeOffers(c.Request().Context(), store.DB, id)
	if err != nil {
		return respond(c, err)
	}
	return success(c, http.StatusOK, echo.Map{"promotion_id": id, "offers": counts})
}
