// Package upselling decides which customers qualify for a promotion, based on how often
// their vehicle visited the car wash compared with every other customer.
package upselling

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/prometheus"
)

// Limits of the visit window, in days
const (
	MinWindowDays = 1
	MaxWindowDays = 730
)

// OfferCooldown is how long a plate is left alone after being offered a promotion
const OfferCooldown = 30 * 24 * time.Hour

// visitsCTE counts the non-cancelled visits of every plate in the last ? days
const visitsCTE = `WITH visits AS (
	SELECT plate, COUNT(*) AS visits
	FROM registrations
	WHERE cancelled = false AND created_at >= NOW() - make_interval(days => ?)
	GROUP BY plate
)
`

const statsQuery = visitsCTE + `SELECT
	COUNT(*) AS customers,
	COALESCE(SUM(visits), 0) AS total_visits,
	COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY visits), 0) AS p50,
	COALESCE(percentile_cont(0.75) WITHIN GROUP (ORDER BY visits), 0) AS p75,
	COALESCE(percentile_cont(0.9) WITHIN GROUP (ORDER BY visits), 0) AS p90
FROM visits`

const eligibilityQuery = visitsCTE + `SELECT
	COALESCE((SELECT visits FROM visits WHERE plate = ?), 0) AS visits,
	COALESCE((SELECT percentile_cont(?) WITHIN GROUP (ORDER BY visits) FROM visits), 0) AS threshold`

// Stats describes the visit distribution over a window
type Stats struct {
	WindowDays  int     `json:"window_days"`
	Customers   int64   `json:"customers"`
	TotalVisits int64   `json:"total_visits"`
	P50         float64 `json:"p50"`
	P75         float64 `json:"p75"`
	P90         float64 `json:"p90"`
}

// Eligibility is the verdict for one plate and promotion
type Eligibility struct {
	Plate       string  `json:"plate"`
	Visits      int64   `json:"visits"`
	Threshold   float64 `json:"threshold"`
	RecentOffer bool    `json:"recent_offer"`
	Eligible    bool    `json:"eligible"`
}

// OfferCount is the number of offers of a promotion in one status
type OfferCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// CheckWindow validates a visit window
func CheckWindow(days int) error {
	if days < MinWindowDays || days > MaxWindowDays {
		return apperr.Validation("window_days must be between 1 and 730")
	}
	return nil
}

// ComputeStats returns the visit distribution of the last days
func ComputeStats(ctx context.Context, db *gorm.DB, days int) (*Stats, error) {
	if err := CheckWindow(days); err != nil {
		return nil, err
	}

	defer prometheus.TrackDBOperation("aggregate")(time.Now())

	stats := &Stats{WindowDays: days}
	if err := db.WithContext(ctx).Raw(statsQuery, days).Scan(stats).Error; err != nil {
		return nil, apperr.Wrapf(err, "compute visit stats")
	}
	stats.WindowDays = days
	return stats, nil
}

// CheckEligibility reports whether plate qualifies for promo: it needs at least one visit in
// the promotion window, a visit count at or above the promotion percentile and no offer of the
// same promotion within OfferCooldown.
func CheckEligibility(ctx context.Context, db *gorm.DB, promo *model.Promotion, plate string, now time.Time) (*Eligibility, error) {
	if err := CheckWindow(promo.WindowDays); err != nil {
		return nil, err
	}
	if promo.MinPercentile < 0 || promo.MinPercentile > 1 {
		return nil, apperr.Validation("min_percentile must be between 0 and 1")
	}

	defer prometheus.TrackDBOperation("aggregate")(time.Now())

	db = db.WithContext(ctx)
	result := &Eligibility{Plate: plate}
	if err := db.Raw(eligibilityQuery, promo.WindowDays, plate, promo.MinPercentile).Scan(result).Error; err != nil {
		return nil, apperr.Wrapf(err, "check eligibility of %s", plate)
	}
	result.Plate = plate

	var offers int64
	err := db.Model(&model.UpsellOffer{}).
		Where("promotion_id = ? AND plate = ? AND created_at >= ?", promo.ID, plate, now.Add(-OfferCooldown)).
		Count(&offers).Error
	if err != nil {
		return nil, apperr.Wrapf(err, "count offers of %s", plate)
	}

	result.RecentOffer = offers > 0
	result.Eligible = result.Visits > 0 && float64(result.Visits) >= result.Threshold && !result.RecentOffer
	return result, nil
}

// SummarizeOffers counts the offers of a promotion by status
func SummarizeOffers(ctx context.Context, db *gorm.DB, promotionID uint) ([]OfferCount, error) {
	var counts []OfferCount
	err := db.WithContext(ctx).Model(&model.UpsellOffer{}).
		Select("status, COUNT(*) AS count").
		Where("promotion_id = ?", promotionID).
		Group("status").
		Order("status").
		Scan(&counts).Error
	if err != nil {
		return nil, apperr.Wrapf(err, "summarize offers of promotion %d", promotionID)
	}
	return counts, nil
}
