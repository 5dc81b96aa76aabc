package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/internal/resolver"
	"github.com/suteetoe/lavadero/prometheus"
)

// AnswerSurveyRequest is the customer's reply to a survey link
type AnswerSurveyRequest struct {
	Rating      int    `json:"rating" validate:"required,min=1,max=5"`
	Comment     string `json:"comment" validate:"max=2000"`
	WouldReturn *bool  `json:"would_return"`
}

// SurveyStats summarizes the answers of a store's surveys
type SurveyStats struct {
	Total         int64   `json:"total"`
	Answered      int64   `json:"answered"`
	AverageRating float64 `json:"average_rating"`
	WouldReturn   int64   `json:"would_return"`
}

type publicSurvey struct {
	Token      string     `json:"token"`
	Plate      string     `json:"plate"`
	WashType   string     `json:"wash_type"`
	WashedAt   time.Time  `json:"washed_at"`
	Answered   bool       `json:"answered"`
	Rating     *int       `json:"rating,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	Business   string     `json:"business,omitempty"`
	SubmitPath string     `json:"submit_path"`
}

// surveyPath is the public link of a survey. Tenant links carry the business slug so they
// can be resolved without a session.
func surveyPath(store *resolver.Store, token string) string {
	if store.IsTenant() && store.TenantSlug != "" {
		return "/public/" + store.TenantSlug + "/surveys/" + token
	}
	return "/public/surveys/" + token
}

// CreateSurvey returns the survey link of a registration, creating it on first use
func (h *Handler) CreateSurvey(c echo.Context) error {
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
	if reg.Cancelled {
		return respond(c, apperr.Conflict("registration is cancelled"))
	}

	var survey model.Survey
	err = store.DB.Where("registration_id = ?", reg.ID).First(&survey).Error
	switch {
	case err == nil:
		return success(c, http.StatusOK, echo.Map{"survey": survey, "path": surveyPath(store, survey.Token)})
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return respond(c, apperr.Wrapf(err, "find survey of registration %d", reg.ID))
	}

	survey = model.Survey{
		RegistrationID: reg.ID,
		Token:          strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	if err := store.DB.Create(&survey).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "create survey"))
	}
	return success(c, http.StatusCreated, echo.Map{"survey": survey, "path": surveyPath(store, survey.Token)})
}

// ListSurveys lists surveys, newest first. answered=true|false filters by reply.
func (h *Handler) ListSurveys(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	query := store.DB.Model(&model.Survey{})
	switch c.QueryParam("answered") {
	case "true":
		query = query.Where("answered_at IS NOT NULL")
	case "false":
		query = query.Where("answered_at IS NULL")
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var surveys []model.Survey
	if err := query.Order("created_at DESC").Limit(maxListedRegistrations).Find(&surveys).Error; err != nil {
		return respond(c, apperr.Wrapf(err, "list surveys"))
	}
	return success(c, http.StatusOK, echo.Map{"surveys": surveys})
}

// GetSurveyStats aggregates the survey answers of the store
func (h *Handler) GetSurveyStats(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	defer prometheus.TrackDBOperation("aggregate")(time.Now())

	var stats SurveyStats
	err = store.DB.Model(&model.Survey{}).Select(
		"COUNT(*) AS total, " +
			"COUNT(answered_at) AS answered, " +
			"COALESCE(AVG(rating), 0) AS average_rating, " +
			"COUNT(*) FILTER (WHERE would_return) AS would_return",
	).Scan(&stats).Error
	if err != nil {
		return respond(c, apperr.Wrapf(err, "survey stats"))
	}
	return success(c, http.StatusOK, echo.Map{"stats": stats})
}

func findSurvey(db *gorm.DB, token string) (*model.Survey, error) {
	if token == "" {
		return nil, apperr.NotFound("survey")
	}
	var survey model.Survey
	if err := db.Where("token = ?", token).First(&survey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("survey")
		}
		return nil, err
	}
	return &survey, nil
}

// PublicGetSurvey shows a survey to the customer who received its link
func (h *Handler) PublicGetSurvey(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	survey, err := findSurvey(store.DB, c.Param("token"))
	if err != nil {
		return respond(c, err)
	}

	view := publicSurvey{
		Token:      survey.Token,
		Answered:   survey.Answered(),
		Rating:     survey.Rating,
		AnsweredAt: survey.AnsweredAt,
		SubmitPath: surveyPath(store, survey.Token),
	}
	if reg, err := findRegistration(store.DB, survey.RegistrationID); err == nil {
		view.Plate = reg.Plate
		view.WashType = reg.WashType
		view.WashedAt = reg.CreatedAt
	}
	if store.IsTenant() && h.Directory != nil {
		if tenant, err := h.Directory.LookupByID(c.Request().Context(), *store.TenantID); err == nil {
			view.Business = tenant.Name
		}
	}
	return success(c, http.StatusOK, echo.Map{"survey": view})
}

// PublicAnswerSurvey stores the customer's reply. A survey can only be answered once.
func (h *Handler) PublicAnswerSurvey(c echo.Context) error {
	store, err := currentStore(c)
	if err != nil {
		return respond(c, err)
	}

	var req AnswerSurveyRequest
	if err := bind(c, &req); err != nil {
		return respond(c, err)
	}

	survey, err := findSurvey(store.DB, c.Param("token"))
	if err != nil {
		return respond(c, err)
	}
	if survey.Answered() {
		return respond(c, apperr.Conflict("this survey was already answered"))
	}

	now := h.Now()
	result := store.DB.Model(&model.Survey{}).
		Where("id = ? AND answered_at IS NULL", survey.ID).
		Updates(map[string]interface{}{
			"rating":       req.Rating,
			"comment":      strings.TrimSpace(req.Comment),
			"would_return": req.WouldReturn,
			"answered_at":  now,
		})
	if result.Error != nil {
		return respond(c, apperr.Wrapf(result.Error, "answer survey %d", survey.ID))
	}
	if result.RowsAffected == 0 {
		return respond(c, apperr.Conflict("this survey was already answered"))
	}
	return success(c, http.StatusOK, echo.Map{"answered_at": now})
}
