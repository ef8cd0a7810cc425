package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/teambition/rrule-go"
	"gorm.io/gorm"

	"cryptopay_app/internal/models"
)

type SubscriptionHandler struct {
	db *gorm.DB
}

func NewSubscriptionHandler(db *gorm.DB) *SubscriptionHandler {
	return &SubscriptionHandler{db: db}
}

type createSubscriptionRequest struct {
	CustomerEmail     string  `json:"customer_email"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	RecurringInterval string  `json:"recurring_interval"`
	AutoResume        bool    `json:"auto_resume"`
	StartDate         string  `json:"start_date"`
}

func (h *SubscriptionHandler) CreateSubscription(c echo.Context) error {
	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if req.CustomerEmail == "" || req.Amount <= 0 || req.Currency == "" || req.RecurringInterval == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "customer_email, amount, currency and recurring_interval are required",
		})
	}
	if _, err := rrule.StrToRRule(req.RecurringInterval); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": fmt.Sprintf("Invalid recurrence rule: %v", err),
		})
	}

	startDate := time.Now()
	if req.StartDate != "" {
		parsed, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"message": "start_date must be RFC 3339",
			})
		}
		startDate = parsed
	}

	sub := models.Subscription{
		CustomerEmail:     req.CustomerEmail,
		Amount:            req.Amount,
		Currency:          strings.ToUpper(req.Currency),
		RecurringInterval: &req.RecurringInterval,
		Status:            models.SubscriptionStatusActive,
		AutoResume:        req.AutoResume,
		StartDate:         startDate,
	}
	sub.NextChargeAt = sub.NextCharge()
	if sub.NextChargeAt.IsZero() {
		sub.NextChargeAt = startDate
	}

	if err := h.db.WithContext(c.Request().Context()).Create(&sub).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to create subscription",
		})
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    sub,
	})
}

func (h *SubscriptionHandler) GetSubscription(c echo.Context) error {
	var sub models.Subscription
	err := h.db.WithContext(c.Request().Context()).
		Preload("PaymentLinks").
		First(&sub, "id = ?", c.Param("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"success": false,
				"message": "Subscription not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to load subscription",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    sub,
	})
}

// PauseSubscription stops invoice generation. A paused subscription with
// auto_resume set reactivates when its next invoice is confirmed.
func (h *SubscriptionHandler) PauseSubscription(c echo.Context) error {
	return h.transition(c, models.SubscriptionStatusActive, models.SubscriptionStatusPaused)
}

func (h *SubscriptionHandler) ResumeSubscription(c echo.Context) error {
	return h.transition(c, models.SubscriptionStatusPaused, models.SubscriptionStatusActive)
}

func (h *SubscriptionHandler) CancelSubscription(c echo.Context) error {
	result := h.db.WithContext(c.Request().Context()).
		Model(&models.Subscription{}).
		Where("id = ? AND status <> ?", c.Param("id"), models.SubscriptionStatusCanceled).
		Update("status", models.SubscriptionStatusCanceled)
	if result.Error != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to cancel subscription",
		})
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "Subscription not found or already canceled",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Subscription canceled",
	})
}

func (h *SubscriptionHandler) transition(c echo.Context, from, to models.SubscriptionStatus) error {
	result := h.db.WithContext(c.Request().Context()).
		Model(&models.Subscription{}).
		Where("id = ? AND status = ?", c.Param("id"), from).
		Update("status", to)
	if result.Error != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to update subscription",
		})
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"success": false,
			"message": fmt.Sprintf("Subscription is not %s", from),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Subscription is now %s", to),
	})
}
