package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"cryptopay_app/internal/models"
	"cryptopay_app/internal/services"
)

type PaymentLinkHandler struct {
	db *gorm.DB
}

func NewPaymentLinkHandler(db *gorm.DB) *PaymentLinkHandler {
	return &PaymentLinkHandler{db: db}
}

type createPaymentLinkRequest struct {
	Title              string                 `json:"title"`
	Slug               string                 `json:"slug"`
	Amount             float64                `json:"amount"`
	Currency           string                 `json:"currency"`
	MerchantWebhookURL string                 `json:"merchant_webhook_url"`
	Metadata           map[string]interface{} `json:"metadata"`
}

func (h *PaymentLinkHandler) CreatePaymentLink(c echo.Context) error {
	var req createPaymentLinkRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Invalid request body",
		})
	}
	if req.Title == "" || req.Amount <= 0 || req.Currency == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "title, amount and currency are required",
		})
	}

	slug := strings.TrimSpace(strings.ToLower(req.Slug))
	if slug == "" {
		slug = fmt.Sprintf("link-%s", uuid.NewString()[:8])
	}

	webhookURL := req.MerchantWebhookURL
	if webhookURL != "" {
		normalized, err := services.NormalizeWebhookURL(webhookURL)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"message": fmt.Sprintf("Invalid merchant webhook URL: %v", err),
			})
		}
		webhookURL = normalized
	}

	link := models.PaymentLink{
		Title:              req.Title,
		Slug:               slug,
		Amount:             req.Amount,
		Currency:           strings.ToUpper(req.Currency),
		Gateway:            models.PaymentGatewayNowPayments,
		IsActive:           true,
		MerchantWebhookURL: webhookURL,
		Metadata:           req.Metadata,
	}
	if err := h.db.WithContext(c.Request().Context()).Create(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"success": false,
				"message": "Slug is already taken",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to create payment link",
		})
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    link,
	})
}

func (h *PaymentLinkHandler) GetPaymentLink(c echo.Context) error {
	var link models.PaymentLink
	err := h.db.WithContext(c.Request().Context()).
		Where("slug = ?", c.Param("slug")).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"success": false,
				"message": "Payment link not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to load payment link",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    link,
	})
}

func (h *PaymentLinkHandler) ListPaymentLinks(c echo.Context) error {
	var links []models.PaymentLink
	query := h.db.WithContext(c.Request().Context()).Order("created_at DESC")
	if c.QueryParam("active") == "true" {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Find(&links).Error; err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to list payment links",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    links,
	})
}

func (h *PaymentLinkHandler) DeactivatePaymentLink(c echo.Context) error {
	result := h.db.WithContext(c.Request().Context()).
		Model(&models.PaymentLink{}).
		Where("slug = ?", c.Param("slug")).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()})
	if result.Error != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to deactivate payment link",
		})
	}
	if result.RowsAffected == 0 {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "Payment link not found",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Payment link deactivated",
	})
}
