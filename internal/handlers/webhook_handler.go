package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"cryptopay_app/internal/models"
	"cryptopay_app/internal/services"
)

// sigHeader is the gateway's signature header
const sigHeader = "x-nowpayments-sig"

// paymentReconciler is the slice of the reconciliation service the handler
// depends on
type paymentReconciler interface {
	Apply(ctx context.Context, p *services.WebhookPayload) (*services.ReconcileResult, error)
}

type WebhookHandler struct {
	db         *gorm.DB
	reconciler paymentReconciler
	ipnSecret  string
}

func NewWebhookHandler(db *gorm.DB, reconciler paymentReconciler) *WebhookHandler {
	return &WebhookHandler{
		db:         db,
		reconciler: reconciler,
		ipnSecret:  os.Getenv("NOWPAYMENTS_IPN_SECRET"),
	}
}

// HandleNowPayments processes a gateway payment-status callback.
// Pipeline: parse, authenticate, validate, reconcile, record, respond.
// Body parsing precedes signature verification so malformed deliveries are
// rejected as 400 rather than 401.
func (h *WebhookHandler) HandleNowPayments(c echo.Context) error {
	start := time.Now()

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Failed to read request body",
		})
	}

	var payload services.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Invalid JSON payload",
		})
	}

	if h.ipnSecret == "" {
		log.Printf("NOWPAYMENTS_IPN_SECRET is not configured, rejecting webhook")
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Webhook signing is not configured",
		})
	}

	// Signature is mandatory: an unsigned delivery is indistinguishable
	// from a forged one
	signature := c.Request().Header.Get(sigHeader)
	if signature == "" {
		log.Printf("Webhook for payment %s arrived without a signature", payload.PaymentID)
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"message": "Missing signature",
		})
	}
	if !services.VerifyWebhookSignature(raw, signature, h.ipnSecret) {
		log.Printf("Webhook signature mismatch for payment %s", payload.PaymentID)
		h.recordEvent(c.Request().Context(), payload.PaymentID.String(), models.WebhookEventOutcomeRejected, raw)
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"message": "Invalid signature",
		})
	}

	if validationErrs := payload.Validate(); len(validationErrs) > 0 {
		h.recordEvent(c.Request().Context(), payload.PaymentID.String(), models.WebhookEventOutcomeRejected, raw)
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Payload validation failed",
			"errors":  validationErrs,
		})
	}

	result, err := h.reconciler.Apply(c.Request().Context(), &payload)
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			log.Printf("No transaction found for webhook payment %s (order %s)", payload.PaymentID, payload.OrderID)
			h.recordEvent(c.Request().Context(), payload.PaymentID.String(), models.WebhookEventOutcomeNotFound, raw)
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"success": false,
				"message": "Transaction not found",
			})
		}
		log.Printf("Webhook reconciliation failed for payment %s: %v", payload.PaymentID, err)
		h.recordEvent(c.Request().Context(), payload.PaymentID.String(), models.WebhookEventOutcomeFailed, raw)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to apply payment update",
		})
	}

	h.recordEvent(c.Request().Context(), payload.PaymentID.String(), models.WebhookEventOutcomeProcessed, raw)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":        true,
		"transaction_id": result.Transaction.ID,
		"status":         result.Transaction.Status,
		"processing_ms":  time.Since(start).Milliseconds(),
	})
}

// recordEvent appends the delivery to the webhook audit log, best effort
func (h *WebhookHandler) recordEvent(ctx context.Context, paymentID string, outcome models.WebhookEventOutcome, raw []byte) {
	if h.db == nil {
		return
	}
	event := models.WebhookEvent{
		PaymentGateway: models.PaymentGatewayNowPayments,
		PaymentID:      paymentID,
		Outcome:        outcome,
		Payload:        json.RawMessage(raw),
	}
	if err := h.db.WithContext(ctx).Create(&event).Error; err != nil {
		log.Printf("Failed to record webhook event for payment %s: %v", paymentID, err)
	}
}
