package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"cryptopay_app/internal/services"
)

type PaymentHandler struct {
	payments *services.PaymentService
	gateway  *services.NowPaymentsService
}

func NewPaymentHandler(payments *services.PaymentService, gateway *services.NowPaymentsService) *PaymentHandler {
	return &PaymentHandler{payments: payments, gateway: gateway}
}

type createPaymentRequest struct {
	PriceAmount   float64 `json:"price_amount"`
	PriceCurrency string  `json:"price_currency"`
	PayCurrency   string  `json:"pay_currency"`
	OrderID       string  `json:"order_id"`
	Description   string  `json:"description"`
	PaymentLinkID *uint   `json:"payment_link_id"`
}

func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	var req createPaymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Invalid request body",
		})
	}

	tx, err := h.payments.CreatePayment(c.Request().Context(), services.CreatePaymentInput{
		PriceAmount:   req.PriceAmount,
		PriceCurrency: req.PriceCurrency,
		PayCurrency:   req.PayCurrency,
		OrderID:       req.OrderID,
		Description:   req.Description,
		PaymentLinkID: req.PaymentLinkID,
	})
	if err != nil {
		var gwErr *services.NowPaymentsError
		if errors.As(err, &gwErr) {
			log.Printf("Gateway rejected payment creation: %v", gwErr)
			return c.JSON(http.StatusBadGateway, map[string]interface{}{
				"success": false,
				"message": "Payment gateway rejected the request",
			})
		}
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    tx,
	})
}

func (h *PaymentHandler) GetPayment(c echo.Context) error {
	tx, err := h.payments.GetTransaction(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"success": false,
				"message": "Transaction not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to load transaction",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    tx,
	})
}

// GetLiveStatus polls the gateway directly. The local record is not
// mutated here, webhooks remain the single writer.
func (h *PaymentHandler) GetLiveStatus(c echo.Context) error {
	tx, err := h.payments.GetTransaction(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"success": false,
				"message": "Transaction not found",
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to load transaction",
		})
	}

	status, err := h.payments.LiveStatus(c.Request().Context(), tx)
	if err != nil {
		log.Printf("Live status lookup failed for transaction %s: %v", tx.ID, err)
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"message": "Failed to query payment gateway",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    status,
	})
}

func (h *PaymentHandler) ListCurrencies(c echo.Context) error {
	forceRefresh := c.QueryParam("refresh") == "true"

	currencies, err := h.gateway.AvailableCurrencies(c.Request().Context(), forceRefresh)
	if err != nil {
		log.Printf("Failed to fetch available currencies: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"message": "Failed to fetch available currencies",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    currencies,
	})
}

type estimateRequest struct {
	Amount float64 `query:"amount"`
	From   string  `query:"from"`
	To     string  `query:"to"`
}

func (h *PaymentHandler) GetEstimate(c echo.Context) error {
	var req estimateRequest
	if err := c.Bind(&req); err != nil || req.Amount <= 0 || req.From == "" || req.To == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "amount, from and to are required",
		})
	}

	estimate, err := h.gateway.GetEstimate(c.Request().Context(), req.From, req.To, req.Amount)
	if err != nil {
		log.Printf("Estimate lookup failed for %s -> %s: %v", req.From, req.To, err)
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"message": "Failed to fetch estimate",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"from":             req.From,
			"to":               req.To,
			"amount":           req.Amount,
			"estimated_amount": estimate,
		},
	})
}
