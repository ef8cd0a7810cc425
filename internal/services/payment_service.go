package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cryptopay_app/internal/models"
)

// PaymentService creates payment attempts against the gateway and keeps the
// local transaction records in step with it
type PaymentService struct {
	db      *gorm.DB
	gateway *NowPaymentsService
}

func NewPaymentService(db *gorm.DB, gateway *NowPaymentsService) *PaymentService {
	return &PaymentService{db: db, gateway: gateway}
}

// CreatePaymentInput is the merchant-facing payment creation request
type CreatePaymentInput struct {
	PriceAmount   float64
	PriceCurrency string
	PayCurrency   string
	OrderID       string
	Description   string
	PaymentLinkID *uint
}

// CreatePayment registers a payment at the gateway and persists the local
// transaction record that inbound webhooks will later reconcile against
func (s *PaymentService) CreatePayment(ctx context.Context, input CreatePaymentInput) (*models.Transaction, error) {
	if input.PriceAmount <= 0 {
		return nil, fmt.Errorf("price amount must be positive")
	}
	if input.PriceCurrency == "" || input.PayCurrency == "" {
		return nil, fmt.Errorf("price currency and pay currency are required")
	}

	orderID := input.OrderID
	if orderID == "" {
		orderID = fmt.Sprintf("order-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
	}

	callbackURL := os.Getenv("APP_URL")
	if callbackURL == "" {
		callbackURL = "http://localhost:8080"
	}
	callbackURL += "/webhooks/nowpayments"

	resp, err := s.gateway.CreatePayment(ctx, &CreatePaymentRequest{
		PriceAmount:      input.PriceAmount,
		PriceCurrency:    strings.ToLower(input.PriceCurrency),
		PayCurrency:      strings.ToLower(input.PayCurrency),
		OrderID:          orderID,
		OrderDescription: input.Description,
		IpnCallbackURL:   callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway payment creation failed: %w", err)
	}

	tx := models.Transaction{
		ID:                   uuid.NewString(),
		NowPaymentsPaymentID: resp.PaymentID.String(),
		OrderID:              orderID,
		Status:               models.TransactionStatusPending,
		StatusRaw:            resp.PaymentStatus,
		PriceAmount:          resp.PriceAmount,
		PriceCurrency:        strings.ToUpper(resp.PriceCurrency),
		PayAmount:            resp.PayAmount,
		PayCurrency:          strings.ToUpper(resp.PayCurrency),
		PayAddress:           resp.PayAddress,
		PaymentLinkID:        input.PaymentLinkID,
		PaymentData: map[string]interface{}{
			"now_payment_id": resp.PaymentID.String(),
		},
	}
	if resp.PurchaseID != "" {
		tx.PaymentData["now_purchase_id"] = resp.PurchaseID.String()
	}

	if err := s.db.WithContext(ctx).Create(&tx).Error; err != nil {
		return nil, fmt.Errorf("failed to persist transaction: %w", err)
	}

	return &tx, nil
}

// GetTransaction loads a transaction by id
func (s *PaymentService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.db.WithContext(ctx).Preload("PaymentLink").First(&tx, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// LiveStatus polls the gateway for the current payment status. The stored
// record is left alone; webhook reconciliation is the single writer of
// transaction state.
func (s *PaymentService) LiveStatus(ctx context.Context, tx *models.Transaction) (map[string]interface{}, error) {
	if tx.NowPaymentsPaymentID == "" {
		return nil, fmt.Errorf("transaction %s has no gateway payment id", tx.ID)
	}
	return s.gateway.PaymentStatus(ctx, tx.NowPaymentsPaymentID)
}
