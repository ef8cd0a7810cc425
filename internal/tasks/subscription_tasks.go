package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cryptopay_app/internal/models"
)

// GenerateInvoicesTaskDef materializes invoices for subscriptions whose
// next charge has come due. Each invoice is a payment link pointing back
// at the subscription plus a pending transaction keyed by a deterministic
// order id, which inbound webhooks reconcile against once the customer
// pays.
type GenerateInvoicesTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *GenerateInvoicesTaskDef) TaskID() string {
	return "generate_subscription_invoices"
}

// HandleExecution finds due subscriptions and creates an invoice for each
func (t *GenerateInvoicesTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, args map[string]interface{}) (map[string]interface{}, error) {
	now := time.Now()

	var due []models.Subscription
	err := db.WithContext(ctx).
		Where("status = ? AND next_charge_at <= ?", models.SubscriptionStatusActive, now).
		Find(&due).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due subscriptions: %w", err)
	}

	if len(due) == 0 {
		return map[string]interface{}{"status": "skipped", "message": "No subscriptions due"}, nil
	}

	var invoiced []uint
	for _, sub := range due {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := t.invoiceSubscription(ctx, db, sub, now); err != nil {
			log.Printf("Failed to invoice subscription %d: %v", sub.ID, err)
			continue
		}
		invoiced = append(invoiced, sub.ID)
	}

	return map[string]interface{}{
		"status":         "success",
		"invoiced_count": len(invoiced),
		"due_count":      len(due),
	}, nil
}

func (t *GenerateInvoicesTaskDef) invoiceSubscription(ctx context.Context, db *gorm.DB, sub models.Subscription, now time.Time) error {
	subID := sub.ID
	orderID := fmt.Sprintf("sub-%d-%d", sub.ID, now.Unix())

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link := models.PaymentLink{
			Title:          fmt.Sprintf("Subscription #%d invoice", sub.ID),
			Slug:           fmt.Sprintf("invoice-%d-%s", sub.ID, uuid.NewString()[:8]),
			Amount:         sub.Amount,
			Currency:       sub.Currency,
			Gateway:        models.PaymentGatewayNowPayments,
			IsActive:       true,
			SubscriptionID: &subID,
			Metadata: map[string]interface{}{
				"customer_email": sub.CustomerEmail,
			},
		}
		if err := tx.Create(&link).Error; err != nil {
			return fmt.Errorf("failed to create invoice link: %w", err)
		}

		record := models.Transaction{
			ID:            uuid.NewString(),
			OrderID:       orderID,
			Status:        models.TransactionStatusPending,
			PriceAmount:   sub.Amount,
			PriceCurrency: sub.Currency,
			PaymentLinkID: &link.ID,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to create invoice transaction: %w", err)
		}

		next := sub.NextCharge()
		updates := map[string]interface{}{
			"last_charged_at": &now,
		}
		// A rule that yields no future occurrence means the schedule has
		// run out
		if next.After(sub.NextChargeAt) {
			updates["next_charge_at"] = next
		} else {
			updates["status"] = models.SubscriptionStatusCanceled
		}
		if err := tx.Model(&models.Subscription{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to advance subscription schedule: %w", err)
		}

		return nil
	})
}

// GenerateInvoicesTask is the singleton instance of GenerateInvoicesTaskDef
var GenerateInvoicesTask = &GenerateInvoicesTaskDef{}
