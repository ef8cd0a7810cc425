package models

import (
	"time"

	"gorm.io/gorm"
)

type PaymentGateway string

const (
	PaymentGatewayNowPayments PaymentGateway = "nowpayments"
)

// PaymentLink is a reusable hosted-checkout entry point. Invoices generated
// from a subscription point back at it through SubscriptionID; transactions
// created through a link carry PaymentLinkID so the webhook flow can reach
// receipt/notification settings.
type PaymentLink struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Title         string         `gorm:"type:varchar(255)" json:"title"`
	Slug          string         `gorm:"type:varchar(100);uniqueIndex" json:"slug"`
	Amount        float64        `gorm:"type:decimal(30,12)" json:"amount"`
	Currency      string         `gorm:"type:varchar(20)" json:"currency"`
	Gateway       PaymentGateway `gorm:"type:varchar(50);default:'nowpayments'" json:"gateway"`
	IsActive      bool           `gorm:"default:true" json:"is_active"`
	ReceivedCount int            `json:"received_count"`

	// Merchant endpoint notified on confirmation (optional)
	MerchantWebhookURL string `gorm:"type:varchar(500)" json:"merchant_webhook_url"`

	// Free-form settings bag: customer_email, disable_email_receipts, ...
	Metadata map[string]interface{} `gorm:"serializer:json" json:"metadata"`

	SubscriptionID *uint `gorm:"index" json:"subscription_id"`

	// Relationships
	Subscription *Subscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
	Transactions []Transaction `gorm:"foreignKey:PaymentLinkID" json:"transactions,omitempty"`
}

// CustomerEmail returns the receipt recipient designated in the link
// metadata, or "" when none is set.
func (l PaymentLink) CustomerEmail() string {
	if l.Metadata == nil {
		return ""
	}
	if email, ok := l.Metadata["customer_email"].(string); ok {
		return email
	}
	return ""
}

// ReceiptsDisabled reports whether the link explicitly opted out of
// customer email receipts.
func (l PaymentLink) ReceiptsDisabled() bool {
	if l.Metadata == nil {
		return false
	}
	disabled, ok := l.Metadata["disable_email_receipts"].(bool)
	return ok && disabled
}
