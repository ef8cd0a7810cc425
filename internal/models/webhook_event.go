package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// WebhookEventOutcome describes what the handler did with a delivery
type WebhookEventOutcome string

const (
	WebhookEventOutcomeProcessed WebhookEventOutcome = "processed"
	WebhookEventOutcomeRejected  WebhookEventOutcome = "rejected"
	WebhookEventOutcomeNotFound  WebhookEventOutcome = "not_found"
	WebhookEventOutcomeFailed    WebhookEventOutcome = "failed"
)

// WebhookEvent is the append-only log of inbound gateway callbacks,
// kept for auditing and for replaying deliveries during investigations.
type WebhookEvent struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	PaymentGateway PaymentGateway      `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	PaymentID      string              `gorm:"type:varchar(100);index" json:"payment_id"`
	Outcome        WebhookEventOutcome `gorm:"type:varchar(20)" json:"outcome"`
	Payload        json.RawMessage     `gorm:"type:jsonb" json:"payload"`
}
