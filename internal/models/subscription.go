package models

import (
	"time"

	"github.com/teambition/rrule-go"
	"gorm.io/gorm"
)

// SubscriptionStatus represents the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription is a recurring billing agreement. The worker materializes an
// invoice (payment link + transaction) for every due charge; confirming an
// invoice can reactivate a paused subscription when AutoResume is set.
type Subscription struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	CustomerEmail     string             `gorm:"type:varchar(255)" json:"customer_email"`
	Amount            float64            `gorm:"type:decimal(30,12)" json:"amount"`
	Currency          string             `gorm:"type:varchar(20)" json:"currency"`
	RecurringInterval *string            `gorm:"type:text" json:"recurring_interval"` // RFC 5545 RRULE string
	Status            SubscriptionStatus `gorm:"type:varchar(20);default:'active'" json:"status"`
	AutoResume        bool               `gorm:"default:false" json:"auto_resume"`
	StartDate         time.Time          `json:"start_date"`
	NextChargeAt      time.Time          `gorm:"index" json:"next_charge_at"`
	LastChargedAt     *time.Time         `json:"last_charged_at"`

	// Relationships
	PaymentLinks []PaymentLink `gorm:"foreignKey:SubscriptionID" json:"payment_links,omitempty"`
}

// NextCharge calculates the next charge date from the recurrence rule
func (s Subscription) NextCharge() time.Time {
	if s.RecurringInterval != nil && *s.RecurringInterval != "" {
		rule, err := rrule.StrToRRule(*s.RecurringInterval)
		if err == nil {
			rule.DTStart(s.StartDate)
			next := rule.After(time.Now(), true)
			if !next.IsZero() {
				return next
			}
		}
	}
	// Fallback to the current schedule if parsing fails
	return s.NextChargeAt
}
