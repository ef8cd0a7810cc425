package models

import (
	"time"

	"gorm.io/gorm"
)

// TransactionStatus represents the internal payment status vocabulary.
// Unrecognized gateway statuses are stored verbatim; StatusRaw always keeps
// the last value exactly as the gateway delivered it.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusConfirming TransactionStatus = "confirming"
	TransactionStatusConfirmed  TransactionStatus = "confirmed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusRefunded   TransactionStatus = "refunded"
	TransactionStatusExpired    TransactionStatus = "expired"
)

// Known reports whether the status belongs to the internal vocabulary.
func (s TransactionStatus) Known() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusConfirming, TransactionStatusConfirmed,
		TransactionStatusFailed, TransactionStatusRefunded, TransactionStatusExpired:
		return true
	}
	return false
}

// Transaction represents a single payment attempt created against the gateway.
// Status and the hash/amount fields are mutated only by the webhook
// reconciliation flow; amount and hash fields are additive or overwritten
// with the latest payload's values, never cleared.
type Transaction struct {
	ID        string         `gorm:"type:varchar(64);primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	NowPaymentsPaymentID string            `gorm:"type:varchar(100);index" json:"nowpayments_payment_id"`
	OrderID              string            `gorm:"type:varchar(100);index" json:"order_id"`
	Status               TransactionStatus `gorm:"type:varchar(50);default:'pending'" json:"status"`
	StatusRaw            string            `gorm:"type:varchar(50)" json:"status_raw"`

	// Quote captured at creation time
	PriceAmount   float64 `gorm:"type:decimal(30,12)" json:"price_amount"`
	PriceCurrency string  `gorm:"type:varchar(20)" json:"price_currency"`
	PayAmount     float64 `gorm:"type:decimal(30,12)" json:"pay_amount"`
	PayCurrency   string  `gorm:"type:varchar(20)" json:"pay_currency"`
	PayAddress    string  `gorm:"type:varchar(255)" json:"pay_address"`

	// Blockchain transaction hashes. TxHash is the canonical/primary hash,
	// PayinHash and PayoutHash are the specific legs.
	PayinHash  string `gorm:"type:varchar(255)" json:"payin_hash"`
	PayoutHash string `gorm:"type:varchar(255)" json:"payout_hash"`
	TxHash     string `gorm:"type:varchar(255)" json:"tx_hash"`

	// Settlement figures, populated by confirmed/payout webhooks
	AmountReceived   *float64 `gorm:"type:decimal(30,12)" json:"amount_received"`
	CurrencyReceived string   `gorm:"type:varchar(20)" json:"currency_received"`
	MerchantReceives *float64 `gorm:"type:decimal(30,12)" json:"merchant_receives"`
	PayoutCurrency   string   `gorm:"type:varchar(20)" json:"payout_currency"`
	GatewayFee       *float64 `gorm:"type:decimal(30,12)" json:"gateway_fee"`

	// Diagnostic identifier bag accumulated across webhook deliveries
	PaymentData map[string]interface{} `gorm:"serializer:json" json:"payment_data"`

	PaymentLinkID *uint      `gorm:"index" json:"payment_link_id"`
	ConfirmedAt   *time.Time `json:"confirmed_at"`

	// Optimistic concurrency token, bumped on every reconciliation write
	Version int `gorm:"not null;default:0" json:"version"`

	// Relationships
	PaymentLink *PaymentLink `gorm:"foreignKey:PaymentLinkID" json:"payment_link,omitempty"`
}

// MergePaymentData folds the given keys into the PaymentData bag without
// dropping what earlier deliveries already recorded.
func (t *Transaction) MergePaymentData(extra map[string]interface{}) {
	if len(extra) == 0 {
		return
	}
	if t.PaymentData == nil {
		t.PaymentData = make(map[string]interface{}, len(extra))
	}
	for k, v := range extra {
		t.PaymentData[k] = v
	}
}
