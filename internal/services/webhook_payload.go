package services

import (
	"fmt"
	"strconv"
	"strings"

	"cryptopay_app/internal/models"
)

// Amount is a webhook money field. The gateway has delivered these both as
// JSON numbers and as numeric strings over the years, so decoding never
// fails outright; Valid reports whether the raw value parsed.
type Amount struct {
	raw     string
	value   float64
	present bool
	valid   bool
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	a.present = true
	a.raw = strings.Trim(s, `"`)
	if a.raw == "" {
		a.present = false
		return nil
	}
	v, err := strconv.ParseFloat(a.raw, 64)
	if err == nil {
		a.value = v
		a.valid = true
	}
	return nil
}

func (a Amount) Present() bool  { return a.present }
func (a Amount) Valid() bool    { return a.valid }
func (a Amount) Value() float64 { return a.value }

// Ident is a webhook identifier field; the gateway sends these as strings
// or bare numbers depending on payload generation.
type Ident string

func (i *Ident) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*i = ""
		return nil
	}
	*i = Ident(strings.Trim(s, `"`))
	return nil
}

func (i Ident) String() string { return string(i) }

// WebhookOutcome is the nested settlement block some payload variants carry
type WebhookOutcome struct {
	Hash     string `json:"hash"`
	Amount   Amount `json:"amount"`
	Currency string `json:"currency"`
}

// WebhookPayload is the gateway's payment-status callback. Several fields
// are aliases for the same logical value across payload generations; hash
// resolution happens through the ordered rules in ExtractHashes.
type WebhookPayload struct {
	PaymentID       Ident  `json:"payment_id"`
	ParentPaymentID Ident  `json:"parent_payment_id"`
	PurchaseID      Ident  `json:"purchase_id"`
	OrderID         Ident  `json:"order_id"`
	PaymentStatus   string `json:"payment_status"`

	PayCurrency    string `json:"pay_currency"`
	ActuallyPaid   Amount `json:"actually_paid"`
	PriceAmount    Amount `json:"price_amount"`
	PriceCurrency  string `json:"price_currency"`
	PayoutAmount   Amount `json:"payout_amount"`
	PayoutCurrency string `json:"payout_currency"`

	PayinHash       string `json:"payin_hash"`
	PayoutHash      string `json:"payout_hash"`
	Type            string `json:"type"`
	Hash            string `json:"hash"`
	TxHash          string `json:"tx_hash"`
	TransactionHash string `json:"transaction_hash"`

	Outcome *WebhookOutcome `json:"outcome"`
}

// genericHash returns the first populated generic hash alias
func (p *WebhookPayload) genericHash() string {
	switch {
	case p.Hash != "":
		return p.Hash
	case p.TxHash != "":
		return p.TxHash
	case p.TransactionHash != "":
		return p.TransactionHash
	}
	return ""
}

func (p *WebhookPayload) outcomeHash() string {
	if p.Outcome == nil {
		return ""
	}
	return p.Outcome.Hash
}

// Validate returns the itemized list of payload problems, empty when the
// payload is acceptable. payment_status membership is deliberately not
// enforced: unrecognized statuses pass through (see MapGatewayStatus).
func (p *WebhookPayload) Validate() []string {
	var errs []string

	if p.PaymentID == "" {
		errs = append(errs, "payment_id is required")
	}
	if p.OrderID == "" {
		errs = append(errs, "order_id is required")
	}
	if p.PaymentStatus == "" {
		errs = append(errs, "payment_status is required")
	}

	amounts := []struct {
		name string
		a    Amount
	}{
		{"actually_paid", p.ActuallyPaid},
		{"price_amount", p.PriceAmount},
		{"payout_amount", p.PayoutAmount},
	}
	for _, f := range amounts {
		if !f.a.Present() {
			continue
		}
		if !f.a.Valid() || f.a.Value() < 0 {
			errs = append(errs, fmt.Sprintf("%s must be a non-negative number", f.name))
		}
	}

	return errs
}

// gatewayStatusMap translates the gateway status vocabulary into ours
var gatewayStatusMap = map[string]models.TransactionStatus{
	"finished":       models.TransactionStatusConfirmed,
	"confirmed":      models.TransactionStatusConfirmed,
	"confirming":     models.TransactionStatusConfirming,
	"sending":        models.TransactionStatusConfirming,
	"partially_paid": models.TransactionStatusConfirming,
	"waiting":        models.TransactionStatusPending,
	"failed":         models.TransactionStatusFailed,
	"refunded":       models.TransactionStatusRefunded,
	"expired":        models.TransactionStatusExpired,
}

// MapGatewayStatus maps a gateway status by exact string match. Unrecognized
// values pass through unchanged (favoring availability over strictness); the
// second return reports whether the value was recognized.
func MapGatewayStatus(gatewayStatus string) (models.TransactionStatus, bool) {
	if mapped, ok := gatewayStatusMap[gatewayStatus]; ok {
		return mapped, true
	}
	return models.TransactionStatus(gatewayStatus), false
}

// CapturedHashes is the outcome of hash reconciliation. Source names the
// first extraction rule that matched, for diagnostics.
type CapturedHashes struct {
	PayinHash  string
	PayoutHash string
	TxHash     string
	Source     string
}

type hashRule struct {
	name    string
	extract func(p *WebhookPayload, newStatus models.TransactionStatus) string
}

// The gateway reports hashes under different fields depending on payload
// generation and payment type (direct crypto-to-crypto vs auto-converted
// payout). Each leg resolves through its rule list in order, first match
// wins.
var payinHashRules = []hashRule{
	{"direct_payin_hash", func(p *WebhookPayload, _ models.TransactionStatus) string {
		return p.PayinHash
	}},
	{"typed_payin_hash", func(p *WebhookPayload, _ models.TransactionStatus) string {
		if p.Type == "payin" {
			return p.genericHash()
		}
		return ""
	}},
	{"outcome_hash_confirming", func(p *WebhookPayload, newStatus models.TransactionStatus) string {
		if newStatus == models.TransactionStatusConfirming {
			return p.outcomeHash()
		}
		return ""
	}},
}

var payoutHashRules = []hashRule{
	{"direct_payout_hash", func(p *WebhookPayload, _ models.TransactionStatus) string {
		return p.PayoutHash
	}},
	{"typed_payout_hash", func(p *WebhookPayload, _ models.TransactionStatus) string {
		if p.Type == "payout" {
			return p.genericHash()
		}
		return ""
	}},
	{"outcome_hash_confirmed", func(p *WebhookPayload, newStatus models.TransactionStatus) string {
		if newStatus == models.TransactionStatusConfirmed {
			return p.outcomeHash()
		}
		return ""
	}},
}

func runHashRules(rules []hashRule, p *WebhookPayload, newStatus models.TransactionStatus) (string, string) {
	for _, r := range rules {
		if h := r.extract(p, newStatus); h != "" {
			return h, r.name
		}
	}
	return "", ""
}

// ExtractHashes resolves the payin/payout legs and the canonical tx_hash
// from whichever fields this payload variant populated. outcome.hash always
// wins the canonical slot for backward compatibility with older consumers;
// failing that, a confirmed payment prefers the payout hash and anything
// else falls back to the payin hash.
func ExtractHashes(p *WebhookPayload, newStatus models.TransactionStatus) CapturedHashes {
	var c CapturedHashes

	c.PayinHash, c.Source = runHashRules(payinHashRules, p, newStatus)
	payoutHash, payoutSource := runHashRules(payoutHashRules, p, newStatus)
	c.PayoutHash = payoutHash
	if c.Source == "" {
		c.Source = payoutSource
	}

	if h := p.outcomeHash(); h != "" {
		c.TxHash = h
	} else if newStatus == models.TransactionStatusConfirmed && c.PayoutHash != "" {
		c.TxHash = c.PayoutHash
	} else if c.PayinHash != "" {
		c.TxHash = c.PayinHash
	}

	return c
}
