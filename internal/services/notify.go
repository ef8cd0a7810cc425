package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cryptopay_app/internal/models"
)

// MerchantNotifier forwards confirmation events to the merchant's own
// webhook endpoint. Deliveries are fire-and-forget: the caller never waits
// on the merchant's server to answer a customer-facing request.
type MerchantNotifier struct {
	signingSecret string
	client        *http.Client
}

func NewMerchantNotifier() *MerchantNotifier {
	return &MerchantNotifier{
		signingSecret: os.Getenv("MERCHANT_WEBHOOK_SECRET"),
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// NormalizeWebhookURL validates and canonicalizes a merchant-supplied
// webhook URL. Scheme-less input gets https; anything that is not http(s)
// or lacks a host is rejected.
func NormalizeWebhookURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("webhook url is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported webhook url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("webhook url has no host")
	}
	return u.String(), nil
}

// NotifyPaymentConfirmed posts the confirmation event to the merchant
// endpoint, signing the body when a signing secret is configured
func (n *MerchantNotifier) NotifyPaymentConfirmed(ctx context.Context, endpoint string, tx *models.Transaction) error {
	target, err := NormalizeWebhookURL(endpoint)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"event":          "payment.confirmed",
		"transaction_id": tx.ID,
		"order_id":       tx.OrderID,
		"status":         string(tx.Status),
		"tx_hash":        tx.TxHash,
	}
	if tx.AmountReceived != nil {
		payload["amount_received"] = *tx.AmountReceived
		payload["currency_received"] = tx.CurrencyReceived
	}
	if tx.MerchantReceives != nil {
		payload["merchant_receives"] = *tx.MerchantReceives
		payload["payout_currency"] = tx.PayoutCurrency
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.signingSecret != "" {
		mac := hmac.New(sha512.New, []byte(n.signingSecret))
		mac.Write(data)
		req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("merchant endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
