package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"cryptopay_app/internal/models"
)

func TestIsConfirmationEdge(t *testing.T) {
	tests := []struct {
		name string
		prev models.TransactionStatus
		next models.TransactionStatus
		want bool
	}{
		{"pending to confirmed", models.TransactionStatusPending, models.TransactionStatusConfirmed, true},
		{"confirming to confirmed", models.TransactionStatusConfirming, models.TransactionStatusConfirmed, true},
		{"failed to confirmed", models.TransactionStatusFailed, models.TransactionStatusConfirmed, true},
		{"confirmed redelivery is not an edge", models.TransactionStatusConfirmed, models.TransactionStatusConfirmed, false},
		{"pending to confirming", models.TransactionStatusPending, models.TransactionStatusConfirming, false},
		{"confirmed to refunded", models.TransactionStatusConfirmed, models.TransactionStatusRefunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConfirmationEdge(tt.prev, tt.next); got != tt.want {
				t.Errorf("IsConfirmationEdge(%q, %q) = %v; want %v", tt.prev, tt.next, got, tt.want)
			}
		})
	}
}

func decodePayload(t *testing.T, body string) *WebhookPayload {
	t.Helper()
	var p WebhookPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	return &p
}

func TestBuildTransactionUpdatesConfirmed(t *testing.T) {
	tx := &models.Transaction{
		ID:      "tx-1",
		Status:  models.TransactionStatusConfirming,
		Version: 4,
	}
	p := decodePayload(t, `{
		"payment_id": "5077125051",
		"order_id": "order-1",
		"payment_status": "finished",
		"pay_currency": "btc",
		"actually_paid": 0.0015,
		"price_amount": 0.0015,
		"price_currency": "btc",
		"payout_amount": 98.5,
		"payout_currency": "usdt",
		"payin_hash": "0xaaa",
		"payout_hash": "0xbbb"
	}`)

	newStatus, _ := MapGatewayStatus(p.PaymentStatus)
	hashes := ExtractHashes(p, newStatus)
	updates := BuildTransactionUpdates(tx, p, newStatus, hashes)

	if updates["status"] != models.TransactionStatusConfirmed {
		t.Errorf("status = %v; want confirmed", updates["status"])
	}
	if updates["status_raw"] != "finished" {
		t.Errorf("status_raw = %v; want finished", updates["status_raw"])
	}
	if updates["version"] != 5 {
		t.Errorf("version = %v; want 5", updates["version"])
	}
	if updates["payin_hash"] != "0xaaa" || updates["payout_hash"] != "0xbbb" {
		t.Errorf("hashes = %v / %v; want 0xaaa / 0xbbb", updates["payin_hash"], updates["payout_hash"])
	}
	if updates["tx_hash"] != "0xbbb" {
		t.Errorf("tx_hash = %v; want payout hash 0xbbb", updates["tx_hash"])
	}
	if updates["amount_received"] != 0.0015 {
		t.Errorf("amount_received = %v; want 0.0015", updates["amount_received"])
	}
	if updates["currency_received"] != "BTC" {
		t.Errorf("currency_received = %v; want BTC", updates["currency_received"])
	}
	if updates["merchant_receives"] != 98.5 {
		t.Errorf("merchant_receives = %v; want 98.5", updates["merchant_receives"])
	}
	if updates["payout_currency"] != "USDT" {
		t.Errorf("payout_currency = %v; want USDT", updates["payout_currency"])
	}
	if _, ok := updates["confirmed_at"]; !ok {
		t.Error("confirmed_at not set on first confirmation")
	}
	// paid exactly the quoted price, so there is no fee to record
	if _, ok := updates["gateway_fee"]; ok {
		t.Errorf("gateway_fee = %v; want absent when overpayment is zero", updates["gateway_fee"])
	}
}

func TestBuildTransactionUpdatesGatewayFee(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantFee interface{}
	}{
		{
			name: "overpayment in same currency recorded",
			body: `{"payment_status":"finished","pay_currency":"btc","price_currency":"btc",
				"actually_paid":0.0020,"price_amount":0.0015}`,
			wantFee: 0.0020 - 0.0015,
		},
		{
			name: "different currencies never produce a fee",
			body: `{"payment_status":"finished","pay_currency":"btc","price_currency":"usd",
				"actually_paid":105,"price_amount":100}`,
			wantFee: nil,
		},
		{
			name: "underpayment not recorded",
			body: `{"payment_status":"finished","pay_currency":"btc","price_currency":"btc",
				"actually_paid":0.0010,"price_amount":0.0015}`,
			wantFee: nil,
		},
		{
			name:    "currency casing does not matter",
			body:    `{"payment_status":"finished","pay_currency":"BTC","price_currency":"btc","actually_paid":2,"price_amount":1}`,
			wantFee: float64(1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &models.Transaction{ID: "tx-1", Status: models.TransactionStatusPending}
			p := decodePayload(t, tt.body)
			newStatus, _ := MapGatewayStatus(p.PaymentStatus)
			updates := BuildTransactionUpdates(tx, p, newStatus, CapturedHashes{})

			got, ok := updates["gateway_fee"]
			if tt.wantFee == nil {
				if ok {
					t.Errorf("gateway_fee = %v; want absent", got)
				}
				return
			}
			if !ok || got != tt.wantFee {
				t.Errorf("gateway_fee = %v (present=%v); want %v", got, ok, tt.wantFee)
			}
		})
	}
}

func TestBuildTransactionUpdatesUnknownStatusPassThrough(t *testing.T) {
	tx := &models.Transaction{ID: "tx-1", Status: models.TransactionStatusPending, Version: 1}
	p := decodePayload(t, `{"payment_id":"1","order_id":"o","payment_status":"on_hold"}`)

	newStatus, known := MapGatewayStatus(p.PaymentStatus)
	if known {
		t.Fatal("on_hold should not be a recognized status")
	}
	updates := BuildTransactionUpdates(tx, p, newStatus, CapturedHashes{})

	if updates["status"] != models.TransactionStatus("on_hold") {
		t.Errorf("status = %v; want pass-through on_hold", updates["status"])
	}
	if updates["status_raw"] != "on_hold" {
		t.Errorf("status_raw = %v; want on_hold", updates["status_raw"])
	}
	if _, ok := updates["confirmed_at"]; ok {
		t.Error("confirmed_at must not be set for a non-confirmed status")
	}
}

func TestBuildTransactionUpdatesPreservesConfirmedAt(t *testing.T) {
	confirmed := models.TransactionStatusConfirmed
	existing := time.Now().Add(-time.Hour)
	tx := &models.Transaction{
		ID:          "tx-1",
		Status:      confirmed,
		ConfirmedAt: &existing,
		Version:     7,
	}
	p := decodePayload(t, `{"payment_id":"1","order_id":"o","payment_status":"finished"}`)

	newStatus, _ := MapGatewayStatus(p.PaymentStatus)
	updates := BuildTransactionUpdates(tx, p, newStatus, CapturedHashes{})

	if _, ok := updates["confirmed_at"]; ok {
		t.Error("confirmed_at must not be overwritten on redelivery")
	}
	if updates["version"] != 8 {
		t.Errorf("version = %v; want 8", updates["version"])
	}
}

func TestBuildTransactionUpdatesMergesPaymentData(t *testing.T) {
	tx := &models.Transaction{
		ID:          "tx-1",
		Status:      models.TransactionStatusPending,
		PaymentData: map[string]interface{}{"checkout_source": "hosted"},
	}
	p := decodePayload(t, `{"payment_id":"5077125051","parent_payment_id":"4521903284","purchase_id":"99","order_id":"o","payment_status":"waiting"}`)

	newStatus, _ := MapGatewayStatus(p.PaymentStatus)
	updates := BuildTransactionUpdates(tx, p, newStatus, CapturedHashes{})

	data, ok := updates["payment_data"].(map[string]interface{})
	if !ok {
		t.Fatalf("payment_data has unexpected type %T", updates["payment_data"])
	}
	if data["checkout_source"] != "hosted" {
		t.Error("existing payment_data keys must survive the merge")
	}
	if data["now_webhook_payment_id"] != "5077125051" {
		t.Errorf("now_webhook_payment_id = %v; want 5077125051", data["now_webhook_payment_id"])
	}
	if data["now_parent_payment_id"] != "4521903284" {
		t.Errorf("now_parent_payment_id = %v; want 4521903284", data["now_parent_payment_id"])
	}
	if data["now_purchase_id"] != "99" {
		t.Errorf("now_purchase_id = %v; want 99", data["now_purchase_id"])
	}
}

// newTestReconciler wires a ReconcileService with swapped persistence hooks
// and a no-op backoff so tests drive the retry loop without a database
func newTestReconciler(
	find func(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error),
	update func(ctx context.Context, id string, version int, updates map[string]interface{}) (int64, error),
) *ReconcileService {
	return &ReconcileService{
		backoff:           func(int) time.Duration { return 0 },
		findTransaction:   find,
		updateTransaction: update,
	}
}

func finishedPayload(t *testing.T) *WebhookPayload {
	t.Helper()
	return decodePayload(t, `{"payment_id":"p1","order_id":"o1","payment_status":"finished"}`)
}

func TestApplyConfirmationEdge(t *testing.T) {
	current := models.Transaction{
		ID:                   "tx-1",
		NowPaymentsPaymentID: "p1",
		OrderID:              "o1",
		Status:               models.TransactionStatusConfirming,
		Version:              3,
	}

	s := newTestReconciler(
		func(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error) {
			snapshot := current
			return &snapshot, nil
		},
		func(ctx context.Context, id string, version int, updates map[string]interface{}) (int64, error) {
			if version != current.Version {
				return 0, nil
			}
			current.Version++
			if st, ok := updates["status"].(models.TransactionStatus); ok {
				current.Status = st
			}
			return 1, nil
		},
	)

	res, err := s.Apply(context.Background(), finishedPayload(t))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.PreviousStatus != models.TransactionStatusConfirming {
		t.Errorf("PreviousStatus = %q; want confirming", res.PreviousStatus)
	}
	if res.NewStatus != models.TransactionStatusConfirmed {
		t.Errorf("NewStatus = %q; want confirmed", res.NewStatus)
	}
	if !res.ConfirmedEdge {
		t.Error("ConfirmedEdge = false; want true for confirming -> confirmed")
	}
	if res.Transaction.Version != 4 {
		t.Errorf("Version = %d; want 4", res.Transaction.Version)
	}
}

func TestApplyConflictReloadSuppressesEdge(t *testing.T) {
	// The row a concurrent delivery already confirmed between this
	// delivery's lookup and its first write attempt
	current := models.Transaction{
		ID:                   "tx-1",
		NowPaymentsPaymentID: "p1",
		OrderID:              "o1",
		Status:               models.TransactionStatusConfirmed,
		Version:              4,
	}

	findCalls := 0
	updateCalls := 0

	s := newTestReconciler(
		func(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error) {
			findCalls++
			if findCalls == 1 {
				// Stale snapshot from before the racing delivery landed
				return &models.Transaction{
					ID:                   "tx-1",
					NowPaymentsPaymentID: "p1",
					OrderID:              "o1",
					Status:               models.TransactionStatusConfirming,
					Version:              3,
				}, nil
			}
			snapshot := current
			return &snapshot, nil
		},
		func(ctx context.Context, id string, version int, updates map[string]interface{}) (int64, error) {
			updateCalls++
			if version != current.Version {
				return 0, nil
			}
			current.Version++
			if st, ok := updates["status"].(models.TransactionStatus); ok {
				current.Status = st
			}
			return 1, nil
		},
	)

	res, err := s.Apply(context.Background(), finishedPayload(t))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if updateCalls != 2 {
		t.Errorf("updateCalls = %d; want 2 (conflict then success)", updateCalls)
	}
	if res.PreviousStatus != models.TransactionStatusConfirmed {
		t.Errorf("PreviousStatus = %q; want confirmed from the reloaded row", res.PreviousStatus)
	}
	if res.ConfirmedEdge {
		t.Error("ConfirmedEdge = true; the racing delivery already confirmed, side effects must not re-fire")
	}
	if res.Transaction.Version != 5 {
		t.Errorf("Version = %d; want 5", res.Transaction.Version)
	}
}

func TestApplyExhaustsRetries(t *testing.T) {
	row := models.Transaction{
		ID:                   "tx-1",
		NowPaymentsPaymentID: "p1",
		OrderID:              "o1",
		Status:               models.TransactionStatusPending,
		Version:              1,
	}
	updateCalls := 0

	s := newTestReconciler(
		func(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error) {
			snapshot := row
			return &snapshot, nil
		},
		func(ctx context.Context, id string, version int, updates map[string]interface{}) (int64, error) {
			updateCalls++
			return 0, errors.New("connection reset")
		},
	)

	_, err := s.Apply(context.Background(), finishedPayload(t))
	if err == nil {
		t.Fatal("Apply should fail once every attempt errors")
	}
	if updateCalls != 3 {
		t.Errorf("updateCalls = %d; want 3", updateCalls)
	}
}

func TestLookupTransactionFallbacks(t *testing.T) {
	parentRow := &models.Transaction{ID: "tx-parent", NowPaymentsPaymentID: "p0"}
	orderRow := &models.Transaction{ID: "tx-order", OrderID: "o1"}

	tests := []struct {
		name    string
		body    string
		find    func(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error)
		wantID  string
		wantErr error
	}{
		{
			name: "parent payment id resolves the original row",
			body: `{"payment_id":"p1","parent_payment_id":"p0","order_id":"o1","payment_status":"finished"}`,
			find: func(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error) {
				if query == "now_payments_payment_id = ?" && args[0] == "p0" {
					snapshot := *parentRow
					return &snapshot, nil
				}
				return nil, gorm.ErrRecordNotFound
			},
			wantID: "tx-parent",
		},
		{
			name: "order id is the last fallback",
			body: `{"payment_id":"p1","order_id":"o1","payment_status":"finished"}`,
			find: func(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error) {
				if query == "order_id = ?" && args[0] == "o1" {
					snapshot := *orderRow
					return &snapshot, nil
				}
				return nil, gorm.ErrRecordNotFound
			},
			wantID: "tx-order",
		},
		{
			name: "all fallbacks exhausted",
			body: `{"payment_id":"p1","parent_payment_id":"p0","order_id":"o1","payment_status":"finished"}`,
			find: func(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error) {
				return nil, gorm.ErrRecordNotFound
			},
			wantErr: ErrTransactionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestReconciler(tt.find, nil)
			tx, err := s.LookupTransaction(context.Background(), decodePayload(t, tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("LookupTransaction error = %v; want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LookupTransaction failed: %v", err)
			}
			if tx.ID != tt.wantID {
				t.Errorf("resolved transaction %q; want %q", tx.ID, tt.wantID)
			}
		})
	}
}
