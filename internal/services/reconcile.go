package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"cryptopay_app/internal/models"
)

// ErrTransactionNotFound is returned when every lookup fallback is exhausted
var ErrTransactionNotFound = errors.New("transaction not found")

const persistMaxAttempts = 3

// ReconcileService applies gateway webhook deliveries to transaction records:
// it resolves the record the delivery belongs to, computes the implied state
// transition, persists it with optimistic-lock retry, and fans out the
// best-effort notifications.
type ReconcileService struct {
	db       *gorm.DB
	email    *EmailService
	realtime *RealtimeService
	notifier *MerchantNotifier

	// backoff is overridable so tests don't sleep for real
	backoff func(attempt int) time.Duration

	// persistence hooks default to gorm and are swappable in tests,
	// same as backoff
	findTransaction   func(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error)
	updateTransaction func(ctx context.Context, id string, version int, updates map[string]interface{}) (int64, error)
}

func NewReconcileService(db *gorm.DB, email *EmailService, realtime *RealtimeService, notifier *MerchantNotifier) *ReconcileService {
	s := &ReconcileService{
		db:       db,
		email:    email,
		realtime: realtime,
		notifier: notifier,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second // 1s, 2s, 4s
		},
	}
	s.findTransaction = func(ctx context.Context, query string, args ...interface{}) (*models.Transaction, error) {
		var tx models.Transaction
		if err := s.db.WithContext(ctx).Where(query, args...).First(&tx).Error; err != nil {
			return nil, err
		}
		return &tx, nil
	}
	s.updateTransaction = func(ctx context.Context, id string, version int, updates map[string]interface{}) (int64, error) {
		res := s.db.WithContext(ctx).Model(&models.Transaction{}).
			Where("id = ? AND version = ?", id, version).
			Updates(updates)
		return res.RowsAffected, res.Error
	}
	return s
}

// ReconcileResult describes what a processed delivery did
type ReconcileResult struct {
	Transaction    *models.Transaction
	PreviousStatus models.TransactionStatus
	NewStatus      models.TransactionStatus
	StatusKnown    bool
	Hashes         CapturedHashes
	ConfirmedEdge  bool
}

// IsConfirmationEdge reports a strict transition into confirmed. A delivery
// that re-reports an already-confirmed payment is not an edge and must not
// re-trigger confirmation side effects.
func IsConfirmationEdge(prev, next models.TransactionStatus) bool {
	return next == models.TransactionStatusConfirmed && prev != models.TransactionStatusConfirmed
}

// LookupTransaction resolves the transaction a webhook belongs to, trying in
// order: the gateway payment id, the parent payment id (currency-swap flows
// produce a new gateway payment linked to the original), then the merchant
// order id.
func (s *ReconcileService) LookupTransaction(ctx context.Context, p *WebhookPayload) (*models.Transaction, error) {
	tx, err := s.findTransaction(ctx, "now_payments_payment_id = ?", p.PaymentID.String())
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if p.ParentPaymentID != "" {
		tx, err = s.findTransaction(ctx, "now_payments_payment_id = ?", p.ParentPaymentID.String())
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	tx, err = s.findTransaction(ctx, "order_id = ?", p.OrderID.String())
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return nil, ErrTransactionNotFound
}

// BuildTransactionUpdates computes the column updates a delivery implies for
// the given transaction snapshot. Hash and amount fields are only ever set,
// never cleared, so a re-delivered or stale payload cannot regress a
// confirmed record.
func BuildTransactionUpdates(tx *models.Transaction, p *WebhookPayload, newStatus models.TransactionStatus, hashes CapturedHashes) map[string]interface{} {
	updates := map[string]interface{}{
		"status":     newStatus,
		"status_raw": p.PaymentStatus,
		"version":    tx.Version + 1,
	}

	if hashes.PayinHash != "" {
		updates["payin_hash"] = hashes.PayinHash
	}
	if hashes.PayoutHash != "" {
		updates["payout_hash"] = hashes.PayoutHash
	}
	if hashes.TxHash != "" {
		updates["tx_hash"] = hashes.TxHash
	}

	if newStatus == models.TransactionStatusConfirmed {
		if p.ActuallyPaid.Present() && p.ActuallyPaid.Valid() {
			updates["amount_received"] = p.ActuallyPaid.Value()
			if p.PayCurrency != "" {
				updates["currency_received"] = strings.ToUpper(p.PayCurrency)
			}
		}
		if tx.ConfirmedAt == nil {
			updates["confirmed_at"] = time.Now()
		}
	}

	if p.PayoutAmount.Present() && p.PayoutAmount.Valid() && p.PayoutCurrency != "" {
		updates["merchant_receives"] = p.PayoutAmount.Value()
		updates["payout_currency"] = strings.ToUpper(p.PayoutCurrency)
	}

	// Gateway fee is only computable when no conversion occurred
	if p.ActuallyPaid.Present() && p.ActuallyPaid.Valid() &&
		p.PriceAmount.Present() && p.PriceAmount.Valid() &&
		p.PayCurrency != "" && strings.EqualFold(p.PayCurrency, p.PriceCurrency) {
		fee := p.ActuallyPaid.Value() - p.PriceAmount.Value()
		if fee > 0 {
			updates["gateway_fee"] = fee
		}
	}

	extra := map[string]interface{}{
		"now_webhook_payment_id": p.PaymentID.String(),
	}
	if p.ParentPaymentID != "" {
		extra["now_parent_payment_id"] = p.ParentPaymentID.String()
	}
	if p.PurchaseID != "" {
		extra["now_purchase_id"] = p.PurchaseID.String()
	}
	tx.MergePaymentData(extra)
	updates["payment_data"] = tx.PaymentData

	return updates
}

// Apply reconciles one validated webhook delivery. On success the returned
// result carries the refreshed transaction and whether this delivery was the
// confirmation edge. Persistence failures are retried with exponential
// backoff; exhausting the retries returns an error and no notifications are
// sent.
func (s *ReconcileService) Apply(ctx context.Context, p *WebhookPayload) (*ReconcileResult, error) {
	tx, err := s.LookupTransaction(ctx, p)
	if err != nil {
		return nil, err
	}

	newStatus, known := MapGatewayStatus(p.PaymentStatus)
	if !known {
		log.Printf("Unrecognized gateway status %q for payment %s, passing through", p.PaymentStatus, p.PaymentID)
	}

	prevStatus := tx.Status
	hashes := ExtractHashes(p, newStatus)

	var lastErr error
	persisted := false
	for attempt := 0; attempt < persistMaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.backoff(attempt - 1))
		}

		updates := BuildTransactionUpdates(tx, p, newStatus, hashes)
		rows, err := s.updateTransaction(ctx, tx.ID, tx.Version, updates)
		if err != nil {
			lastErr = err
			log.Printf("Transaction update attempt %d failed for %s: %v", attempt+1, tx.ID, err)
			continue
		}
		if rows == 0 {
			// A concurrent delivery won the version race; reload and recompute.
			// The reloaded status becomes the previous status for the edge
			// check, so a confirmation applied by the racing delivery does
			// not fan out twice.
			lastErr = fmt.Errorf("write conflict on transaction %s (version %d)", tx.ID, tx.Version)
			log.Printf("Transaction update attempt %d conflicted for %s, reloading", attempt+1, tx.ID)
			fresh, err := s.findTransaction(ctx, "id = ?", tx.ID)
			if err != nil {
				lastErr = err
				continue
			}
			tx = fresh
			prevStatus = fresh.Status
			continue
		}
		persisted = true
		break
	}
	if !persisted {
		return nil, fmt.Errorf("failed to persist webhook update for payment %s: %w", p.PaymentID, lastErr)
	}

	updated, err := s.findTransaction(ctx, "id = ?", tx.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload transaction %s: %w", tx.ID, err)
	}

	result := &ReconcileResult{
		Transaction:    updated,
		PreviousStatus: prevStatus,
		NewStatus:      newStatus,
		StatusKnown:    known,
		Hashes:         hashes,
		ConfirmedEdge:  IsConfirmationEdge(prevStatus, newStatus),
	}

	s.fanOut(ctx, result)

	return result, nil
}

// fanOut delivers the post-persistence notifications. Every branch is
// independently best-effort: failures are logged and never bubble up to the
// webhook response, which already reflects successful persistence.
func (s *ReconcileService) fanOut(ctx context.Context, res *ReconcileResult) {
	tx := res.Transaction

	if err := s.realtime.BroadcastPaymentUpdate(ctx, tx); err != nil {
		log.Printf("Realtime broadcast failed for transaction %s: %v", tx.ID, err)
	}

	if !res.ConfirmedEdge || tx.PaymentLinkID == nil {
		return
	}

	var link models.PaymentLink
	if err := s.db.WithContext(ctx).First(&link, *tx.PaymentLinkID).Error; err != nil {
		log.Printf("Failed to load payment link %d for transaction %s: %v", *tx.PaymentLinkID, tx.ID, err)
		return
	}

	if err := s.db.WithContext(ctx).Model(&link).
		UpdateColumn("received_count", gorm.Expr("received_count + 1")).Error; err != nil {
		log.Printf("Failed to bump received count for link %d: %v", link.ID, err)
	}

	if email := link.CustomerEmail(); email != "" && !link.ReceiptsDisabled() && s.email != nil {
		if err := s.email.SendReceipt(email, tx); err != nil {
			log.Printf("Receipt email failed for transaction %s: %v", tx.ID, err)
		}
	}

	if link.MerchantWebhookURL != "" && s.notifier != nil {
		// Fire and forget; the merchant's server must not delay the response
		go func(endpoint string, snapshot models.Transaction) {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.notifier.NotifyPaymentConfirmed(nctx, endpoint, &snapshot); err != nil {
				log.Printf("Merchant notification failed for transaction %s: %v", snapshot.ID, err)
			}
		}(link.MerchantWebhookURL, *tx)
	}

	if link.SubscriptionID != nil {
		s.maybeResumeSubscription(ctx, *link.SubscriptionID)
	}
}

// maybeResumeSubscription reactivates a paused subscription with auto-resume
// enabled once one of its invoices is confirmed
func (s *ReconcileService) maybeResumeSubscription(ctx context.Context, subscriptionID uint) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).First(&sub, subscriptionID).Error; err != nil {
		log.Printf("Failed to load subscription %d: %v", subscriptionID, err)
		return
	}
	if sub.Status != models.SubscriptionStatusPaused || !sub.AutoResume {
		return
	}
	if err := s.db.WithContext(ctx).Model(&sub).
		Update("status", models.SubscriptionStatusActive).Error; err != nil {
		log.Printf("Failed to resume subscription %d: %v", subscriptionID, err)
		return
	}
	log.Printf("Subscription %d auto-resumed after confirmed payment", subscriptionID)
}
