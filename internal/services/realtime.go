package services

import (
	"context"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"cryptopay_app/internal/models"
)

// InitFirebase initializes the Firebase Admin SDK and returns a Realtime
// Database client for payment-status broadcasts
func InitFirebase(credPath, databaseURL string) (*db.Client, error) {
	opt := option.WithCredentialsFile(credPath)
	app, err := firebase.NewApp(context.Background(), &firebase.Config{DatabaseURL: databaseURL}, opt)
	if err != nil {
		return nil, err
	}
	return app.Database(context.Background())
}

// RealtimeService pushes payment updates to a per-payment channel so hosted
// checkout pages can react without polling. Strictly supplementary: callers
// treat broadcast failures as log-and-continue.
type RealtimeService struct {
	client *db.Client
}

func NewRealtimeService(client *db.Client) *RealtimeService {
	return &RealtimeService{client: client}
}

// BroadcastPaymentUpdate writes the latest status and hash/amount fields to
// the payments/<id> ref
func (s *RealtimeService) BroadcastPaymentUpdate(ctx context.Context, tx *models.Transaction) error {
	if s == nil || s.client == nil {
		return nil
	}

	payload := map[string]interface{}{
		"status":     string(tx.Status),
		"order_id":   tx.OrderID,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	if tx.TxHash != "" {
		payload["tx_hash"] = tx.TxHash
	}
	if tx.PayinHash != "" {
		payload["payin_hash"] = tx.PayinHash
	}
	if tx.PayoutHash != "" {
		payload["payout_hash"] = tx.PayoutHash
	}
	if tx.AmountReceived != nil {
		payload["amount_received"] = *tx.AmountReceived
		payload["currency_received"] = tx.CurrencyReceived
	}

	ref := s.client.NewRef("payments/" + tx.ID)
	return ref.Set(ctx, payload)
}
