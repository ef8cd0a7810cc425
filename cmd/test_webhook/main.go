package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"cryptopay_app/internal/services"
)

// Sends a signed test callback against a running server, useful for
// exercising the webhook pipeline without the real gateway.
func main() {
	target := flag.String("url", "http://localhost:8080/webhooks/nowpayments", "Webhook endpoint URL")
	paymentID := flag.String("payment_id", "", "Gateway payment id (mandatory)")
	orderID := flag.String("order_id", "", "Order id (optional)")
	status := flag.String("status", "finished", "Payment status to report")
	hash := flag.String("payin_hash", "", "Payin transaction hash (optional)")
	flag.Parse()

	if *paymentID == "" {
		log.Fatal("Please provide a payment id using -payment_id flag")
	}

	// Load envs
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found")
	}

	secret := os.Getenv("NOWPAYMENTS_IPN_SECRET")
	if secret == "" {
		log.Fatal("NOWPAYMENTS_IPN_SECRET is not set")
	}

	payload := map[string]interface{}{
		"payment_id":     *paymentID,
		"payment_status": *status,
		"price_amount":   1.0,
		"price_currency": "usd",
	}
	if *orderID != "" {
		payload["order_id"] = *orderID
	}
	if *hash != "" {
		payload["payin_hash"] = *hash
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("Failed to marshal payload: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, *target, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-nowpayments-sig", services.SignWebhookBody(body, secret))

	log.Printf("Sending %s callback for payment %s to %s", *status, *paymentID, *target)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	log.Printf("Response %d: %s", resp.StatusCode, string(respBody))
}
