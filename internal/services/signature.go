package services

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignWebhookBody computes the hex HMAC-SHA512 of a raw webhook body
func SignWebhookBody(rawBody []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks the gateway signature header against the
// HMAC of the raw body. Comparison is constant time.
func VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected := SignWebhookBody(rawBody, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
