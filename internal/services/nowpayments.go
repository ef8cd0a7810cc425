package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	nowPaymentsDefaultBaseURL = "https://api.nowpayments.io/v1"

	currenciesCacheKey = "nowpayments:currencies"
	currenciesCacheTTL = 10 * time.Minute
	estimateCacheTTL   = time.Minute
)

// NowPaymentsError carries the upstream HTTP status and response body when
// the gateway rejects a call
type NowPaymentsError struct {
	StatusCode int
	Body       string
}

func (e *NowPaymentsError) Error() string {
	return fmt.Sprintf("nowpayments request failed with status %d: %s", e.StatusCode, e.Body)
}

// NowPaymentsService wraps the NOWPayments REST API. Slow-changing responses
// (currency list, estimates) read through the shared cache to stay inside the
// upstream rate limits.
type NowPaymentsService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cache   *TieredCache
}

func NewNowPaymentsService(cache *TieredCache) *NowPaymentsService {
	baseURL := os.Getenv("NOWPAYMENTS_BASE_URL")
	if baseURL == "" {
		baseURL = nowPaymentsDefaultBaseURL
	}
	return &NowPaymentsService{
		baseURL: baseURL,
		apiKey:  os.Getenv("NOWPAYMENTS_API_KEY"),
		client:  &http.Client{Timeout: 15 * time.Second},
		cache:   cache,
	}
}

// CreatePaymentRequest is the outbound payment-creation payload
type CreatePaymentRequest struct {
	PriceAmount      float64 `json:"price_amount"`
	PriceCurrency    string  `json:"price_currency"`
	PayCurrency      string  `json:"pay_currency"`
	OrderID          string  `json:"order_id"`
	OrderDescription string  `json:"order_description,omitempty"`
	IpnCallbackURL   string  `json:"ipn_callback_url,omitempty"`
}

// CreatePaymentResponse mirrors the gateway's payment-creation response.
// payment_id and purchase_id arrive as JSON numbers.
type CreatePaymentResponse struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	PayAddress    string      `json:"pay_address"`
	PayinExtraID  string      `json:"payin_extra_id"`
	PriceAmount   float64     `json:"price_amount"`
	PriceCurrency string      `json:"price_currency"`
	PayAmount     float64     `json:"pay_amount"`
	PayCurrency   string      `json:"pay_currency"`
	OrderID       string      `json:"order_id"`
	PurchaseID    json.Number `json:"purchase_id"`
	ExpirationAt  string      `json:"expiration_estimate_date"`
}

func (s *NowPaymentsService) makeRequest(ctx context.Context, method, endpoint string, payload interface{}, dest interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &NowPaymentsError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// CreatePayment creates a payment attempt at the gateway
func (s *NowPaymentsService) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CreatePaymentResponse, error) {
	var resp CreatePaymentResponse
	if err := s.makeRequest(ctx, http.MethodPost, "/payment", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AvailableCurrencies returns the supported currency tickers, served from
// cache unless forceRefresh is set
func (s *NowPaymentsService) AvailableCurrencies(ctx context.Context, forceRefresh bool) ([]string, error) {
	opts := CacheOptions{TTL: currenciesCacheTTL, ForceRefresh: forceRefresh}
	return GetOrSet(s.cache, ctx, currenciesCacheKey, opts, func() ([]string, error) {
		var resp struct {
			Currencies []string `json:"currencies"`
		}
		if err := s.makeRequest(ctx, http.MethodGet, "/currencies", nil, &resp); err != nil {
			return nil, err
		}
		return resp.Currencies, nil
	})
}

// GetEstimate returns the estimated amount of `to` currency for the given
// `from` amount, cached briefly per currency pair
func (s *NowPaymentsService) GetEstimate(ctx context.Context, from, to string, amount float64) (float64, error) {
	from = strings.ToLower(from)
	to = strings.ToLower(to)
	key := fmt.Sprintf("nowpayments:estimate:%s:%s:%v", from, to, amount)

	opts := CacheOptions{TTL: estimateCacheTTL}
	return GetOrSet(s.cache, ctx, key, opts, func() (float64, error) {
		endpoint := fmt.Sprintf("/estimate?amount=%v&currency_from=%s&currency_to=%s",
			amount, url.QueryEscape(from), url.QueryEscape(to))
		var resp struct {
			EstimatedAmount float64 `json:"estimated_amount"`
		}
		if err := s.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
			return 0, err
		}
		return resp.EstimatedAmount, nil
	})
}

// PaymentStatus fetches the current gateway-side status payload for a payment
func (s *NowPaymentsService) PaymentStatus(ctx context.Context, paymentID string) (map[string]interface{}, error) {
	var resp map[string]interface{}
	if err := s.makeRequest(ctx, http.MethodGet, "/payment/"+url.PathEscape(paymentID), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
