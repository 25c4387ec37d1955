package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient talks JSON to a payment gateway adapter. The attempt id travels
// as the Idempotency-Key header so gateway-side retries dedupe.
type HTTPClient struct {
	BaseURL string
	HC      *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{BaseURL: baseURL, HC: &http.Client{Timeout: timeout}}
}

type chargeReq struct {
	AttemptID    string `json:"attempt_id"`
	AmountCents  int    `json:"amount_cents"`
	PaymentToken string `json:"payment_token,omitempty"`
}

type chargeResp struct {
	PaymentID string `json:"payment_id"`
	Error     string `json:"error,omitempty"`
}

func (c *HTTPClient) Charge(ctx context.Context, attemptID string, amountCents int, paymentToken string) (string, error) {
	body, _ := json.Marshal(chargeReq{AttemptID: attemptID, AmountCents: amountCents, PaymentToken: paymentToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", attemptID)

	resp, err := c.HC.Do(req)
	if err != nil {
		return "", fmt.Errorf("charge: %w", err)
	}
	defer resp.Body.Close()

	var out chargeResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("charge: decode: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return out.PaymentID, nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%s: %w", out.Error, ErrDeclined)
	default:
		return "", fmt.Errorf("charge: status %d %s: %w", resp.StatusCode, out.Error, ErrUnavailable)
	}
}

type refundReq struct {
	PaymentID string `json:"payment_id"`
}

func (c *HTTPClient) Refund(ctx context.Context, paymentID string) error {
	body, _ := json.Marshal(refundReq{PaymentID: paymentID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/refunds", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", paymentID)

	resp, err := c.HC.Do(req)
	if err != nil {
		return fmt.Errorf("refund: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("refund: status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	return nil
}
