package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const DefaultStripeAPIURL = "https://api.stripe.com"

var _ Provider = (*StripeClient)(nil)

// StripeClient reads payment-intent state from the Stripe API. Only the
// retrieve call is needed here; checkout-session creation lives with the
// storefront glue, which hands us the intent id as the order's payment_ref.
type StripeClient struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
}

func NewStripeClient(baseURL, secretKey string, timeout time.Duration) *StripeClient {
	if baseURL == "" {
		baseURL = DefaultStripeAPIURL
	}

	return &StripeClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		secretKey:  secretKey,
	}
}

type stripeIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *StripeClient) GetPaymentStatus(ctx context.Context, ref string) (PaymentStatus, error) {
	url := fmt.Sprintf("%s/v1/payment_intents/%s", c.baseURL, ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("get payment intent %s: %w", ref, ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return PaymentStatus{}, fmt.Errorf("payment intent %s: %w", ref, ErrPaymentNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return PaymentStatus{}, fmt.Errorf("stripe returned %d: %w", resp.StatusCode, ErrProviderUnavailable)
	default:
		return PaymentStatus{}, fmt.Errorf("stripe returned %d for intent %s", resp.StatusCode, ref)
	}

	var intent stripeIntent

	err = json.NewDecoder(resp.Body).Decode(&intent)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("decode payment intent: %w", err)
	}

	return PaymentStatus{State: mapStripeStatus(intent.Status), EventID: intent.ID}, nil
}

// mapStripeStatus collapses Stripe's intent statuses into the three states
// reconciliation cares about. Anything requiring further customer action may
// still resolve, so it stays pending.
func mapStripeStatus(status string) State {
	switch status {
	case "succeeded":
		return StateSucceeded
	case "canceled":
		return StateFailed
	default:
		// processing, requires_payment_method, requires_confirmation,
		// requires_action, requires_capture
		return StatePending
	}
}
