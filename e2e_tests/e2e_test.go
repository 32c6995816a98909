// Package e2etests exercises a running API instance (see docker-compose /
// local setup). These tests are skipped unless the server answers on baseURL.
package e2etests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"
)

const (
	baseURL = "http://localhost:8080"
	timeout = 5 * time.Second
)

var httpClient = &http.Client{Timeout: timeout}

func requireServer(t *testing.T) {
	t.Helper()

	resp, err := httpClient.Get(baseURL + "/healthz")
	if err != nil {
		t.Skipf("api not running at %s: %v", baseURL, err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Skipf("api not healthy: %d", resp.StatusCode)
	}
}

func uniqUser(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func postJSON(t *testing.T, path string, payload any) (int, []byte) {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	resp, err := httpClient.Post(baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	return resp.StatusCode, data
}

func getBalance(t *testing.T, userID string) int64 {
	t.Helper()

	resp, err := httpClient.Get(fmt.Sprintf("%s/user/%s/balance", baseURL, userID))
	if err != nil {
		t.Fatalf("GET balance: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET balance: status %d", resp.StatusCode)
	}

	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode balance: %v", err)
	}

	return out.Balance
}

func TestE2E_CreditCheckoutFlow(t *testing.T) {
	requireServer(t)

	userID := uniqUser("e2e-user")

	t.Run("fresh_user_has_zero_balance", func(t *testing.T) {
		if got := getBalance(t, userID); got != 0 {
			t.Fatalf("initial balance: want 0, got %d", got)
		}
	})

	t.Run("grant_credits", func(t *testing.T) {
		code, body := postJSON(t, fmt.Sprintf("/user/%s/credits", userID), map[string]any{
			"delta":  10,
			"reason": "grant",
		})
		if code != http.StatusOK {
			t.Fatalf("grant: want 200, got %d (%s)", code, body)
		}
		if got := getBalance(t, userID); got != 10 {
			t.Fatalf("after grant: want 10, got %d", got)
		}
	})

	var orderID string

	t.Run("create_credit_order_deducts", func(t *testing.T) {
		code, body := postJSON(t, fmt.Sprintf("/user/%s/orders", userID), map[string]any{
			"creditsUsed": 3,
		})
		if code != http.StatusCreated {
			t.Fatalf("create order: want 201, got %d (%s)", code, body)
		}

		var o struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &o); err != nil {
			t.Fatalf("decode order: %v", err)
		}
		if o.Status != "processing" {
			t.Fatalf("order status: want processing, got %s", o.Status)
		}

		orderID = o.ID

		if got := getBalance(t, userID); got != 7 {
			t.Fatalf("after order: want 7, got %d", got)
		}
	})

	t.Run("oversized_order_rejected", func(t *testing.T) {
		code, body := postJSON(t, fmt.Sprintf("/user/%s/orders", userID), map[string]any{
			"creditsUsed": 100,
		})
		if code != http.StatusPaymentRequired {
			t.Fatalf("oversized order: want 402, got %d (%s)", code, body)
		}
		if got := getBalance(t, userID); got != 7 {
			t.Fatalf("balance must be unchanged: want 7, got %d", got)
		}
	})

	t.Run("complete_is_idempotent", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			code, body := postJSON(t, fmt.Sprintf("/orders/%s/complete", orderID), map[string]any{})
			if code != http.StatusOK {
				t.Fatalf("complete #%d: want 200, got %d (%s)", i+1, code, body)
			}
		}
		if got := getBalance(t, userID); got != 7 {
			t.Fatalf("after double complete: want 7, got %d", got)
		}
	})

	t.Run("cancel_refunds", func(t *testing.T) {
		code, body := postJSON(t, fmt.Sprintf("/user/%s/orders", userID), map[string]any{
			"creditsUsed": 7,
		})
		if code != http.StatusCreated {
			t.Fatalf("create order: want 201, got %d (%s)", code, body)
		}

		var o struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &o); err != nil {
			t.Fatalf("decode order: %v", err)
		}

		code, body = postJSON(t, fmt.Sprintf("/orders/%s/cancel", o.ID), map[string]any{})
		if code != http.StatusOK {
			t.Fatalf("cancel: want 200, got %d (%s)", code, body)
		}

		if got := getBalance(t, userID); got != 7 {
			t.Fatalf("after cancel refund: want 7, got %d", got)
		}

		// Cancelled is terminal; completing it must conflict.
		code, body = postJSON(t, fmt.Sprintf("/orders/%s/complete", o.ID), map[string]any{})
		if code != http.StatusConflict {
			t.Fatalf("complete cancelled: want 409, got %d (%s)", code, body)
		}
	})
}

func TestE2E_Validation(t *testing.T) {
	requireServer(t)

	userID := uniqUser("e2e-val")

	code, body := postJSON(t, fmt.Sprintf("/user/%s/orders", userID), map[string]any{})
	if code != http.StatusBadRequest {
		t.Fatalf("unfunded order: want 400, got %d (%s)", code, body)
	}

	code, body = postJSON(t, fmt.Sprintf("/user/%s/credits", userID), map[string]any{
		"delta":  0,
		"reason": "grant",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("zero delta: want 400, got %d (%s)", code, body)
	}

	code, body = postJSON(t, fmt.Sprintf("/user/%s/credits", userID), map[string]any{
		"delta":  -5,
		"reason": "deduction",
	})
	if code != http.StatusPaymentRequired {
		t.Fatalf("deduct from empty account: want 402, got %d (%s)", code, body)
	}
}
