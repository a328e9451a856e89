// Package settle converts an authorized spend into an external mobile-money
// payout and tracks its lifecycle, refunding the budget ledger whenever
// dispatch fails after the deduct has committed.
package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// PayoutResult is the disbursement channel's acceptance of a payout.
type PayoutResult struct {
	ExternalCode string `json:"external_code"`
	Status       string `json:"status"`
}

// PayoutChannel disburses local currency to a merchant's mobile-money
// identifier. Implementations may fail on network or validation errors; a
// timeout is a failure, never a success.
type PayoutChannel interface {
	Payout(ctx context.Context, payoutMSISDN string, localAmount int64, correlationToken string) (*PayoutResult, error)
}

// HTTPChannel calls a real disbursement provider. The base URL comes from
// config; nothing is hardcoded.
type HTTPChannel struct {
	baseURL string
	client  *http.Client
}

func NewHTTPChannel(baseURL string, timeout time.Duration) *HTTPChannel {
	return &HTTPChannel{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPChannel) Payout(ctx context.Context, payoutMSISDN string, localAmount int64, correlationToken string) (*PayoutResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"msisdn":    payoutMSISDN,
		"amount":    localAmount,
		"reference": correlationToken,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/disbursements", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("payout rejected: status %d: %s", resp.StatusCode, b)
	}

	var result PayoutResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("payout response decode failed: %w", err)
	}
	if result.ExternalCode == "" {
		return nil, fmt.Errorf("payout response missing external code")
	}
	return &result, nil
}

// SimulatedChannel accepts every payout. Used when no provider endpoint is
// configured (demo/development).
type SimulatedChannel struct{}

func (SimulatedChannel) Payout(ctx context.Context, payoutMSISDN string, localAmount int64, correlationToken string) (*PayoutResult, error) {
	return &PayoutResult{ExternalCode: "MM-" + uuid.NewString(), Status: "accepted"}, nil
}
